// Package tui 终端界面：余额、订单簿、relay 列表，以及挂单/吃单/增删 relay 操作。
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ledger"
	"github.com/granola/granola/internal/relay"
)

var log = logrus.WithField("component", "tui")

// actionTimeout 单次挂单/吃单/刷新的上限
const actionTimeout = 15 * time.Second

// OrderBook 界面使用的订单簿（*orderstore.Store）
type OrderBook interface {
	Orders() []domain.Order
	IsOwn(id string) bool
	Balances() []ledger.Balance
	Changes() (<-chan struct{}, func())
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	TakeOrder(ctx context.Context, id string) (domain.Order, error)
	Refresh(ctx context.Context) error
}

// Relays 界面使用的 relay 管理（*relay.Manager）
type Relays interface {
	Endpoints() []relay.EndpointState
	AddEndpoint(url string) error
	RemoveEndpoint(url string) bool
	Changes() (<-chan struct{}, func())
}

type focusArea int

const (
	focusOrders focusArea = iota
	focusRelays
)

type mode int

const (
	modeBrowse mode = iota
	modeOrderForm
	modeRelayInput
)

type snapshot struct {
	orders   []domain.Order
	own      map[string]bool
	balances []ledger.Balance
	relays   []relay.EndpointState
}

// changedMsg 订阅的 channel 收到信号；处理后继续等待同一个 channel
type changedMsg struct {
	ch <-chan struct{}
}

type tickMsg time.Time

type takeResultMsg struct {
	id    string
	order domain.Order
	err   error
}

type createResultMsg struct {
	order domain.Order
	err   error
}

type refreshResultMsg struct {
	err error
}

type model struct {
	ctx    context.Context
	book   OrderBook
	relays Relays
	subs   []<-chan struct{}

	snap        snapshot
	focus       focusArea
	orderCursor int
	relayCursor int
	mode        mode
	form        orderForm
	relayInput  string
	taking      map[string]bool

	status string
	errMsg string
	now    time.Time
	width  int
	height int
}

func newModel(ctx context.Context, book OrderBook, relays Relays, subs ...<-chan struct{}) model {
	m := model{
		ctx:    ctx,
		book:   book,
		relays: relays,
		subs:   subs,
		form:   newOrderForm(),
		taking: make(map[string]bool),
		now:    time.Now(),
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.tick()}
	for _, ch := range m.subs {
		cmds = append(cmds, waitFor(ch))
	}
	return tea.Batch(cmds...)
}

func waitFor(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{ch: ch}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh 重新读取订单簿和 relay 状态，并把光标夹在范围内
func (m *model) refresh() {
	orders := m.book.Orders()
	own := make(map[string]bool, len(orders))
	for _, o := range orders {
		if m.book.IsOwn(o.ID) {
			own[o.ID] = true
		}
	}
	m.snap = snapshot{
		orders:   orders,
		own:      own,
		balances: m.book.Balances(),
		relays:   m.relays.Endpoints(),
	}
	m.orderCursor = clamp(m.orderCursor, len(m.snap.orders))
	m.relayCursor = clamp(m.relayCursor, len(m.snap.relays))
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (m model) selectedOrder() (domain.Order, bool) {
	if len(m.snap.orders) == 0 {
		return domain.Order{}, false
	}
	return m.snap.orders[m.orderCursor], true
}

func (m model) selectedRelay() (relay.EndpointState, bool) {
	if len(m.snap.relays) == 0 {
		return relay.EndpointState{}, false
	}
	return m.snap.relays[m.relayCursor], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case changedMsg:
		m.refresh()
		return m, waitFor(msg.ch)
	case tickMsg:
		m.now = time.Time(msg)
		m.refresh()
		return m, m.tick()
	case takeResultMsg:
		delete(m.taking, msg.id)
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("take %s: %s", shortID(msg.id), describeError(msg.err))
		} else {
			m.errMsg = ""
			m.status = fmt.Sprintf("Took %s: paid %s, received %s", shortID(msg.id),
				formatAmount(msg.order.TakeAmount, msg.order.TakeDenomination),
				formatAmount(msg.order.MakeAmount, msg.order.MakeDenomination))
		}
		m.refresh()
		return m, nil
	case createResultMsg:
		m.form.submitting = false
		if msg.err != nil {
			m.form.err = describeError(msg.err)
			return m, nil
		}
		m.mode = modeBrowse
		m.errMsg = ""
		m.status = fmt.Sprintf("Created %s", shortID(msg.order.ID))
		m.refresh()
		return m, nil
	case refreshResultMsg:
		if msg.err != nil {
			m.errMsg = "refresh: " + describeError(msg.err)
		} else {
			m.status = "Order book refreshed"
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch m.mode {
		case modeOrderForm:
			return m.updateForm(msg)
		case modeRelayInput:
			return m.updateRelayInput(msg)
		default:
			return m.updateBrowse(msg)
		}
	}
	return m, nil
}

func (m model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.focus == focusOrders {
			m.orderCursor = clamp(m.orderCursor-1, len(m.snap.orders))
		} else {
			m.relayCursor = clamp(m.relayCursor-1, len(m.snap.relays))
		}
	case "down", "j":
		if m.focus == focusOrders {
			m.orderCursor = clamp(m.orderCursor+1, len(m.snap.orders))
		} else {
			m.relayCursor = clamp(m.relayCursor+1, len(m.snap.relays))
		}
	case "tab":
		if m.focus == focusOrders {
			m.focus = focusRelays
		} else {
			m.focus = focusOrders
		}
	case "t":
		o, ok := m.selectedOrder()
		if !ok || m.focus != focusOrders {
			return m, nil
		}
		if m.taking[o.ID] {
			m.status = fmt.Sprintf("Take %s already in progress", shortID(o.ID))
			return m, nil
		}
		m.taking[o.ID] = true
		m.status = fmt.Sprintf("Taking %s...", shortID(o.ID))
		return m, m.takeCmd(o.ID)
	case "n":
		m.mode = modeOrderForm
		m.form = newOrderForm()
	case "a":
		m.mode = modeRelayInput
		m.relayInput = "wss://"
	case "d":
		r, ok := m.selectedRelay()
		if !ok || m.focus != focusRelays {
			return m, nil
		}
		if m.relays.RemoveEndpoint(r.URL) {
			m.status = "Removed relay " + r.URL
		}
		m.refresh()
	case "r":
		m.status = "Refreshing..."
		return m, m.refreshCmd()
	}
	return m, nil
}

func (m model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form.submitting {
		// 提交中只允许退出
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}
	if msg.Type == tea.KeyRunes {
		m.form.typeRunes(msg.Runes)
		return m, nil
	}
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = modeBrowse
	case "tab", "down":
		m.form.move(1)
	case "shift+tab", "up":
		m.form.move(-1)
	case "left":
		m.form.cycle(-1)
	case "right", " ":
		m.form.cycle(1)
	case "backspace":
		m.form.backspace()
	case "enter":
		req, err := m.form.request()
		if err != nil {
			m.form.err = describeError(err)
			return m, nil
		}
		m.form.err = ""
		m.form.submitting = true
		return m, m.createCmd(req)
	}
	return m, nil
}

func (m model) updateRelayInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyRunes {
		m.relayInput += string(msg.Runes)
		return m, nil
	}
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = modeBrowse
	case "backspace":
		if len(m.relayInput) > 0 {
			m.relayInput = m.relayInput[:len(m.relayInput)-1]
		}
	case "enter":
		if err := m.relays.AddEndpoint(m.relayInput); err != nil {
			m.errMsg = "add relay: " + err.Error()
			return m, nil
		}
		m.status = "Added relay " + m.relayInput
		m.errMsg = ""
		m.mode = modeBrowse
		m.refresh()
	}
	return m, nil
}

func (m model) takeCmd(id string) tea.Cmd {
	ctx, book := m.ctx, m.book
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		o, err := book.TakeOrder(ctx, id)
		if err != nil {
			log.Debugf("[界面] 吃单失败 id=%s: %v", id, err)
		}
		return takeResultMsg{id: id, order: o, err: err}
	}
}

func (m model) createCmd(req domain.OrderRequest) tea.Cmd {
	ctx, book := m.ctx, m.book
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		o, err := book.CreateOrder(ctx, req)
		return createResultMsg{order: o, err: err}
	}
}

func (m model) refreshCmd() tea.Cmd {
	ctx, book := m.ctx, m.book
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		return refreshResultMsg{err: book.Refresh(ctx)}
	}
}
