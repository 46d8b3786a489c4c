package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ledger"
	"github.com/granola/granola/internal/orderstore"
	"github.com/granola/granola/internal/relay"
)

type fakeBook struct {
	mu       sync.Mutex
	orders   []domain.Order
	own      map[string]bool
	created  []domain.OrderRequest
	taken    []string
	takeErr  error
	refreshN int
}

func (b *fakeBook) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Order(nil), b.orders...)
}

func (b *fakeBook) IsOwn(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.own[id]
}

func (b *fakeBook) Balances() []ledger.Balance {
	return []ledger.Balance{
		{Currency: domain.CurrencySat, Available: decimal.NewFromInt(212121)},
		{Currency: domain.CurrencyUSD, Available: decimal.NewFromInt(1031), Locked: decimal.NewFromInt(10)},
	}
}

func (b *fakeBook) Changes() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

func (b *fakeBook) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, req)
	o := domain.NewOrder(fmt.Sprintf("ord-%d", len(b.created)), req)
	b.orders = append(b.orders, o)
	b.own[o.ID] = true
	return o, nil
}

func (b *fakeBook) TakeOrder(ctx context.Context, id string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taken = append(b.taken, id)
	if b.takeErr != nil {
		return domain.Order{}, b.takeErr
	}
	for i, o := range b.orders {
		if o.ID == id {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (b *fakeBook) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshN++
	return nil
}

type fakeRelays struct {
	endpoints []relay.EndpointState
	removed   []string
}

func (r *fakeRelays) Endpoints() []relay.EndpointState {
	return append([]relay.EndpointState(nil), r.endpoints...)
}

func (r *fakeRelays) AddEndpoint(raw string) error {
	u, err := relay.NormalizeURL(raw)
	if err != nil {
		return err
	}
	r.endpoints = append(r.endpoints, relay.EndpointState{URL: u, Status: relay.StatusConnecting, Attempts: 1})
	return nil
}

func (r *fakeRelays) RemoveEndpoint(raw string) bool {
	for i, e := range r.endpoints {
		if e.URL == raw {
			r.endpoints = append(r.endpoints[:i], r.endpoints[i+1:]...)
			r.removed = append(r.removed, raw)
			return true
		}
	}
	return false
}

func (r *fakeRelays) Changes() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

func order(id string) domain.Order {
	return domain.Order{
		ID:               id,
		Kind:             domain.OrderKindSell,
		MakeAmount:       decimal.NewFromInt(10),
		MakeDenomination: domain.CurrencyUSD,
		TakeAmount:       decimal.NewFromInt(20000),
		TakeDenomination: domain.CurrencySat,
	}
}

func newTestModel(t *testing.T) (model, *fakeBook, *fakeRelays) {
	t.Helper()
	book := &fakeBook{
		orders: []domain.Order{order("a1"), order("b2"), order("c3")},
		own:    map[string]bool{"c3": true},
	}
	relays := &fakeRelays{endpoints: []relay.EndpointState{
		{URL: "wss://one.example", Status: relay.StatusConnected, Attempts: 1},
		{URL: "wss://two.example", Status: relay.StatusDisconnected, Attempts: 3, LastError: "dial failed"},
	}}
	return newModel(context.Background(), book, relays), book, relays
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press 依次发送按键，返回最后一个按键产生的命令
func press(m model, keys ...string) (model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(model)
	}
	return m, cmd
}

func run(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(model)
}

func TestTakeSelectedOrder(t *testing.T) {
	m, book, _ := newTestModel(t)

	m, _ = press(m, "down", "down", "down", "up")
	assert.Equal(t, 1, m.orderCursor)

	m, cmd := press(m, "t")
	assert.True(t, m.taking["b2"])

	// 同一订单在途时再按 t 不会重复提交
	m2, cmd2 := press(m, "t")
	assert.Nil(t, cmd2)
	assert.Contains(t, m2.status, "already in progress")

	m = run(t, m, cmd)
	assert.Equal(t, []string{"b2"}, book.taken)
	assert.Empty(t, m.taking)
	assert.Len(t, m.snap.orders, 2)
	assert.Contains(t, m.status, "Took b2")
	assert.Empty(t, m.errMsg)
}

func TestTakeFailureShowsError(t *testing.T) {
	m, book, _ := newTestModel(t)
	book.takeErr = fmt.Errorf("%w: delete order a1: %w", orderstore.ErrRemoteService, domain.ErrOrderNotFound)

	m, cmd := press(m, "t")
	m = run(t, m, cmd)
	assert.Contains(t, m.errMsg, "order is gone")

	book.takeErr = fmt.Errorf("%w: sat", ledger.ErrInsufficientBalance)
	m, cmd = press(m, "t")
	m = run(t, m, cmd)
	assert.Contains(t, m.errMsg, "insufficient balance")
}

func TestOrderForm_Submit(t *testing.T) {
	m, book, _ := newTestModel(t)

	m, _ = press(m, "n")
	require.Equal(t, modeOrderForm, m.mode)

	// kind: sell -> buy；make 12.5 USD；take 30000 SAT
	m, _ = press(m, "right", "tab", "1", "2", "x", ".", "5", ".", "tab")
	m, _ = press(m, "right", "right", "tab", "3", "0", "0", "0", "0", "0", "backspace", "tab", "left")
	assert.Equal(t, "12.5", m.form.makeAmount)
	assert.Equal(t, "30000", m.form.takeAmount)
	assert.Contains(t, m.View(), "Available 1031.00 USD")

	m, cmd := press(m, "enter")
	assert.True(t, m.form.submitting)
	m = run(t, m, cmd)

	require.Len(t, book.created, 1)
	req := book.created[0]
	assert.Equal(t, domain.OrderKindBuy, req.Kind)
	assert.True(t, req.MakeAmount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, domain.CurrencyUSD, req.MakeDenomination)
	assert.True(t, req.TakeAmount.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, domain.CurrencySat, req.TakeDenomination)

	assert.Equal(t, modeBrowse, m.mode)
	assert.Len(t, m.snap.orders, 4)
	assert.True(t, m.snap.own["ord-1"])
}

func TestOrderForm_InvalidStaysOpen(t *testing.T) {
	m, book, _ := newTestModel(t)

	m, cmd := press(m, "n", "enter")
	assert.Nil(t, cmd)
	assert.Equal(t, modeOrderForm, m.mode)
	assert.Contains(t, m.form.err, "make amount is required")

	m, cmd = press(m, "tab", "0", "tab", "tab", "5", "enter")
	assert.Nil(t, cmd)
	assert.Contains(t, m.form.err, "make_amount")
	assert.Empty(t, book.created)

	m, _ = press(m, "esc")
	assert.Equal(t, modeBrowse, m.mode)
}

func TestRelayAddAndRemove(t *testing.T) {
	m, _, relays := newTestModel(t)

	m, _ = press(m, "a", "relay.damus.io", "enter")
	assert.Equal(t, modeBrowse, m.mode)
	require.Len(t, m.snap.relays, 3)
	assert.Equal(t, "wss://relay.damus.io", m.snap.relays[2].URL)

	// 非法地址：留在输入模式并显示错误
	m, _ = press(m, "a", "backspace", "backspace", "backspace", "backspace", "backspace", "backspace", "http://x", "enter")
	assert.Equal(t, modeRelayInput, m.mode)
	assert.NotEmpty(t, m.errMsg)
	m, _ = press(m, "esc")

	// d 只在 relay 面板有焦点时生效
	m, _ = press(m, "d")
	assert.Empty(t, relays.removed)

	m, _ = press(m, "tab", "down", "d")
	assert.Equal(t, []string{"wss://two.example"}, relays.removed)
	assert.Len(t, m.snap.relays, 2)
}

func TestRefreshAndQuit(t *testing.T) {
	m, book, _ := newTestModel(t)

	m, cmd := press(m, "r")
	m = run(t, m, cmd)
	assert.Equal(t, 1, book.refreshN)
	assert.Equal(t, "Order book refreshed", m.status)

	_, cmd = press(m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestChangedMsgRefreshesAndRearms(t *testing.T) {
	m, book, _ := newTestModel(t)
	ch := make(chan struct{}, 1)

	book.mu.Lock()
	book.orders = book.orders[:1]
	book.mu.Unlock()
	m.orderCursor = 2

	next, cmd := m.Update(changedMsg{ch: ch})
	m = next.(model)
	assert.Len(t, m.snap.orders, 1)
	assert.Equal(t, 0, m.orderCursor)

	ch <- struct{}{}
	require.NotNil(t, cmd)
	assert.Equal(t, changedMsg{ch: ch}, cmd())
}

func TestView(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.width = 140
	out := m.View()

	assert.Contains(t, out, "212121 SAT")
	assert.Contains(t, out, "Locked 10.00 USD")
	assert.Contains(t, out, "wss://one.example")
	assert.Contains(t, out, "dial failed")
	assert.Contains(t, out, "Relays: 1/2 connected")
	assert.True(t, strings.Contains(out, "*"), "own order marker")
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "take already in progress", describeError(orderstore.ErrTakeInFlight))
	assert.Equal(t, "boom", describeError(errors.New("boom")))
}
