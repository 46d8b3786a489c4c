package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ledger"
	"github.com/granola/granola/internal/orderstore"
	"github.com/granola/granola/internal/relay"
)

var (
	accent       = lipgloss.Color("39")
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	ownStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	cursorStyle  = lipgloss.NewStyle().Reverse(true)
	cardStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

func panelStyle(width int, focused bool) lipgloss.Style {
	border := lipgloss.Color("240")
	if focused {
		border = accent
	}
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

var badgeColors = map[relay.Status]lipgloss.Color{
	relay.StatusConnected:    "46",
	relay.StatusConnecting:   "226",
	relay.StatusDisconnected: "196",
	relay.StatusIdle:         "244",
	relay.StatusClosed:       "244",
}

func (m model) View() string {
	availableWidth := m.width - 4
	if availableWidth < 80 {
		availableWidth = 80
	}
	leftWidth := availableWidth*3/5 - 1
	rightWidth := availableWidth - leftWidth - 4

	var body string
	switch m.mode {
	case modeOrderForm:
		body = m.renderForm(availableWidth)
	default:
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderOrders(leftWidth), "  ", m.renderRelays(rightWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderBalances(),
		body,
		m.renderFooter(),
	)
}

func (m model) renderHeader() string {
	connected := 0
	for _, r := range m.snap.relays {
		if r.Status == relay.StatusConnected {
			connected++
		}
	}
	return headerStyle.Render(fmt.Sprintf("granola | Orders: %d | Relays: %d/%d connected | %s",
		len(m.snap.orders), connected, len(m.snap.relays), m.now.Format("15:04:05")))
}

func (m model) renderBalances() string {
	cards := make([]string, 0, len(m.snap.balances))
	for _, b := range m.snap.balances {
		cards = append(cards, renderBalanceCard(b))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderBalanceCard(b ledger.Balance) string {
	lines := []string{
		titleStyle.Render(strings.ToUpper(b.Currency.String())),
		"Avail  " + formatAmount(b.Available, b.Currency),
		dimStyle.Render("Locked " + formatAmount(b.Locked, b.Currency)),
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func (m model) renderOrders(width int) string {
	lines := []string{titleStyle.Render("Order book"), strings.Repeat("─", width-4)}
	if len(m.snap.orders) == 0 {
		lines = append(lines, dimStyle.Render("No open orders"))
	}
	for i, o := range m.snap.orders {
		marker := " "
		if m.snap.own[o.ID] {
			marker = ownStyle.Render("*")
		}
		row := fmt.Sprintf("%-4s %16s -> %-16s %s",
			o.Kind,
			formatAmount(o.MakeAmount, o.MakeDenomination),
			formatAmount(o.TakeAmount, o.TakeDenomination),
			shortID(o.ID))
		if m.taking[o.ID] {
			row += dimStyle.Render(" (taking)")
		}
		if i == m.orderCursor && m.focus == focusOrders {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, marker+" "+row)
	}
	return panelStyle(width, m.focus == focusOrders).Render(strings.Join(lines, "\n"))
}

func (m model) renderRelays(width int) string {
	lines := []string{titleStyle.Render("Relays"), strings.Repeat("─", width-4)}
	if len(m.snap.relays) == 0 {
		lines = append(lines, dimStyle.Render("No relays"))
	}
	for i, r := range m.snap.relays {
		badge := lipgloss.NewStyle().Foreground(badgeColors[r.Status]).Render("●")
		row := fmt.Sprintf("%s %s", badge, truncate(r.URL, width-8))
		if i == m.relayCursor && m.focus == focusRelays {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, row)
		detail := string(r.Status)
		if r.Attempts > 1 {
			detail += fmt.Sprintf(" (attempt %d)", r.Attempts)
		}
		if r.LastError != "" && r.Status != relay.StatusConnected {
			detail += ": " + r.LastError
		}
		lines = append(lines, dimStyle.Render("  "+truncate(detail, width-6)))
	}
	if m.mode == modeRelayInput {
		lines = append(lines, "", "Add relay: "+m.relayInput+"_")
	}
	return panelStyle(width, m.focus == focusRelays).Render(strings.Join(lines, "\n"))
}

func (m model) renderForm(width int) string {
	f := m.form
	lines := []string{titleStyle.Render("New order"), strings.Repeat("─", width-4)}
	values := [fieldCount]string{
		string(kinds[f.kind]),
		f.makeAmount,
		strings.ToUpper(f.makeCurrency().String()),
		f.takeAmount,
		strings.ToUpper(f.takeCurrency().String()),
	}
	for i := formField(0); i < fieldCount; i++ {
		val := values[i]
		switch i {
		case fieldKind, fieldMakeCurrency, fieldTakeCurrency:
			val = "< " + val + " >"
		default:
			if i == f.focus {
				val += "_"
			}
		}
		row := fmt.Sprintf("%-14s %s", fieldLabels[i], val)
		if i == f.focus {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, row)
	}

	// 挂单会冻结 make 币种的可用余额
	for _, b := range m.snap.balances {
		if b.Currency == f.makeCurrency() {
			lines = append(lines, "", dimStyle.Render("Available "+formatAmount(b.Available, b.Currency)))
		}
	}
	if f.submitting {
		lines = append(lines, "", "Submitting...")
	}
	if f.err != "" {
		lines = append(lines, "", errorStyle.Render(f.err))
	}
	lines = append(lines, "", dimStyle.Render("tab/↑↓ field  ←/→ change  enter submit  esc cancel"))
	return panelStyle(width, true).Render(strings.Join(lines, "\n"))
}

func (m model) renderFooter() string {
	help := "↑/↓ select  t take  n new order  a add relay  d remove relay  r refresh  tab focus  q quit"
	lines := []string{dimStyle.Render(help)}
	if m.errMsg != "" {
		lines = append(lines, errorStyle.Render(m.errMsg))
	} else if m.status != "" {
		lines = append(lines, successStyle.Render(m.status))
	}
	return strings.Join(lines, "\n")
}

// describeError 把错误归类成界面上的简短说明
func describeError(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient balance: " + err.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return "order is gone (taken or cancelled)"
	case errors.Is(err, orderstore.ErrTakeInFlight):
		return "take already in progress"
	case errors.Is(err, orderstore.ErrRemoteService):
		return "order service unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

func formatAmount(amount decimal.Decimal, c domain.Currency) string {
	return amount.StringFixed(c.Decimals()) + " " + strings.ToUpper(c.String())
}

func shortID(id string) string {
	return truncate(id, 11)
}

func truncate(s string, maxLen int) string {
	if maxLen < 4 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
