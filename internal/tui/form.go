package tui

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/granola/granola/internal/domain"
)

type formField int

const (
	fieldKind formField = iota
	fieldMakeAmount
	fieldMakeCurrency
	fieldTakeAmount
	fieldTakeCurrency
	fieldCount
)

var fieldLabels = [fieldCount]string{"Kind", "Make amount", "Make currency", "Take amount", "Take currency"}

var kinds = []domain.OrderKind{domain.OrderKindSell, domain.OrderKindBuy}

// orderForm 挂单表单：币种选项来自 domain.Currencies，不为每个币种单独写表单
type orderForm struct {
	kind       int
	makeAmount string
	makeCur    int
	takeAmount string
	takeCur    int
	focus      formField
	err        string
	submitting bool
}

func newOrderForm() orderForm {
	return orderForm{takeCur: 1 % len(domain.Currencies)}
}

func (f *orderForm) move(delta int) {
	f.focus = formField((int(f.focus) + delta + int(fieldCount)) % int(fieldCount))
}

// cycle 在方向/币种字段上左右切换
func (f *orderForm) cycle(delta int) {
	wrap := func(i, n int) int { return (i + delta + n) % n }
	switch f.focus {
	case fieldKind:
		f.kind = wrap(f.kind, len(kinds))
	case fieldMakeCurrency:
		f.makeCur = wrap(f.makeCur, len(domain.Currencies))
	case fieldTakeCurrency:
		f.takeCur = wrap(f.takeCur, len(domain.Currencies))
	}
}

func (f *orderForm) amountField() *string {
	switch f.focus {
	case fieldMakeAmount:
		return &f.makeAmount
	case fieldTakeAmount:
		return &f.takeAmount
	}
	return nil
}

// typeRunes 金额字段只接受数字和一个小数点
func (f *orderForm) typeRunes(runes []rune) {
	dst := f.amountField()
	if dst == nil {
		return
	}
	for _, r := range runes {
		switch {
		case r >= '0' && r <= '9':
			*dst += string(r)
		case r == '.' && !strings.Contains(*dst, "."):
			*dst += "."
		}
	}
}

func (f *orderForm) backspace() {
	if dst := f.amountField(); dst != nil && len(*dst) > 0 {
		*dst = (*dst)[:len(*dst)-1]
	}
}

func (f orderForm) makeCurrency() domain.Currency { return domain.Currencies[f.makeCur] }
func (f orderForm) takeCurrency() domain.Currency { return domain.Currencies[f.takeCur] }

func (f orderForm) request() (domain.OrderRequest, error) {
	parse := func(name, s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrValidation, name, err)
		}
		return d, nil
	}
	makeAmt, err := parse("make amount", f.makeAmount)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	takeAmt, err := parse("take amount", f.takeAmount)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	req := domain.OrderRequest{
		Kind:             kinds[f.kind],
		MakeAmount:       makeAmt,
		MakeDenomination: f.makeCurrency(),
		TakeAmount:       takeAmt,
		TakeDenomination: f.takeCurrency(),
	}
	return req, req.Validate()
}
