// Package ledger 维护本地多币种余额表：可用（available）与冻结（locked）两栏。
//
// 所有变更只能通过 Lock / Unlock / ApplySwap 三个操作完成，每个操作都在同一把锁内
// 先在副本上校验、再整体提交，调用方观察不到部分生效的中间状态。
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/domain"
)

var log = logrus.WithField("component", "ledger")

var (
	// ErrInsufficientBalance 冻结或兑换会让可用余额低于保留下限（兑换时为低于 0）
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount 金额必须为正
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrUnknownCurrency 不在封闭币种集合内
	ErrUnknownCurrency = errors.New("unknown currency")
	// ErrLockUnderflow 解冻/释放的金额超过当前冻结额
	ErrLockUnderflow = errors.New("locked balance underflow")
)

// Balance 单个币种的余额快照
type Balance struct {
	Currency  domain.Currency
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Total available + locked
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

type entry struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

// Ledger 本地余额表
type Ledger struct {
	mu      sync.RWMutex
	entries map[domain.Currency]*entry
	reserve map[domain.Currency]decimal.Decimal
}

// New 创建余额表
// initial: 初始可用余额（缺省币种为 0）
// reserve: 每个币种的保留下限（缺省为 0）
func New(initial, reserve map[domain.Currency]decimal.Decimal) (*Ledger, error) {
	l := &Ledger{
		entries: make(map[domain.Currency]*entry, len(domain.Currencies)),
		reserve: make(map[domain.Currency]decimal.Decimal, len(domain.Currencies)),
	}
	for _, c := range domain.Currencies {
		l.entries[c] = &entry{available: decimal.Zero, locked: decimal.Zero}
		l.reserve[c] = decimal.Zero
	}
	for c, amount := range initial {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, c)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("initial balance for %s must not be negative", c)
		}
		l.entries[c].available = amount
	}
	for c, min := range reserve {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, c)
		}
		if min.IsNegative() {
			return nil, fmt.Errorf("reserve minimum for %s must not be negative", c)
		}
		l.reserve[c] = min
	}
	return l, nil
}

// Lock 冻结资金：available -= amount, locked += amount
// 要求 amount > 0 且冻结后 available 不低于该币种的保留下限
func (l *Ledger) Lock(currency domain.Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[currency]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	remaining := e.available.Sub(amount)
	if remaining.LessThan(l.reserve[currency]) {
		return fmt.Errorf("%w: %s available %s, lock %s, reserve minimum %s",
			ErrInsufficientBalance, currency, e.available, amount, l.reserve[currency])
	}
	e.available = remaining
	e.locked = e.locked.Add(amount)
	log.Debugf("[冻结] %s %s (available=%s locked=%s)", amount, currency, e.available, e.locked)
	return nil
}

// Unlock 解冻资金，仅用于回滚一个没有在远端完成的冻结
func (l *Ledger) Unlock(currency domain.Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[currency]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	if e.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s locked %s, unlock %s", ErrLockUnderflow, currency, e.locked, amount)
	}
	e.locked = e.locked.Sub(amount)
	e.available = e.available.Add(amount)
	log.Debugf("[解冻] %s %s (available=%s locked=%s)", amount, currency, e.available, e.locked)
	return nil
}

// Release 单独执行兑换的释放腿：冻结被订单成交消耗，locked 减少，available 不变
func (l *Ledger) Release(currency domain.Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[currency]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	if e.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s locked %s, release %s", ErrLockUnderflow, currency, e.locked, amount)
	}
	e.locked = e.locked.Sub(amount)
	log.Debugf("[释放] %s %s (available=%s locked=%s)", amount, currency, e.available, e.locked)
	return nil
}

// Swap 一次吃单在本地余额表上的三条腿
type Swap struct {
	DebitCurrency   domain.Currency // 吃单方支付
	DebitAmount     decimal.Decimal
	CreditCurrency  domain.Currency // 吃单方收到
	CreditAmount    decimal.Decimal
	ReleaseCurrency domain.Currency // 挂单方原先的冻结
	ReleaseAmount   decimal.Decimal // 可以为 0（不是本地冻结的订单）
}

// ApplySwap 吃单结算：扣减 available[debit]，增加 available[credit]，释放 locked[release]
// 三个子操作要么全部生效，要么全部不生效
func (l *Ledger) ApplySwap(s Swap) error {
	if !s.DebitAmount.IsPositive() || !s.CreditAmount.IsPositive() || s.ReleaseAmount.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range []domain.Currency{s.DebitCurrency, s.CreditCurrency, s.ReleaseCurrency} {
		if _, ok := l.entries[c]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCurrency, c)
		}
	}

	// 在副本上计算，同币种的多条腿会叠加到同一个副本
	staged := make(map[domain.Currency]entry, 3)
	get := func(c domain.Currency) entry {
		if e, ok := staged[c]; ok {
			return e
		}
		return *l.entries[c]
	}

	debit := get(s.DebitCurrency)
	if debit.available.LessThan(s.DebitAmount) {
		return fmt.Errorf("%w: %s available %s, need %s",
			ErrInsufficientBalance, s.DebitCurrency, debit.available, s.DebitAmount)
	}
	debit.available = debit.available.Sub(s.DebitAmount)
	staged[s.DebitCurrency] = debit

	credit := get(s.CreditCurrency)
	credit.available = credit.available.Add(s.CreditAmount)
	staged[s.CreditCurrency] = credit

	if s.ReleaseAmount.IsPositive() {
		release := get(s.ReleaseCurrency)
		if release.locked.LessThan(s.ReleaseAmount) {
			return fmt.Errorf("%w: %s locked %s, release %s",
				ErrLockUnderflow, s.ReleaseCurrency, release.locked, s.ReleaseAmount)
		}
		release.locked = release.locked.Sub(s.ReleaseAmount)
		staged[s.ReleaseCurrency] = release
	}

	for c, e := range staged {
		*l.entries[c] = e
	}
	log.Debugf("[兑换] -%s %s +%s %s release %s %s",
		s.DebitAmount, s.DebitCurrency, s.CreditAmount, s.CreditCurrency, s.ReleaseAmount, s.ReleaseCurrency)
	return nil
}

// Available 可用余额
func (l *Ledger) Available(currency domain.Currency) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[currency]; ok {
		return e.available
	}
	return decimal.Zero
}

// Locked 冻结余额
func (l *Ledger) Locked(currency domain.Currency) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[currency]; ok {
		return e.locked
	}
	return decimal.Zero
}

// ReserveMinimum 保留下限
func (l *Ledger) ReserveMinimum(currency domain.Currency) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserve[currency]
}

// Get 单币种快照
func (l *Ledger) Get(currency domain.Currency) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b := Balance{Currency: currency, Available: decimal.Zero, Locked: decimal.Zero}
	if e, ok := l.entries[currency]; ok {
		b.Available = e.available
		b.Locked = e.locked
	}
	return b
}

// Snapshot 全部币种快照，按 domain.Currencies 顺序
func (l *Ledger) Snapshot() []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Balance, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		e := l.entries[c]
		out = append(out, Balance{Currency: c, Available: e.available, Locked: e.locked})
	}
	return out
}
