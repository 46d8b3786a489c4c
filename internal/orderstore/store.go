// Package orderstore 持有本地的开放订单集合，并协调余额表与远端订单服务：
// 创建（先冻结后提交）、吃单（先远端删除后本地结算）、以及与周期性拉取结果的合并。
package orderstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ledger"
	"github.com/granola/granola/internal/metrics"
	"github.com/granola/granola/pkg/cache"
	"github.com/granola/granola/pkg/sigchan"
)

var log = logrus.WithField("component", "orderstore")

var (
	// ErrRemoteService 远端订单服务调用失败（create/delete/list），包装原始错误
	ErrRemoteService = errors.New("remote order service error")
	// ErrOrderNotFound 本地不存在该订单，或远端返回 404
	ErrOrderNotFound = domain.ErrOrderNotFound
	// ErrTakeInFlight 同一订单的吃单请求尚未返回
	ErrTakeInFlight = errors.New("take already in flight")
)

// OrderService 远端订单服务
type OrderService interface {
	// ListOrders 返回可解析的订单，以及远端列出但无法解析的订单 id
	ListOrders(ctx context.Context) (domain.OrderList, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	// DeleteOrder 订单已不存在时返回的错误应满足 errors.Is(err, domain.ErrOrderNotFound)
	DeleteOrder(ctx context.Context, id string) error
}

// Config store 配置
type Config struct {
	// PollInterval 远端订单列表拉取周期
	PollInterval time.Duration
	// GraceWindow 本地刚吃掉的订单不会被过期的拉取结果重新加回；
	// 本地刚创建的订单不会被过期的拉取结果删除
	GraceWindow time.Duration
	// RequestTimeout 单次拉取的超时
	RequestTimeout time.Duration
	// Clock 时间源，测试中注入 clock.Mock
	Clock clock.Clock
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Second,
		GraceWindow:    30 * time.Second,
		RequestTimeout: 8 * time.Second,
		Clock:          clock.New(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// ownedLock 本客户端为自己挂出的订单冻结的资金
type ownedLock struct {
	currency domain.Currency
	amount   decimal.Decimal
}

type orderItem struct {
	order domain.Order
	seq   uint64
}

// Store 开放订单集合
type Store struct {
	cfg    Config
	ledger *ledger.Ledger
	svc    OrderService

	mu      sync.Mutex
	orders  map[string]*orderItem
	seq     uint64
	owned   map[string]ownedLock
	taking  map[string]struct{}
	pending map[domain.Currency]decimal.Decimal // 吃单在途、尚未结算的扣款

	// 远端创建在途时，按他人订单结算掉的 id；创建返回后据此判断订单是否已成交
	creating     int
	settledEarly map[string]struct{}

	// 宽限窗口：本地吃掉的订单、本地创建的订单
	taken   *cache.InMemoryCache[string, struct{}]
	created *cache.InMemoryCache[string, struct{}]

	changes *sigchan.Broadcaster

	loopOnce sync.Once
	loopMu   sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// New 创建 store；余额表由 store 独占，外部只读
func New(l *ledger.Ledger, svc OrderService, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		cfg:     cfg,
		ledger:  l,
		svc:     svc,
		orders:  make(map[string]*orderItem),
		owned:   make(map[string]ownedLock),
		taking:  make(map[string]struct{}),
		pending: make(map[domain.Currency]decimal.Decimal),

		settledEarly: make(map[string]struct{}),

		taken:   cache.NewInMemoryCacheWithClock[string, struct{}](cfg.GraceWindow, cfg.Clock),
		created: cache.NewInMemoryCacheWithClock[string, struct{}](cfg.GraceWindow, cfg.Clock),
		changes: sigchan.NewBroadcaster(),
	}
}

// CreateOrder 挂单：校验 -> 冻结 -> 远端创建 -> 本地插入。
// 远端失败时解冻并返回 ErrRemoteService。
func (s *Store) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	if err := s.lockFunds(req.MakeDenomination, req.MakeAmount); err != nil {
		return domain.Order{}, err
	}
	s.changes.Emit()
	defer s.createDone()

	created, err := s.svc.CreateOrder(ctx, req)
	if err == nil {
		err = created.Validate()
	}
	if err != nil {
		if uerr := s.ledger.Unlock(req.MakeDenomination, req.MakeAmount); uerr != nil {
			log.Errorf("[挂单] 回滚冻结失败: %v", uerr)
		}
		s.changes.Emit()
		metrics.RemoteFailures.Add(1)
		log.Warnf("[挂单] 远端创建失败，已回滚冻结 %s %s: %v", req.MakeAmount, req.MakeDenomination, err)
		return domain.Order{}, fmt.Errorf("%w: create order: %w", ErrRemoteService, err)
	}

	s.mu.Lock()
	_, early := s.settledEarly[created.ID]
	delete(s.settledEarly, created.ID)
	if early || s.taken.Has(created.ID) {
		// 远端创建返回之前，订单已被拉取进来并被本客户端当作他人订单吃掉：
		// 那次结算没有释放冻结，这里补上释放腿，订单不再插回
		if rerr := s.ledger.Release(req.MakeDenomination, req.MakeAmount); rerr != nil {
			log.Errorf("[挂单] 释放已成交订单的冻结失败 id=%s: %v", created.ID, rerr)
		}
		s.mu.Unlock()
		s.changes.Emit()
		metrics.OrdersCreated.Add(1)
		log.Infof("[挂单] id=%s 在创建返回前已成交，释放冻结 %s %s", created.ID, req.MakeAmount, req.MakeDenomination)
		return created, nil
	}
	s.insertLocked(created)
	s.owned[created.ID] = ownedLock{currency: req.MakeDenomination, amount: req.MakeAmount}
	s.created.Set(created.ID, struct{}{}, 0)
	s.mu.Unlock()
	s.changes.Emit()

	metrics.OrdersCreated.Add(1)
	log.Infof("[挂单] %s %s %s -> %s %s id=%s", created.Kind, created.MakeAmount, created.MakeDenomination,
		created.TakeAmount, created.TakeDenomination, created.ID)
	return created, nil
}

// createDone 远端创建结束（无论成败）
func (s *Store) createDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating--
	if s.creating == 0 {
		clear(s.settledEarly)
	}
}

// lockFunds 在 store 锁内冻结，并登记一次在途创建，同时扣除在途吃单占用的可用余额
func (s *Store) lockFunds(c domain.Currency, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending := s.pending[c]; pending.IsPositive() {
		spendable := s.ledger.Available(c).Sub(pending)
		if spendable.Sub(amount).LessThan(s.ledger.ReserveMinimum(c)) {
			return fmt.Errorf("%w: %s spendable %s (pending takes %s), lock %s",
				ledger.ErrInsufficientBalance, c, spendable, pending, amount)
		}
	}
	if err := s.ledger.Lock(c, amount); err != nil {
		return err
	}
	s.creating++
	return nil
}

// TakeOrder 吃单：先远端删除，成功后在同一临界区内移除订单并结算。
// 远端失败（包括已被他人吃掉）时本地不做任何变更。
func (s *Store) TakeOrder(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	item, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if _, busy := s.taking[id]; busy {
		s.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: %s", ErrTakeInFlight, id)
	}
	o := item.order
	spendable := s.ledger.Available(o.TakeDenomination).Sub(s.pending[o.TakeDenomination])
	if spendable.LessThan(o.TakeAmount) {
		s.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: %s spendable %s, need %s",
			ledger.ErrInsufficientBalance, o.TakeDenomination, spendable, o.TakeAmount)
	}
	s.taking[id] = struct{}{}
	s.pending[o.TakeDenomination] = s.pending[o.TakeDenomination].Add(o.TakeAmount)
	s.mu.Unlock()

	err := s.svc.DeleteOrder(ctx, id)

	s.mu.Lock()
	delete(s.taking, id)
	s.releasePendingLocked(o.TakeDenomination, o.TakeAmount)
	if err != nil {
		s.mu.Unlock()
		metrics.RemoteFailures.Add(1)
		log.Warnf("[吃单] 远端删除失败 id=%s: %v", id, err)
		return domain.Order{}, fmt.Errorf("%w: delete order %s: %w", ErrRemoteService, id, err)
	}

	swap := ledger.Swap{
		DebitCurrency:   o.TakeDenomination,
		DebitAmount:     o.TakeAmount,
		CreditCurrency:  o.MakeDenomination,
		CreditAmount:    o.MakeAmount,
		ReleaseCurrency: o.MakeDenomination,
		ReleaseAmount:   decimal.Zero,
	}
	own, isOwn := s.owned[id]
	if isOwn {
		swap.ReleaseCurrency = own.currency
		swap.ReleaseAmount = own.amount
	}
	swapErr := s.ledger.ApplySwap(swap)
	if swapErr != nil && isOwn {
		// 远端已删除：放弃结算，但不能留下没有订单对应的冻结
		if uerr := s.ledger.Unlock(own.currency, own.amount); uerr != nil {
			log.Errorf("[吃单] 释放冻结失败 id=%s: %v", id, uerr)
		}
	}
	if !isOwn && s.creating > 0 {
		s.settledEarly[id] = struct{}{}
	}
	s.removeLocked(id)
	s.taken.Set(id, struct{}{}, 0)
	s.mu.Unlock()
	s.changes.Emit()

	if swapErr != nil {
		log.Errorf("[吃单] 远端已删除但本地结算失败 id=%s: %v", id, swapErr)
		return o, fmt.Errorf("settle order %s: %w", id, swapErr)
	}
	metrics.OrdersTaken.Add(1)
	log.Infof("[吃单] id=%s 支付 %s %s 收到 %s %s", id, o.TakeAmount, o.TakeDenomination, o.MakeAmount, o.MakeDenomination)
	return o, nil
}

func (s *Store) releasePendingLocked(c domain.Currency, amount decimal.Decimal) {
	left := s.pending[c].Sub(amount)
	if !left.IsPositive() {
		delete(s.pending, c)
		return
	}
	s.pending[c] = left
}

func (s *Store) insertLocked(o domain.Order) {
	if item, ok := s.orders[o.ID]; ok {
		item.order = o
		return
	}
	s.seq++
	s.orders[o.ID] = &orderItem{order: o, seq: s.seq}
}

func (s *Store) removeLocked(id string) {
	delete(s.orders, id)
	delete(s.owned, id)
	s.created.Delete(id)
}

// ReconcileResult 一次合并的统计
type ReconcileResult struct {
	Added   int
	Updated int
	Removed int
	Skipped int // 宽限窗口/在途吃单保护下没有变更的订单
}

// Changed 本次合并是否改变了本地状态
func (r ReconcileResult) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// Reconcile 把远端订单列表合并进本地：
//   - 远端有、本地无：加入（宽限窗口内本地吃掉的除外）
//   - 本地有、远端无：移除并解冻自己的冻结（宽限窗口内本地创建的、吃单在途的除外）
//   - unparsed 中的 id 远端仍然存在，但内容未知：本地不增不删
func (s *Store) Reconcile(remote []domain.Order, unparsed ...string) ReconcileResult {
	var res ReconcileResult

	s.mu.Lock()
	s.taken.Purge()
	s.created.Purge()

	seen := make(map[string]struct{}, len(remote)+len(unparsed))
	for _, id := range unparsed {
		seen[id] = struct{}{}
		res.Skipped++
	}
	for _, o := range remote {
		if err := o.Validate(); err != nil {
			log.Warnf("[同步] 忽略无效的远端订单 id=%q: %v", o.ID, err)
			if o.ID != "" {
				seen[o.ID] = struct{}{}
				res.Skipped++
			}
			continue
		}
		seen[o.ID] = struct{}{}

		item, ok := s.orders[o.ID]
		switch {
		case ok && item.order.Equal(o):
		case ok:
			item.order = o
			res.Updated++
		case s.taken.Has(o.ID):
			res.Skipped++
		default:
			s.insertLocked(o)
			res.Added++
		}
	}

	for id := range s.orders {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, busy := s.taking[id]; busy {
			res.Skipped++
			continue
		}
		if s.created.Has(id) {
			res.Skipped++
			continue
		}
		if own, ok := s.owned[id]; ok {
			if err := s.ledger.Unlock(own.currency, own.amount); err != nil {
				log.Errorf("[同步] 解冻失败 id=%s: %v", id, err)
			}
		}
		s.removeLocked(id)
		res.Removed++
	}
	s.mu.Unlock()

	if res.Changed() {
		s.changes.Emit()
	}
	return res
}

// Refresh 拉取一次远端订单并合并；失败时本地状态保持不变
func (s *Store) Refresh(ctx context.Context) error {
	metrics.ReconcileRuns.Add(1)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	list, err := s.svc.ListOrders(reqCtx)
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		return fmt.Errorf("%w: list orders: %w", ErrRemoteService, err)
	}

	res := s.Reconcile(list.Orders, list.Unparsed...)
	if res.Changed() {
		log.Debugf("[同步] 远端 %d 单: +%d ~%d -%d (跳过 %d)", len(list.Orders), res.Added, res.Updated, res.Removed, res.Skipped)
	}
	return nil
}

// Orders 当前开放订单，按进入 store 的顺序
func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	items := make([]orderItem, 0, len(s.orders))
	for _, item := range s.orders {
		items = append(items, *item)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]domain.Order, len(items))
	for i, item := range items {
		out[i] = item.order
	}
	return out
}

// Get 按 id 查询开放订单
func (s *Store) Get(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return item.order, true
}

// IsOwn 订单是否由本客户端挂出（持有冻结）
func (s *Store) IsOwn(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owned[id]
	return ok
}

// GraceStats 宽限窗口内的订单数：本地吃掉的、本地创建的（先清理过期项）
func (s *Store) GraceStats() (taken, created int) {
	s.taken.Purge()
	s.created.Purge()
	return s.taken.Size(), s.created.Size()
}

// Balances 余额快照
func (s *Store) Balances() []ledger.Balance {
	return s.ledger.Snapshot()
}

// ReserveMinimum 币种保留下限（界面展示可挂单额度用）
func (s *Store) ReserveMinimum(c domain.Currency) decimal.Decimal {
	return s.ledger.ReserveMinimum(c)
}

// Changes 订阅状态变化信号，返回取消函数
func (s *Store) Changes() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}
