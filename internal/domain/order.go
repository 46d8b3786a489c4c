package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrValidation 订单请求校验失败（金额非正、币种未知等），在任何状态变更之前返回
var ErrValidation = errors.New("validation error")

// ErrOrderNotFound 订单不存在（本地未知，或远端已被删除/吃掉）
var ErrOrderNotFound = errors.New("order not found")

// OrderKind 订单方向
type OrderKind string

const (
	OrderKindBuy  OrderKind = "buy"
	OrderKindSell OrderKind = "sell"
)

// IsValid 检查方向是否合法
func (k OrderKind) IsValid() bool {
	return k == OrderKindBuy || k == OrderKindSell
}

// OrderRequest 创建订单请求（表单数据，尚未提交）
type OrderRequest struct {
	Kind             OrderKind
	MakeAmount       decimal.Decimal
	MakeDenomination Currency
	TakeAmount       decimal.Decimal
	TakeDenomination Currency
}

// Validate 校验请求：方向、币种合法，两个金额都必须大于 0
func (r OrderRequest) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: unknown order kind %q", ErrValidation, r.Kind)
	}
	if !r.MakeAmount.IsPositive() {
		return fmt.Errorf("%w: make_amount must be greater than 0", ErrValidation)
	}
	if !r.TakeAmount.IsPositive() {
		return fmt.Errorf("%w: take_amount must be greater than 0", ErrValidation)
	}
	if !r.MakeDenomination.IsValid() {
		return fmt.Errorf("%w: unknown make_denomination %q", ErrValidation, r.MakeDenomination)
	}
	if !r.TakeDenomination.IsValid() {
		return fmt.Errorf("%w: unknown take_denomination %q", ErrValidation, r.TakeDenomination)
	}
	return nil
}

// Order 订单领域模型
// 没有显式状态字段：在 store 中即为 Open，被移除即为 Closed（唯一的终态迁移）
type Order struct {
	ID               string    // 远端服务分配的不透明 ID
	Kind             OrderKind // 订单方向
	MakeAmount       decimal.Decimal
	MakeDenomination Currency
	TakeAmount       decimal.Decimal
	TakeDenomination Currency
}

// Request 返回订单对应的创建请求（不含 ID）
func (o Order) Request() OrderRequest {
	return OrderRequest{
		Kind:             o.Kind,
		MakeAmount:       o.MakeAmount,
		MakeDenomination: o.MakeDenomination,
		TakeAmount:       o.TakeAmount,
		TakeDenomination: o.TakeDenomination,
	}
}

// Validate 校验订单（ID 非空 + 请求字段合法）
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: order id is empty", ErrValidation)
	}
	return o.Request().Validate()
}

// NewOrder 由请求和远端分配的 ID 组装订单
func NewOrder(id string, req OrderRequest) Order {
	return Order{
		ID:               id,
		Kind:             req.Kind,
		MakeAmount:       req.MakeAmount,
		MakeDenomination: req.MakeDenomination,
		TakeAmount:       req.TakeAmount,
		TakeDenomination: req.TakeDenomination,
	}
}

// Equal 比较两个订单的全部字段（decimal 按数值比较）
func (o Order) Equal(other Order) bool {
	return o.ID == other.ID &&
		o.Kind == other.Kind &&
		o.MakeAmount.Equal(other.MakeAmount) &&
		o.MakeDenomination == other.MakeDenomination &&
		o.TakeAmount.Equal(other.TakeAmount) &&
		o.TakeDenomination == other.TakeDenomination
}

// OrderList 一次拉取得到的远端订单列表
type OrderList struct {
	Orders []Order
	// Unparsed 远端仍然列出、但内容无法解析的订单 id
	Unparsed []string
}
