package ordersvc

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/granola/granola/internal/domain"
)

// OrderRequestDTO POST /order 请求体；金额在线上是 JSON number
type OrderRequestDTO struct {
	Kind             string      `json:"kind"`
	MakeAmount       json.Number `json:"make_amount"`
	MakeDenomination string      `json:"make_denomination"`
	TakeAmount       json.Number `json:"take_amount"`
	TakeDenomination string      `json:"take_denomination"`
}

// OrderDTO 订单的线上表示
type OrderDTO struct {
	ID string `json:"id"`
	OrderRequestDTO
}

// NewOrderRequestDTO domain -> wire
func NewOrderRequestDTO(req domain.OrderRequest) OrderRequestDTO {
	return OrderRequestDTO{
		Kind:             string(req.Kind),
		MakeAmount:       json.Number(req.MakeAmount.String()),
		MakeDenomination: req.MakeDenomination.String(),
		TakeAmount:       json.Number(req.TakeAmount.String()),
		TakeDenomination: req.TakeDenomination.String(),
	}
}

// NewOrderDTO domain -> wire
func NewOrderDTO(o domain.Order) OrderDTO {
	return OrderDTO{ID: o.ID, OrderRequestDTO: NewOrderRequestDTO(o.Request())}
}

// ToDomain wire -> domain，并做完整校验
func (d OrderRequestDTO) ToDomain() (domain.OrderRequest, error) {
	makeAmount, err := parseAmount("make_amount", d.MakeAmount)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	takeAmount, err := parseAmount("take_amount", d.TakeAmount)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	makeDenom, err := domain.ParseCurrency(d.MakeDenomination)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	takeDenom, err := domain.ParseCurrency(d.TakeDenomination)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	req := domain.OrderRequest{
		Kind:             domain.OrderKind(d.Kind),
		MakeAmount:       makeAmount,
		MakeDenomination: makeDenom,
		TakeAmount:       takeAmount,
		TakeDenomination: takeDenom,
	}
	return req, req.Validate()
}

// ToDomain wire -> domain，并做完整校验
func (d OrderDTO) ToDomain() (domain.Order, error) {
	req, err := d.OrderRequestDTO.ToDomain()
	if err != nil {
		return domain.Order{}, err
	}
	o := domain.NewOrder(d.ID, req)
	return o, o.Validate()
}

func parseAmount(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	v, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrValidation, field, err)
	}
	return v, nil
}
