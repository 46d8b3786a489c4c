// Package ordersvc 远端订单服务的 REST 客户端与线上数据格式
package ordersvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/pkg/ratelimit"
)

var log = logrus.WithField("component", "ordersvc")

// ErrNotFound 404；与 domain.ErrOrderNotFound 是同一个值
var ErrNotFound = domain.ErrOrderNotFound

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API Error: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API Error: %s", e.Status)
}

// Is 404 匹配 ErrNotFound
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config 客户端配置
type Config struct {
	Timeout      time.Duration
	RetryCount   int // 只对 GET 生效
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
	// RateLimit 每秒请求数上限（轮询 + 用户操作共用），0 表示不限制
	RateLimit float64
	RateBurst int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		RetryCount:   2,
		RetryWait:    500 * time.Millisecond,
		RetryMaxWait: 5 * time.Second,
		UserAgent:    "granola/1.0",
		RateLimit:    10,
		RateBurst:    5,
	}
}

// Client 订单服务客户端
type Client struct {
	client    *resty.Client
	userAgent string
	limiter   ratelimit.RateLimiter
}

// NewClient 默认配置的客户端
func NewClient(host string) *Client {
	return NewClientWithConfig(host, DefaultConfig())
}

// NewClientWithConfig 创建客户端
func NewClientWithConfig(host string, cfg Config) *Client {
	host = strings.TrimSuffix(host, "/")

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// POST/DELETE 不在传输层重试：create 重放会多挂一单，delete 由下一次同步纠正
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	c := &Client{client: client, userAgent: cfg.UserAgent}
	if cfg.RateLimit > 0 {
		c.limiter = ratelimit.NewTokenBucket(cfg.RateBurst, cfg.RateLimit)
	}
	return c
}

// wait 本地限流，ctx 结束时返回
func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil || ctx == nil {
		return nil
	}
	return errors.Wrap(c.limiter.Wait(ctx), op)
}

// 仅设置本次请求的 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("Content-Type", "application/json")
	if c.userAgent != "" {
		r.SetHeader("User-Agent", c.userAgent)
	}
	return r
}

// ListOrders GET /orders
// 无法解析的记录不会被丢弃成"远端不存在"：带 id 的记入 Unparsed
func (c *Client) ListOrders(ctx context.Context) (domain.OrderList, error) {
	if err := c.wait(ctx, "list orders"); err != nil {
		return domain.OrderList{}, err
	}
	var dtos []OrderDTO
	resp, err := c.newRequest(ctx).SetResult(&dtos).Get("/orders")
	if err := checkResponse(resp, err, "list orders"); err != nil {
		return domain.OrderList{}, err
	}

	list := domain.OrderList{Orders: make([]domain.Order, 0, len(dtos))}
	for _, dto := range dtos {
		o, err := dto.ToDomain()
		if err != nil {
			log.Warnf("[订单服务] 无法解析的订单 id=%q: %v", dto.ID, err)
			if dto.ID != "" {
				list.Unparsed = append(list.Unparsed, dto.ID)
			}
			continue
		}
		list.Orders = append(list.Orders, o)
	}
	return list, nil
}

// CreateOrder POST /order
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := c.wait(ctx, "create order"); err != nil {
		return domain.Order{}, err
	}
	var dto OrderDTO
	resp, err := c.newRequest(ctx).
		SetBody(NewOrderRequestDTO(req)).
		SetResult(&dto).
		Post("/order")
	if err := checkResponse(resp, err, "create order"); err != nil {
		return domain.Order{}, err
	}

	o, err := dto.ToDomain()
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "create order: invalid response")
	}
	return o, nil
}

// DeleteOrder DELETE /order/{id}；订单不存在时返回的错误匹配 ErrNotFound
func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: order id is empty", domain.ErrValidation)
	}
	if err := c.wait(ctx, "delete order"); err != nil {
		return err
	}
	resp, err := c.newRequest(ctx).
		SetPathParam("id", id).
		Delete("/order/{id}")
	return checkResponse(resp, err, "delete order")
}

// checkResponse 把传输错误与非 2xx 统一成 error
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return errors.WithMessage(apiErr, op)
}
