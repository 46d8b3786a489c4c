package ordersvc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granola/granola/internal/domain"
)

func testClient(url string) *Client {
	cfg := DefaultConfig()
	cfg.RetryWait = time.Millisecond
	cfg.RetryMaxWait = 5 * time.Millisecond
	return NewClientWithConfig(url+"/", cfg)
}

func TestListOrders_ParsesNumbersAndReportsUnparsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":"a1","kind":"sell","make_amount":42.5,"make_denomination":"sat","take_amount":3,"take_denomination":"usd"},
			{"id":"a2","kind":"buy","make_amount":0,"make_denomination":"sat","take_amount":3,"take_denomination":"usd"},
			{"id":"a3","kind":"buy","make_amount":1,"make_denomination":"doge","take_amount":3,"take_denomination":"usd"},
			{"id":"a4","kind":"SELL","make_amount":1,"make_denomination":"sat","take_amount":3,"take_denomination":"usd"},
			{"kind":"sell","make_amount":1,"make_denomination":"sat","take_amount":3,"take_denomination":"usd"}
		]`)
	}))
	defer srv.Close()

	list, err := testClient(srv.URL).ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "a1", list.Orders[0].ID)
	assert.True(t, list.Orders[0].MakeAmount.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, domain.CurrencyUSD, list.Orders[0].TakeDenomination)
	// 没有 id 的记录对应不到任何本地订单
	assert.Equal(t, []string{"a2", "a3", "a4"}, list.Unparsed)
}

func TestCreateOrder_SendsJSONNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 400.0, body["make_amount"])
		assert.Equal(t, "sat", body["make_denomination"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"new-1","kind":"sell","make_amount":400,"make_denomination":"sat","take_amount":20.5,"take_denomination":"brl"}`)
	}))
	defer srv.Close()

	o, err := testClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Kind:             domain.OrderKindSell,
		MakeAmount:       decimal.NewFromInt(400),
		MakeDenomination: domain.CurrencySat,
		TakeAmount:       decimal.RequireFromString("20.5"),
		TakeDenomination: domain.CurrencyBRL,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", o.ID)
	assert.True(t, o.TakeAmount.Equal(decimal.RequireFromString("20.5")))
}

func TestCreateOrder_NotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Database error: locked"}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Kind:             domain.OrderKindBuy,
		MakeAmount:       decimal.NewFromInt(1),
		MakeDenomination: domain.CurrencySat,
		TakeAmount:       decimal.NewFromInt(1),
		TakeDenomination: domain.CurrencyEUR,
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "Database error: locked", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListOrders_RetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	list, err := testClient(srv.URL).ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeleteOrder_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/order/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Order abc not found"}`)
	}))
	defer srv.Close()

	err := testClient(srv.URL).DeleteOrder(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Contains(t, err.Error(), "Order abc not found")
}

func TestDeleteOrder_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"Order abc deleted successfully"}`)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).DeleteOrder(context.Background(), "abc"))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.RetryCount = 0
	err := NewClientWithConfig(url, cfg).DeleteOrder(context.Background(), "abc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRateLimit_WaitsForToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RateLimit = 0.01 // 100 秒一个令牌
	cfg.RateBurst = 1
	c := NewClientWithConfig(srv.URL, cfg)

	_, err := c.ListOrders(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.ListOrders(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load(), "limited request never reaches the server")
}
