package orderserver

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ordersvc"
)

func repos(t *testing.T) map[string]Repository {
	t.Helper()
	sqliteRepo, err := OpenRepository(StorageConfig{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "granola.db")})
	require.NoError(t, err)
	badgerRepo, err := OpenRepository(StorageConfig{Backend: BackendBadger, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqliteRepo.Close()
		_ = badgerRepo.Close()
	})
	return map[string]Repository{BackendSQLite: sqliteRepo, BackendBadger: badgerRepo}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOrderLifecycle(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			h := New(repo).Router()

			rec := do(t, h, http.MethodGet, "/orders", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `[]`, rec.Body.String())

			rec = do(t, h, http.MethodPost, "/order",
				`{"kind":"sell","make_amount":12.5,"make_denomination":"usd","take_amount":30000,"take_denomination":"sat"}`)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			var created ordersvc.OrderDTO
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
			assert.Len(t, created.ID, 64)
			assert.Equal(t, "12.5", created.MakeAmount.String())

			rec = do(t, h, http.MethodGet, "/orders", "")
			var listed []ordersvc.OrderDTO
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
			require.Len(t, listed, 1)
			assert.Equal(t, created, listed[0])

			rec = do(t, h, http.MethodDelete, "/order/"+created.ID, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"message":"Order `+created.ID+` deleted successfully"}`, rec.Body.String())

			rec = do(t, h, http.MethodDelete, "/order/"+created.ID, "")
			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.JSONEq(t, `{"error":"Order `+created.ID+` not found"}`, rec.Body.String())
		})
	}
}

func TestCreateOrder_BadRequests(t *testing.T) {
	h := New(repos(t)[BackendSQLite]).Router()

	rec := do(t, h, http.MethodPost, "/order", `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON")

	rec = do(t, h, http.MethodPost, "/order",
		`{"kind":"sell","make_amount":-1,"make_denomination":"usd","take_amount":1,"take_denomination":"sat"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "make_amount")
}

func TestUnknownEndpoint(t *testing.T) {
	h := New(repos(t)[BackendBadger]).Router()

	rec := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Endpoint not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/orders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	h := New(repos(t)[BackendBadger]).Router()

	req := httptest.NewRequest(http.MethodOptions, "/order", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSeed(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(1, 2))
			require.NoError(t, Seed(context.Background(), repo, 7, rng))

			n, err := repo.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 7, n)

			orders, err := repo.List(context.Background())
			require.NoError(t, err)
			for _, o := range orders {
				require.NoError(t, o.Validate())
				assert.NotEqual(t, o.MakeDenomination, o.TakeDenomination)
				for _, amt := range []decimal.Decimal{o.MakeAmount, o.TakeAmount} {
					assert.True(t, amt.GreaterThanOrEqual(decimal.NewFromInt(1)), amt.String())
					assert.True(t, amt.LessThan(decimal.NewFromInt(100)), amt.String())
				}
			}
		})
	}
}

func TestNewOrderID(t *testing.T) {
	a, b := NewOrderID(), NewOrderID()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

// 客户端 + 服务端联调
func TestClientAgainstServer(t *testing.T) {
	srv := httptest.NewServer(New(repos(t)[BackendSQLite]).Router())
	defer srv.Close()
	client := ordersvc.NewClient(srv.URL)
	ctx := context.Background()

	o, err := client.CreateOrder(ctx, domain.OrderRequest{
		Kind:             domain.OrderKindBuy,
		MakeAmount:       decimal.RequireFromString("10.25"),
		MakeDenomination: domain.CurrencyEUR,
		TakeAmount:       decimal.NewFromInt(15000),
		TakeDenomination: domain.CurrencySat,
	})
	require.NoError(t, err)

	list, err := client.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Empty(t, list.Unparsed)
	assert.True(t, list.Orders[0].Equal(o))

	require.NoError(t, client.DeleteOrder(ctx, o.ID))
	err = client.DeleteOrder(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
