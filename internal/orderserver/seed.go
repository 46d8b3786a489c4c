package orderserver

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/granola/granola/internal/domain"
)

// NewOrderID 32 字节随机数的 hex（64 个字符），由两个 v4 uuid 拼接
func NewOrderID() string {
	a, b := uuid.New(), uuid.New()
	buf := make([]byte, 0, 32)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return hex.EncodeToString(buf)
}

// RandomOrder 随机方向、币种（两边不同），金额在 [1, 100) 内
func RandomOrder(rng *rand.Rand) domain.Order {
	kinds := []domain.OrderKind{domain.OrderKindBuy, domain.OrderKindSell}
	makeD := domain.Currencies[rng.IntN(len(domain.Currencies))]
	takeD := makeD
	for takeD == makeD {
		takeD = domain.Currencies[rng.IntN(len(domain.Currencies))]
	}
	amount := func(c domain.Currency) decimal.Decimal {
		return decimal.NewFromFloat(1 + rng.Float64()*99).Truncate(c.Decimals())
	}
	return domain.Order{
		ID:               NewOrderID(),
		Kind:             kinds[rng.IntN(len(kinds))],
		MakeAmount:       amount(makeD),
		MakeDenomination: makeD,
		TakeAmount:       amount(takeD),
		TakeDenomination: takeD,
	}
}

// Seed 写入 n 个假订单
func Seed(ctx context.Context, repo Repository, n int, rng *rand.Rand) error {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	for i := 0; i < n; i++ {
		if err := repo.Insert(ctx, RandomOrder(rng)); err != nil {
			return fmt.Errorf("seed order %d: %w", i, err)
		}
	}
	return nil
}
