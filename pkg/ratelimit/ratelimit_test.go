package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := clock.NewMock()
	tb := NewTokenBucketWithClock(3, 2, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "burst %d", i)
	}
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.GetRemaining())

	clk.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	// 补充不超过容量
	clk.Add(time.Hour)
	assert.Equal(t, 3, tb.GetRemaining())
}

func TestTokenBucket_WaitBlocksUntilRefill(t *testing.T) {
	clk := clock.NewMock()
	tb := NewTokenBucketWithClock(1, 10, clk)
	require.True(t, tb.Allow())

	done := make(chan error, 1)
	go func() { done <- tb.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned before any refill")
	case <-time.After(20 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		clk.Add(20 * time.Millisecond)
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucketWithClock(1, 0, clock.NewMock())
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}
