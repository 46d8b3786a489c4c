package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// TokenBucket 令牌桶速率限制器（按经过的时间连续补充令牌）
type TokenBucket struct {
	capacity   float64 // 桶容量（突发上限）
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	clock      clock.Clock
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶，初始为满
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return NewTokenBucketWithClock(capacity, refillRate, clock.New())
}

// NewTokenBucketWithClock 指定时间源（测试中注入 clock.Mock）
func NewTokenBucketWithClock(capacity int, refillRate float64, clk clock.Clock) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: clk.Now(),
		clock:      clk,
	}
}

// refill 补充令牌（调用方持有锁）
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}

// reserve 取一个令牌；不够时返回需要等待的时间（refillRate 为 0 时返回 -1）
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	if tb.refillRate <= 0 {
		return -1
	}
	wait := time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// Allow 检查是否允许请求（不等待）
func (tb *TokenBucket) Allow() bool {
	return tb.reserve() == 0
}

// Wait 等待直到取得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait := tb.reserve()
		if wait == 0 {
			return nil
		}
		if wait < 0 {
			// 不补充令牌：只能等 ctx 结束
			<-ctx.Done()
			return ctx.Err()
		}

		timer := tb.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}
