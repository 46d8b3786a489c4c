package cache

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryCache_Expiry(t *testing.T) {
	clk := clock.NewMock()
	c := NewInMemoryCacheWithClock[string, int](30*time.Second, clk)

	c.Set("a", 1, 0)
	c.Set("b", 2, 10*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Add(10 * time.Second)
	assert.False(t, c.Has("b"), "expires exactly at ttl")
	assert.True(t, c.Has("a"))

	// 重新 Set 会重新计算窗口
	clk.Add(15 * time.Second)
	c.Set("a", 3, 0)
	clk.Add(20 * time.Second)
	v, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestInMemoryCache_PurgeAndDelete(t *testing.T) {
	clk := clock.NewMock()
	c := NewInMemoryCacheWithClock[string, struct{}](time.Minute, clk)

	c.Set("x", struct{}{}, 0)
	c.Set("y", struct{}{}, 0)
	c.Set("z", struct{}{}, 2*time.Minute)
	assert.Equal(t, 3, c.Size())

	c.Delete("y")
	assert.False(t, c.Has("y"))

	clk.Add(time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Size())

	c.Delete("z")
	assert.Equal(t, 0, c.Size())
}

func TestInMemoryCache_NonPositiveTTLIsNoop(t *testing.T) {
	c := NewInMemoryCacheWithClock[string, int](0, clock.NewMock())
	c.Set("a", 1, 0)
	c.Set("b", 1, -time.Second)
	assert.Equal(t, 0, c.Size())
}
