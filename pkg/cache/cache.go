package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// InMemoryCache 内存 TTL 缓存，过期项在读取或 Purge 时清理（没有后台 goroutine）
type InMemoryCache[K comparable, V any] struct {
	items      map[K]cacheItem[V]
	mu         sync.Mutex
	defaultTTL time.Duration
	clock      clock.Clock
}

// cacheItem 缓存项
type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCacheWithClock 创建内存缓存，clk 为 nil 时使用系统时间（测试中注入 clock.Mock）
func NewInMemoryCacheWithClock[K comparable, V any](defaultTTL time.Duration, clk clock.Clock) *InMemoryCache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		clock:      clk,
	}
}

// Get 获取缓存值；到达过期时间即视为不存在
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if !item.expiresAt.After(c.clock.Now()) {
		delete(c.items, key)
		return zero, false
	}
	return item.value, true
}

// Has key 是否存在且未过期
func (c *InMemoryCache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Set 设置缓存值，ttl 为 0 时使用默认 TTL；最终 TTL 不为正时不写入
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem[V]{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size 缓存项数量（含尚未清理的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge 清理过期项，返回清理数量
func (c *InMemoryCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for key, item := range c.items {
		if !item.expiresAt.After(now) {
			delete(c.items, key)
			n++
		}
	}
	return n
}
