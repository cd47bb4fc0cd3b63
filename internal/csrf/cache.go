package csrf

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache is the external key-value store holding forgery tokens, keyed by a
// stable per-caller identifier. Eviction is the cache's own business via
// TTL; the guard never manages it.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache is an in-process Cache with TTL and bounded cardinality via
// LRU eviction. It serves single-node deployments and the test suite; the
// redis implementation is the multi-node option.
type MemoryCache struct {
	mu    sync.Mutex
	data  map[string]*list.Element
	lru   *list.List
	cap   int
	nowFn func() time.Time // for tests
}

type memEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithCapacity(100_000)
}

func NewMemoryCacheWithCapacity(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &MemoryCache{
		data:  make(map[string]*list.Element, capacity/2),
		lru:   list.New(),
		cap:   capacity,
		nowFn: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.data[key]
	if !ok {
		return "", false, nil
	}
	en := el.Value.(*memEntry)
	if c.nowFn().After(en.expiresAt) {
		delete(c.data, key)
		c.lru.Remove(el)
		return "", false, nil
	}
	c.lru.MoveToFront(el)
	return en.value, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key, value string, ttl time.Duration) error {
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		en := el.Value.(*memEntry)
		en.value = value
		en.expiresAt = now.Add(ttl)
		c.lru.MoveToFront(el)
		return nil
	}
	// Capacity guard: evict LRU tail if full.
	if c.lru.Len() >= c.cap {
		back := c.lru.Back()
		if back != nil {
			old := back.Value.(*memEntry)
			delete(c.data, old.key)
			c.lru.Remove(back)
		}
	}
	en := &memEntry{key: key, value: value, expiresAt: now.Add(ttl)}
	c.data[key] = c.lru.PushFront(en)
	return nil
}
