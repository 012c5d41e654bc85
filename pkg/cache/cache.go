package cache

import (
	"context"
	"sync"

	"globelod/pkg/store"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteCache implements Cacher on top of the persistent cache table.
type SQLiteCache struct {
	store store.CacheStore
}

// NewSQLiteCache creates a new cache.
func NewSQLiteCache(s store.CacheStore) *SQLiteCache {
	return &SQLiteCache{store: s}
}

func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	return c.store.GetCache(ctx, key)
}

func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	return c.store.SetCache(ctx, key, val)
}

// MemoryCache is a bounded in-process Cacher. Oldest entries are evicted first.
type MemoryCache struct {
	mu    sync.Mutex
	max   int
	order []string
	items map[string][]byte
}

// NewMemoryCache creates a cache holding at most max entries. max <= 0 means unbounded.
func NewMemoryCache(max int) *MemoryCache {
	return &MemoryCache{max: max, items: make(map[string][]byte)}
}

func (c *MemoryCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *MemoryCache) SetCache(ctx context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = append([]byte(nil), val...)

	for c.max > 0 && len(c.order) > c.max {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
