package tool

import (
	"context"
	"sync"
	"time"
)

// Cache stores raw PokeAPI response bodies keyed by URL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
	// Prune deletes expired entries and reports how many were removed.
	Prune(ctx context.Context) (int, error)
	Close() error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NopCache) Set(context.Context, string, []byte)        {}
func (NopCache) Prune(context.Context) (int, error)         { return 0, nil }
func (NopCache) Close() error                               { return nil }

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time // for testing
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.body, true
}

func (c *MemoryCache) Set(_ context.Context, key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]byte, len(body))
	copy(cp, body)
	c.entries[key] = memoryEntry{body: cp, expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Prune(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }

var (
	_ Cache = NopCache{}
	_ Cache = (*MemoryCache)(nil)
)
