package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridwise/csms/internal/ports"
)

// LocalCache is the in-process variant, used in tests and single-node
// deployments without Redis. Expiry is lazy.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
}

type localEntry struct {
	value   string
	expires time.Time
}

var _ ports.Cache = (*LocalCache)(nil)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = fmt.Errorf("cache miss")

func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]localEntry)}
}

func (c *LocalCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!entry.expires.IsZero() && !entry.expires.After(time.Now())) {
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

func (c *LocalCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	entry := localEntry{value: fmt.Sprint(value)}
	if expiration > 0 {
		entry.expires = time.Now().Add(expiration)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Ping() error { return nil }

func (c *LocalCache) Close() error { return nil }
