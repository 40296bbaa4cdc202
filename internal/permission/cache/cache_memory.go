package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	"permguard/pkg/platform/sentinel"
)

type entry struct {
	perms     []models.EffectivePermission
	expiresAt time.Time
}

// InMemoryCache is a process-local TTL cache. Expired entries are dropped
// lazily on read and by Sweep.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption func(*InMemoryCache)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) InMemoryOption {
	return func(c *InMemoryCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.EffectivePermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, sentinel.ErrCacheMiss
	}
	if !c.clock().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, sentinel.ErrCacheMiss
	}
	return slices.Clone(e.perms), nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, perms []models.EffectivePermission, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{perms: slices.Clone(perms), expiresAt: c.clock().Add(ttl)}
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (c *InMemoryCache) Sweep() int {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ ports.Cache = (*InMemoryCache)(nil)
