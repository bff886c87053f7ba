// Package throttle limits how often the chain head is asked for.
package throttle

import (
	"context"
	"sync"
	"time"
)

// HeadSource returns the current chain head.
type HeadSource interface {
	Head(ctx context.Context) (uint64, error)
}

// HeadCache caches the chain head for ttl. Probes hitting /health keep
// their node traffic bounded by it.
type HeadCache struct {
	source HeadSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source HeadSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// Head returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) Head(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.Head(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
