package discovery

import (
	"context"
	"net/url"
	"sync"
	"time"
)

type cacheEntry struct {
	addr    *url.URL
	expires time.Time
}

// Cached memoizes successful resolutions for ttl. Failures are not cached.
type Cached struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCached wraps next with a TTL cache.
func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Resolve(ctx context.Context, target *url.URL) (*url.URL, error) {
	if !IsDynamic(target) {
		return c.next.Resolve(ctx, target)
	}

	key := target.String()
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		u := *e.addr
		return &u, nil
	}
	c.mu.Unlock()

	addr, err := c.next.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{addr: addr, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	u := *addr
	return &u, nil
}

// Purge drops every cached resolution.
func (c *Cached) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
