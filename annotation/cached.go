package annotation

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached memoizes successful annotations for a fixed TTL. Failures are not
// cached, so a recovered provider is used again on the next call.
type Cached struct {
	next  Provider
	cache *gocache.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps next with a TTL cache.
func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Annotate returns a cached result for an identical request, or delegates.
func (c *Cached) Annotate(ctx context.Context, req Request) (Insights, error) {
	key, err := cacheKey(req)
	if err != nil {
		return c.next.Annotate(ctx, req)
	}
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v.(Insights), nil
	}
	c.misses.Add(1)

	insights, err := c.next.Annotate(ctx, req)
	if err != nil {
		return Insights{}, err
	}
	c.cache.SetDefault(key, insights)
	return insights, nil
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}

func cacheKey(req Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
