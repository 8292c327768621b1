package priceoracle

import (
	"context"
	"sync"
	"time"
)

// Cache holds a single quote. GetOrRefresh serializes refreshes so
// concurrent callers on a cold cache trigger one upstream fetch.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	staleTTL time.Duration
	now      func() time.Time
	quote    *Quote
}

// NewCache returns a cache whose quote is fresh for ttl and may still be
// served for staleTTL when a refresh fails.
func NewCache(ttl, staleTTL time.Duration) *Cache {
	if staleTTL < ttl {
		staleTTL = ttl
	}
	return &Cache{
		ttl:      ttl,
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

type refreshFunc func(ctx context.Context) (Quote, error)

func (c *Cache) GetOrRefresh(ctx context.Context, refresh refreshFunc) (Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.quote != nil && now.Sub(c.quote.FetchedAt) < c.ttl {
		return *c.quote, nil
	}

	q, err := refresh(ctx)
	if err == nil {
		c.quote = &q
		return q, nil
	}

	if c.quote != nil && now.Sub(c.quote.FetchedAt) < c.staleTTL {
		return *c.quote, nil
	}

	return Quote{}, err
}

// Peek returns the cached quote, if any, without refreshing.
func (c *Cache) Peek() (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quote == nil {
		return Quote{}, false
	}
	return *c.quote, true
}
