package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// fetchFunc loads the value for a cache key.
type fetchFunc[V any] func(ctx context.Context, key string) (V, error)

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// boundedCache is a size-capped cache with oldest-insertion eviction and an
// optional TTL. Concurrent misses for the same key share one fetch.
// The mutex is never held during a fetch.
type boundedCache[V any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[V]
	order   []string

	maxEntries int
	ttl        time.Duration // 0 = entries never expire
	timeout    time.Duration
	now        func() time.Time
	fetch      fetchFunc[V]
	group      singleflight.Group
}

func newBoundedCache[V any](maxEntries int, ttl, timeout time.Duration, now func() time.Time, fetch fetchFunc[V]) *boundedCache[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &boundedCache[V]{
		entries:    make(map[string]cacheEntry[V]),
		maxEntries: maxEntries,
		ttl:        ttl,
		timeout:    timeout,
		now:        now,
		fetch:      fetch,
	}
}

// Get returns the cached value or fetches it.
func (c *boundedCache[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}
	return c.load(ctx, key)
}

// Refresh fetches the value regardless of what is cached.
func (c *boundedCache[V]) Refresh(ctx context.Context, key string) (V, error) {
	return c.load(ctx, key)
}

// Len returns the number of cached entries.
func (c *boundedCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *boundedCache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *boundedCache[V]) load(ctx context.Context, key string) (V, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not
		// fail every waiter on the same key.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		v, err := c.fetch(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *boundedCache[V]) store(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
	}
	for len(c.order) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cacheEntry[V]{value: v, storedAt: c.now()}
	c.order = append(c.order, key)
}

func (c *boundedCache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
