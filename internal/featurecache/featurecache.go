// Package featurecache fronts the feature engine and market data provider
// with a keyed, TTL-bounded store. Concurrent lookups for the same key
// coalesce onto one underlying computation via singleflight.
package featurecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies one cache entry: (ticker, period, feature_set_version).
type Key struct {
	Ticker            string
	Period            time.Duration
	FeatureSetVersion int
}

func (k Key) string() string {
	return fmt.Sprintf("%s|%s|%d", k.Ticker, k.Period, k.FeatureSetVersion)
}

type entry struct {
	key       Key
	value     interface{}
	insertedAt time.Time
	elem      *list.Element
}

// Cache is a bounded, TTL-aware, single-flight-coalescing in-process store.
// A degraded or full cache never returns an error to callers: a miss simply
// falls back to direct computation.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*entry
	order    *list.List // front = most recently used

	group singleflight.Group
}

// New creates a Cache with the given TTL and maximum entry count.
func New(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}
}

// Get returns the cached value for key, and whether it was found and still fresh.
func (c *Cache) Get(key Key) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.string()
	e, ok := c.entries[ks]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		c.removeLocked(e)
		return nil, false
	}

	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set inserts or replaces the cached value for key, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(key Key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.string()
	if existing, ok := c.entries[ks]; ok {
		existing.value = value
		existing.insertedAt = time.Now()
		c.order.MoveToFront(existing.elem)
		return
	}

	e := &entry{key: key, value: value, insertedAt: time.Now()}
	e.elem = c.order.PushFront(e)
	c.entries[ks] = e

	if len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// GetOrCompute returns the cached value for key if fresh, otherwise invokes
// compute exactly once across any number of concurrent callers sharing the
// same key, caches the result on success, and returns it.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ks := key.string()
	v, err, _ := c.group.Do(ks, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, result)
		return result, nil
	})
	return v, err
}

// InvalidateVersion drops every entry whose FeatureSetVersion differs from
// current, implementing the "feature-set version bump invalidates all cache
// keys" property.
func (c *Cache) InvalidateVersion(current int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ks, e := range c.entries {
		if e.key.FeatureSetVersion != current {
			delete(c.entries, ks)
			c.order.Remove(e.elem)
		}
	}
}

// Len returns the number of entries currently cached, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key.string())
	c.order.Remove(e.elem)
}

func (c *Cache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.removeLocked(e)
}
