// Package cache provides a generic loader cache combining LRU storage with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// store is the subset shared by lru.Cache and expirable.LRU.
type store[V any] interface {
	Add(key string, value V) bool
	Get(key string) (V, bool)
	Remove(key string) bool
	Purge()
	Len() int
}

// LoaderCache loads values on miss via a callback. Concurrent misses for one key share a
// single load. Keys are converted to strings via keyToString for LRU and singleflight.
type LoaderCache[K comparable, V any] struct {
	entries     store[V]
	group       singleflight.Group
	keyToString func(K) string

	// mu orders invalidations against storing a finished load; epoch counts invalidations.
	mu    sync.Mutex
	epoch uint64
}

// Option configures a LoaderCache.
type Option func(*options)

type options struct {
	ttl time.Duration
}

// WithTTL expires entries ttl after they were added. Zero keeps entries until evicted by size.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// NewLoaderCache creates a loader cache with the given max entries and key serializer.
func NewLoaderCache[K comparable, V any](maxEntries int, keyToString func(K) string, opts ...Option) (*LoaderCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxEntries)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var entries store[V]

	if o.ttl > 0 {
		entries = expirable.NewLRU[string, V](maxEntries, nil, o.ttl)
	} else {
		c, err := lru.New[string, V](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create lru: %w", err)
		}

		entries = c
	}

	return &LoaderCache[K, V]{
		entries:     entries,
		keyToString: keyToString,
	}, nil
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get but also reports whether the value came from cache.
// Failed loads are not cached, and neither is a load that overlapped an invalidation.
func (c *LoaderCache[K, V]) GetWithStats(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, bool, error) {
	keyStr := c.keyToString(key)
	if v, ok := c.entries.Get(keyStr); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		c.mu.Lock()
		started := c.epoch
		c.mu.Unlock()

		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.mu.Lock()
		if c.epoch == started {
			c.entries.Add(keyStr, loaded)
		}
		c.mu.Unlock()

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	return val.(V), false, nil
}

// Invalidate removes the entry for key and detaches any in-flight load from later callers.
// A load in flight for any key when Invalidate runs is returned to its callers but not stored.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	keyStr := c.keyToString(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.group.Forget(keyStr)
	c.entries.Remove(keyStr)
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.entries.Len()
}

// Identity is a keyToString for string keys.
func Identity(s string) string { return s }
