// Package memo provides a concurrency-safe compute-once cache used by
// enrichment stages to avoid redundant computation of expensive values.
//
// The cache is single-flight per key: while a computation is pending, every
// concurrent caller for that key awaits the one in-flight result instead of
// computing again. Successful values are memoized (optionally with a TTL) and
// failed computations are memoized for an error-retry interval so a failing
// dependency is not hammered.
//
// The cache-wide mutex guards only the entry map and the eviction index;
// computing and waiting always happen outside it, so work on one key never
// blocks unrelated keys.
package memo

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the number of distinct keys. Must be > 0.
	// Least-recently-used terminal entries are evicted; in-flight
	// computations are never disturbed.
	MaxEntries int

	// TTL is how long a successful value stays fresh. Zero means values
	// never expire (eviction still applies).
	TTL time.Duration

	// ErrorRetryInterval is how long a failed computation's error is
	// served from cache before one fresh computation is allowed.
	// Must be > 0.
	ErrorRetryInterval time.Duration
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits   int64 // Cached successful values served
	Misses int64 // Fresh computations started
	Errors int64 // Cached errors served within the retry interval
	Size   int   // Current number of entries, including in-flight ones
}

// entry is the per-key state. Terminal fields (value, err, retryAfter,
// expiresAt) are written exactly once, under the cache mutex, before done is
// closed; waiters read them after <-done without further locking.
type entry[V any] struct {
	done chan struct{}

	value      V
	err        error
	computedAt time.Time
	retryAfter time.Time // errors only
	expiresAt  time.Time // successes with TTL only

	elem *list.Element // eviction index position; nil while pending
}

// Cache is a bounded, memoizing, single-flight cache.
type Cache[K comparable, V any] struct {
	cfg Config

	mu      sync.Mutex
	entries map[K]*entry[V]
	lru     *list.List // of K; front is most recently used

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a cache. Invalid bounds fail at construction.
func New[K comparable, V any](cfg Config) (*Cache[K, V], error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache max entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.ErrorRetryInterval <= 0 {
		return nil, fmt.Errorf("cache error retry interval must be positive, got %s", cfg.ErrorRetryInterval)
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache TTL must not be negative, got %s", cfg.TTL)
	}

	return &Cache[K, V]{
		cfg:     cfg,
		entries: make(map[K]*entry[V]),
		lru:     list.New(),
	}, nil
}

// GetOrCompute returns the memoized value for key, computing it at most once
// per in-flight window. Concurrent callers for the same key all receive the
// one resulting value or error. A caller whose ctx is cancelled while waiting
// returns ctx.Err(); the computation itself continues for the remaining
// waiters and is memoized normally.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, compute func(context.Context) (V, error)) (V, error) {
	var zero V

	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok {
			select {
			case <-e.done:
				// Terminal entry: serve it if still fresh.
				now := time.Now()
				if e.err != nil {
					if now.Before(e.retryAfter) {
						c.mu.Unlock()
						c.errors.Add(1)
						return zero, e.err
					}
				} else if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
					c.lru.MoveToFront(e.elem)
					c.mu.Unlock()
					c.hits.Add(1)
					return e.value, nil
				}
				// Stale: replace with a fresh flight below.
				c.removeLocked(key, e)

			default:
				// A computation is in flight: await its outcome.
				c.mu.Unlock()
				select {
				case <-e.done:
					if e.err != nil {
						return zero, e.err
					}
					return e.value, nil
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
		}

		// Miss (or stale): this caller owns the new computation.
		e = &entry[V]{done: make(chan struct{})}
		c.entries[key] = e
		c.evictLocked()
		c.mu.Unlock()
		c.misses.Add(1)

		value, err := compute(ctx)

		now := time.Now()
		c.mu.Lock()
		e.value = value
		e.err = err
		e.computedAt = now
		if err != nil {
			e.retryAfter = now.Add(c.cfg.ErrorRetryInterval)
		} else if c.cfg.TTL > 0 {
			e.expiresAt = now.Add(c.cfg.TTL)
		}
		e.elem = c.lru.PushFront(key)
		c.mu.Unlock()
		close(e.done)

		return value, err
	}
}

// Get returns the memoized value for key without computing. The second
// return reports whether a fresh successful value was present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	select {
	case <-e.done:
	default:
		return zero, false
	}
	if e.err != nil {
		return zero, false
	}
	if !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Invalidate removes the entry for key if its computation has completed.
// An in-flight computation is left alone.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	select {
	case <-e.done:
		c.removeLocked(key, e)
	default:
	}
}

// Len returns the current number of entries, including in-flight ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
		Size:   size,
	}
}

// removeLocked drops a terminal entry from the map and the eviction index.
func (c *Cache[K, V]) removeLocked(key K, e *entry[V]) {
	delete(c.entries, key)
	if e.elem != nil {
		c.lru.Remove(e.elem)
	}
}

// evictLocked reclaims space until the entry count fits the bound. Only
// terminal entries appear in the eviction index, so in-flight computations
// are never evicted. If every entry over the bound is in flight there is
// temporarily nothing to reclaim.
func (c *Cache[K, V]) evictLocked() {
	for len(c.entries) > c.cfg.MaxEntries {
		back := c.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(K)
		if e, ok := c.entries[key]; ok {
			c.removeLocked(key, e)
		} else {
			c.lru.Remove(back)
		}
	}
}
