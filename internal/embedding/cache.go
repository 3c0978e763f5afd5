package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/propsearch/prop-search/internal/pkg/hash"
	"github.com/propsearch/prop-search/internal/pkg/logger"
)

// RemoteStore is an optional second cache level (e.g. Redis) behind the
// in-process cache. Implementations must treat undecodable entries as absent.
type RemoteStore interface {
	// Get returns the vector for a key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (vector []float32, ok bool, err error)

	// Set stores a vector under a key with the given TTL.
	Set(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// entry is one cached vector with its expiry.
type entry struct {
	vector    []float32
	expiresAt time.Time
}

// Cache caches embedding vectors by text with TTL expiry and singleflight
// de-duplication: for a given key at most one upstream computation is in
// flight at a time, and all concurrent callers share its result.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string // LRU order, oldest first
	maxSize int
	ttl     time.Duration

	flight singleflight.Group
	remote RemoteStore // optional
	log    *logger.Logger

	// computeBudget bounds the shared flight so a detached computation
	// cannot run forever once its triggering caller has gone.
	computeBudget time.Duration
}

// CacheConfig configures the cache.
type CacheConfig struct {
	// MaxSize is the in-process entry limit (LRU eviction beyond it).
	MaxSize int

	// TTL is how long an entry stays valid. Expired entries are treated
	// as absent and recomputed.
	TTL time.Duration

	// ComputeBudget bounds a single upstream computation.
	ComputeBudget time.Duration
}

// NewCache creates an embedding cache. remote may be nil.
func NewCache(cfg CacheConfig, remote RemoteStore, log *logger.Logger) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ComputeBudget <= 0 {
		cfg.ComputeBudget = 30 * time.Second
	}

	return &Cache{
		entries:       make(map[string]entry),
		order:         make([]string, 0, cfg.MaxSize),
		maxSize:       cfg.MaxSize,
		ttl:           cfg.TTL,
		remote:        remote,
		log:           log,
		computeBudget: cfg.ComputeBudget,
	}
}

// Key returns the cache key for a text. The key is the exact text (hashed);
// callers wanting cross-query hits must normalize before calling.
func Key(text string) string {
	return hash.SHA256String(text)
}

// ComputeFunc produces a vector for a cache miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// flightResult carries a flight's outcome through singleflight.
type flightResult struct {
	vector []float32
	hit    bool
}

// GetOrCompute returns the cached vector for text, computing it via compute
// on a miss. Concurrent calls for the same text share one computation. The
// returned hit flag reports whether any cache level served the vector.
//
// The shared computation runs on a context detached from the triggering
// caller: cancelling one waiter abandons only that waiter, while the flight
// completes (within its budget) and populates the cache for the others.
func (c *Cache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) ([]float32, bool, error) {
	key := Key(text)

	if vec, ok := c.lookup(key); ok {
		return vec, true, nil
	}

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have populated
		// the entry between our miss and the flight starting.
		if vec, ok := c.lookup(key); ok {
			return flightResult{vector: vec, hit: true}, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeBudget)
		defer cancel()

		if vec, ok := c.remoteLookup(fctx, key); ok {
			c.store(key, vec)
			return flightResult{vector: vec, hit: true}, nil
		}

		vec, err := compute(fctx)
		if err != nil {
			return nil, err
		}

		c.store(key, vec)
		c.remoteStore(fctx, key, vec)
		return flightResult{vector: vec, hit: false}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		fr := res.Val.(flightResult)
		return fr.vector, fr.hit, nil
	case <-ctx.Done():
		// This caller departs; the flight keeps running for the others.
		return nil, false, ctx.Err()
	}
}

// Get returns the cached vector for text without computing on a miss.
func (c *Cache) Get(text string) ([]float32, bool) {
	return c.lookup(Key(text))
}

// Put stores a vector for text, bypassing the singleflight path. Used by
// batch computations that fill many keys from one upstream call.
func (c *Cache) Put(ctx context.Context, text string, vector []float32) {
	key := Key(text)
	c.store(key, vector)
	c.remoteStore(ctx, key, vector)
}

// lookup returns a live entry's vector. Expired entries are removed.
func (c *Cache) lookup(key string) ([]float32, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check: another goroutine may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			c.evict(key)
		}
		c.mu.Unlock()
		return nil, false
	}

	// Return a copy so callers cannot mutate the shared vector.
	vec := make([]float32, len(e.vector))
	copy(vec, e.vector)
	return vec, true
}

// store inserts or refreshes an entry, evicting the oldest beyond capacity.
func (c *Cache) store(key string, vector []float32) {
	vec := make([]float32, len(vector))
	copy(vec, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry{vector: vec, expiresAt: time.Now().Add(c.ttl)}
		c.moveToEnd(key)
		return
	}

	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry{vector: vec, expiresAt: time.Now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// evict removes a key (must hold write lock).
func (c *Cache) evict(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// moveToEnd moves a key to the end of the LRU order (must hold write lock).
func (c *Cache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

func (c *Cache) remoteLookup(ctx context.Context, key string) ([]float32, bool) {
	if c.remote == nil {
		return nil, false
	}

	vec, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		// Remote problems (including corrupt entries) degrade to a miss.
		if c.log != nil {
			c.log.Warn("remote cache lookup failed", "key", key[:8], "error", err)
		}
		return nil, false
	}
	return vec, ok
}

func (c *Cache) remoteStore(ctx context.Context, key string, vector []float32) {
	if c.remote == nil {
		return
	}

	if err := c.remote.Set(ctx, key, vector, c.ttl); err != nil && c.log != nil {
		c.log.Warn("remote cache store failed", "key", key[:8], "error", err)
	}
}

// Size returns the current in-process entry count.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all in-process entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.order = c.order[:0]
}

// CacheStats holds cache statistics for the analytics endpoint.
type CacheStats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"max_size"`
	TTLSecs int64 `json:"ttl_seconds"`
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTLSecs: int64(c.ttl.Seconds()),
	}
}
