package candle

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"candlescan/internal/model"
)

// DefaultCacheCapacity is the number of metric results kept before the least
// recently used one is evicted.
const DefaultCacheCapacity = 20

// MetricKey identifies one memoized metric computation. The fingerprint is
// a content hash of the bars the metric reads, so identical content maps to
// the same key no matter which slice or offset holds it.
type MetricKey struct {
	Metric      string
	Fingerprint uint64
	Period      int
	Span        int
}

// cacheEntry carries a second, independent content hash so that a
// fingerprint collision is detected instead of returning a foreign value.
type cacheEntry struct {
	check uint64
	value float64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Len       int
}

// Cache memoizes aggregate metric results with LRU eviction. All methods are
// safe for concurrent use; get-or-compute runs under a single lock so the
// recency order stays exact under contention.
type Cache struct {
	mu    sync.Mutex
	store *lru.Cache[MetricKey, cacheEntry]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewCache creates a cache holding at most capacity entries. A capacity
// below 1 falls back to DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	store, err := lru.New[MetricKey, cacheEntry](capacity)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &Cache{store: store}
}

// GetOrCompute returns the cached value for (metric, w, period) or calls
// compute, stores its result and evicts the least recently used entry when
// the cache is full.
func (c *Cache) GetOrCompute(metric string, w model.Window, period int, compute func() float64) float64 {
	key, check := newWindowPrints(w).key(metric, 0, period, w)
	return c.getOrCompute(key, check, compute)
}

func (c *Cache) getOrCompute(key MetricKey, check uint64, compute func() float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.store.Get(key); ok && e.check == check {
		c.hits.Add(1)
		return e.value
	}

	c.misses.Add(1)
	v := compute()
	if evicted := c.store.Add(key, cacheEntry{check: check, value: v}); evicted {
		c.evictions.Add(1)
	}
	return v
}

// Contains reports whether a result for (metric, w, period) is cached,
// without touching the recency order.
func (c *Cache) Contains(metric string, w model.Window, period int) bool {
	key, check := newWindowPrints(w).key(metric, 0, period, w)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.Peek(key)
	return ok && e.check == check
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Stats returns the current counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
	}
}
