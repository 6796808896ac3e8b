// Package embedding provides the embedding client used by the vector index:
// provider calls with client-side pacing and a bounded in-process cache so
// repeated text never costs a second network round trip.
package embedding

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxEntries bounds the cache by entry count.
	DefaultMaxEntries = 10_000

	// DefaultMaxBytes bounds the cache by estimated memory (100 MB).
	DefaultMaxBytes = 100 * 1024 * 1024

	// DefaultTTL is how long an entry stays valid after it was stored.
	// Expiry is lazy: checked on read, not swept in the background.
	DefaultTTL = 24 * time.Hour

	// entryOverheadBytes is the fixed per-entry cost added to the vector
	// payload (8 bytes per dimension) when accounting against MaxBytes.
	entryOverheadBytes = 128
)

type cacheEntry struct {
	vector   []float64
	storedAt time.Time
	bytes    int64
}

// CacheConfig holds the eviction bounds for a Cache. Zero fields use the
// package defaults.
type CacheConfig struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// Cache is a bounded embedding cache keyed by normalized input text.
// Strict LRU by entry count, plus a byte ceiling and a per-entry TTL.
// A single mutex guards it; entries are small and operations are O(1),
// so contention is not a concern at conversational request rates.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, *cacheEntry]
	bytes int64

	maxBytes int64
	ttl      time.Duration

	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable so expiry is testable without sleeping.
	now func() time.Time
}

// NewCache creates a cache with the given bounds.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &Cache{
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
	// NewLRU only errors on a non-positive size, which is excluded above.
	lru, err := simplelru.NewLRU(cfg.MaxEntries, func(_ string, e *cacheEntry) {
		c.bytes -= e.bytes
		c.evictions++
	})
	if err != nil {
		panic(err)
	}
	c.lru = lru
	return c
}

// Get returns the cached vector for key and refreshes its recency.
// Expired entries are removed and reported as misses.
func (c *Cache) Get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.vector, true
}

// Put stores a vector under key, evicting least-recently-used entries until
// both the count and byte bounds hold. An entry larger than the byte ceiling
// is not stored at all.
func (c *Cache) Put(key string, vector []float64) {
	cost := int64(8*len(vector)) + entryOverheadBytes
	if cost > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing an existing entry must not double-count its bytes.
	if old, ok := c.lru.Peek(key); ok {
		c.bytes -= old.bytes
	}

	c.lru.Add(key, &cacheEntry{
		vector:   vector,
		storedAt: c.now(),
		bytes:    cost,
	})
	c.bytes += cost

	for c.bytes > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the current estimated memory footprint.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
