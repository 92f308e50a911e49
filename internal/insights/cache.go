package insights

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache memoizes Insights per request key with a per-entry TTL. Expiry is
// checked on read; an expired entry is a miss and is overwritten by the next
// Put for its key. Values are copied on the way in and out.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key       string
	value     Insight
	origin    Origin
	createdAt time.Time
	expiresAt time.Time
}

// CacheStats is a point-in-time view of cache usage
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewCache creates an empty cache. maxEntries <= 0 means unbounded.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns a live entry for key
func (c *Cache) Get(key string) (Insight, bool) {
	v, _, ok := c.Lookup(key)
	return v, ok
}

// Lookup is Get that also reports how the entry was produced
func (c *Cache) Lookup(key string) (Insight, Origin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		c.misses.Add(1)
		return Insight{}, "", false
	}
	c.hits.Add(1)
	return entry.value.Clone(), entry.origin, true
}

// Put stores a model-generated value
func (c *Cache) Put(key string, value Insight, ttl time.Duration) {
	c.PutWithOrigin(key, value, OriginLLM, ttl)
}

// PutWithOrigin stores value for ttl. A non-positive ttl stores nothing.
func (c *Cache) PutWithOrigin(key string, value Insight, origin Origin, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = &cacheEntry{
		key:       key,
		value:     value.Clone(),
		origin:    origin,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// evictLocked drops expired entries, or failing that the entry closest to
// expiry. Caller holds the write lock.
func (c *Cache) evictLocked(now time.Time) {
	if c.purgeLocked(now) > 0 {
		return
	}
	var victim *cacheEntry
	for _, e := range c.entries {
		if victim == nil || e.expiresAt.Before(victim.expiresAt) {
			victim = e
		}
	}
	if victim != nil {
		delete(c.entries, victim.key)
	}
}

func (c *Cache) purgeLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Purge removes expired entries and returns how many were dropped
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(c.now())
}

// Delete removes key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including expired ones not yet
// overwritten or purged
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns usage counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
