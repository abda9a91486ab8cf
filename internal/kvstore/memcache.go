package kvstore

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Process-local TTL cache
// ---------------------------------------------------------------------------

// TTLCache is a small in-process map with per-entry expiry and a hard entry
// cap. It lives for one invocation; there is no cross-process sharing.
type TTLCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	maxEntries int
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewTTLCache creates a cache bounded to maxEntries (0 means the default 1000).
func NewTTLCache(maxEntries int) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &TTLCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the cached value if present and unexpired.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores a value with the given TTL. When the cap is reached, expired
// entries are swept first; if still full, an arbitrary entry is evicted.
func (c *TTLCache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxEntries {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
