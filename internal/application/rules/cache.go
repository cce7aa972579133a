package rules

import (
	"sync"
	"sync/atomic"
)

type cacheKey struct {
	ruleID          string
	authorizationID string
}

type cacheEntry struct {
	revision int64
	passed   bool
}

// resultCache holds one result per (rule, authorization). An entry is served only
// while the request revision it was computed for is current.
type resultCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	hits    atomic.Int64
	misses  atomic.Int64
}

// CacheStats summarizes cache usage
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *resultCache) get(ruleID, authorizationID string, revision int64) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{ruleID, authorizationID}]
	c.mu.RUnlock()

	if !ok || entry.revision != revision {
		c.misses.Add(1)
		return false, false
	}
	c.hits.Add(1)
	return entry.passed, true
}

func (c *resultCache) put(ruleID, authorizationID string, revision int64, passed bool) {
	c.mu.Lock()
	c.entries[cacheKey{ruleID, authorizationID}] = cacheEntry{revision: revision, passed: passed}
	c.mu.Unlock()
}

func (c *resultCache) dropRule(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.ruleID == ruleID {
			delete(c.entries, key)
		}
	}
}

func (c *resultCache) forget(authorizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.authorizationID == authorizationID {
			delete(c.entries, key)
		}
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

func (c *resultCache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
