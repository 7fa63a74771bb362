package pluginapi

import (
	"fmt"
	"sync"
	"time"
)

// symbolValidationTTL is the cache lifetime spec §4.A allows for
// ValidateSymbol results ("Results MAY be cached in-instance with a
// 1-hour TTL").
const symbolValidationTTL = time.Hour

type symbolCacheEntry struct {
	valid   bool
	expires time.Time
}

// symbolValidationCache is a small TTL cache keyed by (plugin instance,
// symbol), grounded on the teacher's internal/data/cache.TTLCache
// shape: an RWMutex-guarded map with expiry checked lazily on Get
// rather than via a background sweep, since entries here are cheap and
// few.
type symbolValidationCache struct {
	mu      sync.RWMutex
	entries map[string]symbolCacheEntry
	ttl     time.Duration
}

func newSymbolValidationCache(ttl time.Duration) *symbolValidationCache {
	return &symbolValidationCache{entries: make(map[string]symbolCacheEntry), ttl: ttl}
}

func (c *symbolValidationCache) get(key string) (valid bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[key]
	if !found || time.Now().After(e.expires) {
		return false, false
	}
	return e.valid, true
}

func (c *symbolValidationCache) set(key string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = symbolCacheEntry{valid: valid, expires: time.Now().Add(c.ttl)}
}

// defaultSymbolCache backs the package-level ValidateSymbol helper.
// Caching is keyed off the Plugin value's identity, so distinct pooled
// instances (distinct credentials, distinct testnet flag) never share
// an entry.
var defaultSymbolCache = newSymbolValidationCache(symbolValidationTTL)

func symbolCacheKey(p Plugin, symbol string) string {
	return fmt.Sprintf("%p|%s", p, symbol)
}
