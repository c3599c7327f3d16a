package boatrace

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CacheEntry is the last successful GET body for a URL.
type CacheEntry struct {
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Age returns how old the entry is at now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}

// responseCache holds CacheEntries keyed by fully-qualified request URL.
// Entries are overwritten, never deleted.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]CacheEntry)}
}

func (c *responseCache) put(url string, data json.RawMessage, at time.Time) {
	c.mu.Lock()
	c.entries[url] = CacheEntry{Data: data, UpdatedAt: at}
	c.mu.Unlock()
}

func (c *responseCache) get(url string) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	return entry, ok
}

// fresh returns the entry for url if it is no older than window at now.
func (c *responseCache) fresh(url string, window time.Duration, now time.Time) (CacheEntry, bool) {
	entry, ok := c.get(url)
	if !ok || entry.Age(now) > window {
		return CacheEntry{}, false
	}
	return entry, true
}

func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetCached returns the cached body for path without touching the network.
// An entry older than the cache window is still returned together with an
// error so callers can render it as stale.
func (c *Client) GetCached(path string) (json.RawMessage, error) {
	url := c.baseURL + path
	entry, ok := c.cache.get(url)
	if !ok {
		return nil, fmt.Errorf("no cache entry for path: %s", path)
	}

	if entry.Age(c.now()) > c.cacheWindow {
		return entry.Data, fmt.Errorf("cache expired for path: %s", path)
	}

	return entry.Data, nil
}

// CacheLen reports how many URLs have a cached body.
func (c *Client) CacheLen() int {
	return c.cache.len()
}
