package resilience

import (
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// DefaultCacheEntries bounds the offline cache per source.
const DefaultCacheEntries = 10000

// OfflineCache holds the last known entries of one storage source.
//
// While the source's breaker is open, status queries and catalog reads are
// answered from here instead of failing outright. The cache is bounded;
// when full, the oldest entry is evicted.
type OfflineCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*cacheEntry
	clock      func() time.Time
}

type cacheEntry struct {
	info     *protocol.FileInfo
	cachedAt time.Time
}

// NewOfflineCache builds a cache bounded to maxEntries. Zero or negative
// means DefaultCacheEntries.
func NewOfflineCache(maxEntries int) *OfflineCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &OfflineCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
		clock:      time.Now,
	}
}

// Put stores one entry, evicting the oldest when full.
func (c *OfflineCache) Put(path string, info *protocol.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[path]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[path] = &cacheEntry{info: info, cachedAt: c.clock()}
}

// PutSnapshot replaces the cache contents with the given snapshot, keeping
// the bound by inserting in unspecified order and evicting as needed.
func (c *OfflineCache) PutSnapshot(snapshot map[string]*protocol.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.entries = make(map[string]*cacheEntry, len(snapshot))
	for path, info := range snapshot {
		if len(c.entries) >= c.maxEntries {
			break
		}
		c.entries[path] = &cacheEntry{info: info, cachedAt: now}
	}
}

// Get returns the cached entry for path, if any.
func (c *OfflineCache) Get(path string) (*protocol.FileInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	return e.info, true
}

// Entries returns a copy of all cached entries, keyed by path.
func (c *OfflineCache) Entries() map[string]*protocol.FileInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*protocol.FileInfo, len(c.entries))
	for path, e := range c.entries {
		out[path] = e.info
	}
	return out
}

// Len returns the number of cached entries.
func (c *OfflineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *OfflineCache) evictOldestLocked() {
	var oldestPath string
	var oldestAt time.Time
	for path, e := range c.entries {
		if oldestPath == "" || e.cachedAt.Before(oldestAt) {
			oldestPath = path
			oldestAt = e.cachedAt
		}
	}
	if oldestPath != "" {
		delete(c.entries, oldestPath)
	}
}
