package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/mnohosten/nora-db/pkg/document"
)

// CacheEntry represents a cached query result
type CacheEntry struct {
	Key       string
	Docs      []*document.Document
	ExpiresAt time.Time
	element   *list.Element
}

// QueryCache is a thread-safe LRU cache for read query results with TTL
// support. Cached slices are shared, callers must not mutate them.
type QueryCache struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*CacheEntry
	lruList   *list.List
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewQueryCache creates a new query cache
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*CacheEntry),
		lruList:  list.New(),
	}
}

// Get retrieves a cached result set
func (c *QueryCache) Get(key string) ([]*document.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.lruList.Remove(entry.element)
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.Docs, true
}

// Put adds a result set to the cache
func (c *QueryCache) Put(key string, docs []*document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		entry.Docs = docs
		entry.ExpiresAt = time.Now().Add(c.ttl)
		c.lruList.MoveToFront(entry.element)
		return
	}

	entry := &CacheEntry{
		Key:       key,
		Docs:      docs,
		ExpiresAt: time.Now().Add(c.ttl),
	}
	entry.element = c.lruList.PushFront(entry)
	c.items[key] = entry

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

// evictOldest removes the least recently used item
func (c *QueryCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest != nil {
		entry := oldest.Value.(*CacheEntry)
		c.lruList.Remove(oldest)
		delete(c.items, entry.Key)
		c.evictions++
	}
}

// Clear removes all entries from the cache. Called on every write so that
// readers never observe stale result sets.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*CacheEntry)
	c.lruList = list.New()
}

// Size returns the current number of items in the cache
func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Stats returns cache statistics
func (c *QueryCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"capacity":    c.capacity,
		"size":        len(c.items),
		"hits":        c.hits,
		"misses":      c.misses,
		"evictions":   c.evictions,
		"hit_rate":    fmt.Sprintf("%.2f%%", hitRate),
		"ttl_seconds": c.ttl.Seconds(),
	}
}

// CleanupExpired removes all expired entries
func (c *QueryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	for key, entry := range c.items {
		if now.After(entry.ExpiresAt) {
			c.lruList.Remove(entry.element)
			delete(c.items, key)
			removed++
		}
	}

	return removed
}

// GenerateKey creates a deterministic cache key from query parameters
func GenerateKey(filter map[string]interface{}, sort []interface{}, skip, limit int, projection map[string]bool) string {
	keyData := struct {
		Filter     map[string]interface{} `json:"filter"`
		Sort       []interface{}          `json:"sort"`
		Skip       int                    `json:"skip"`
		Limit      int                    `json:"limit"`
		Projection map[string]bool        `json:"projection"`
	}{
		Filter:     filter,
		Sort:       sort,
		Skip:       skip,
		Limit:      limit,
		Projection: projection,
	}

	jsonBytes, err := json.Marshal(keyData)
	if err != nil {
		// Fallback to string representation
		return fmt.Sprintf("%v_%v_%d_%d_%v", filter, sort, skip, limit, projection)
	}

	hash := xxh3.Hash128(jsonBytes)
	return fmt.Sprintf("%016x%016x", hash.Hi, hash.Lo)
}
