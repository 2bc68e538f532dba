package executor

import (
	"sort"
	"sync"
	"time"
)

type cacheEntry struct {
	result    CommandResult
	createdAt time.Time
}

// CacheStats reports cache usage
type CacheStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// resultCache keeps successful results of read-only commands for a short TTL.
// When full, the older half of the entries is dropped in one go.
type resultCache struct {
	mu      sync.Mutex
	data    map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	stats   CacheStats
}

func newResultCache(ttl time.Duration, maxSize int) *resultCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 20
	}
	return &resultCache{
		data:    make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stats:   CacheStats{MaxSize: maxSize},
	}
}

func (c *resultCache) get(command string) (CommandResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[command]
	if !ok {
		c.stats.Misses++
		return CommandResult{}, false
	}
	if c.now().Sub(entry.createdAt) >= c.ttl {
		delete(c.data, command)
		c.stats.Misses++
		return CommandResult{}, false
	}
	c.stats.Hits++
	return entry.result, true
}

func (c *resultCache) put(command string, result CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[command]; !exists && len(c.data) >= c.maxSize {
		c.evictOldestHalf()
	}
	c.data[command] = cacheEntry{result: result, createdAt: c.now()}
}

func (c *resultCache) evictOldestHalf() {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.data[keys[i]].createdAt.Before(c.data[keys[j]].createdAt)
	})

	n := len(keys) / 2
	if n == 0 {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(c.data, k)
		c.stats.Evictions++
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
}

func (c *resultCache) snapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.data)
	return s
}
