package vfskit

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// CacheStatistics contains cache performance metrics.
type CacheStatistics struct {
	Hits      int64
	Misses    int64
	Size      int64
	Capacity  int64
	Evictions int64
	HitRate   float64
}

// handleCache is a strict LRU of handles keyed by normalized address. It is
// not safe for concurrent use; the Context serializes access with its mutex.
//
// The eviction callback runs synchronously before the entry is forgotten.
// Explicit removal never invokes it.
type handleCache struct {
	lru      *simplelru.LRU[string, *Handle]
	onEvict  func(key string, h *Handle)
	removing bool
	capacity int

	hits      int64
	misses    int64
	evictions int64
}

func newHandleCache(capacity int, onEvict func(key string, h *Handle)) (*handleCache, error) {
	c := &handleCache{onEvict: onEvict, capacity: capacity}
	lru, err := simplelru.NewLRU[string, *Handle](capacity, c.evicted)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

func (c *handleCache) evicted(key string, h *Handle) {
	if c.removing {
		return
	}
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(key, h)
	}
}

// get returns the handle for key and marks it most recently used.
func (c *handleCache) get(key string) (*Handle, bool) {
	h, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return h, ok
}

// peek returns the handle without touching recency or statistics.
func (c *handleCache) peek(key string) (*Handle, bool) {
	return c.lru.Peek(key)
}

// put inserts or replaces key and marks it most recently used. The least
// recently used entry is evicted when the cache is over capacity; the entry
// being inserted is never the one evicted.
func (c *handleCache) put(key string, h *Handle) {
	c.lru.Add(key, h)
}

// remove forgets key without calling the eviction callback.
func (c *handleCache) remove(key string) bool {
	c.removing = true
	defer func() { c.removing = false }()
	return c.lru.Remove(key)
}

func (c *handleCache) len() int {
	return c.lru.Len()
}

// resize changes the capacity, evicting through the callback when shrinking.
func (c *handleCache) resize(capacity int) int {
	c.capacity = capacity
	return c.lru.Resize(capacity)
}

// keys returns the keys from oldest to newest.
func (c *handleCache) keys() []string {
	return c.lru.Keys()
}

// drain removes every entry without calling the eviction callback and
// returns the handles from oldest to newest.
func (c *handleCache) drain() []*Handle {
	handles := c.lru.Values()
	c.removing = true
	c.lru.Purge()
	c.removing = false
	return handles
}

func (c *handleCache) stats() CacheStatistics {
	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStatistics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      int64(c.lru.Len()),
		Capacity:  int64(c.capacity),
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}
