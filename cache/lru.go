// Package cache provides the bounded TTL/LRU cache shared by the embedding
// cache and the response cache. Expiry is checked at read time; there is no
// background sweeper.
package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadwise/ragcore/config"
)

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is the common contract for cache backends. The cache exclusively
// owns stored values; callers must not mutate a value after Set or after
// reading it back (store clones when in doubt).
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration) bool
	Delete(key string) bool
	Exists(key string) bool
	// Clear removes entries matching pattern and returns the count
	// removed. An empty pattern clears everything; otherwise a single
	// trailing "*" wildcard is supported ("embedding:*").
	Clear(pattern string) int
	GetMany(keys []string) map[string]any
	SetMany(items map[string]any, ttl time.Duration) bool
	Stats() Stats
}

// New builds a cache from configuration. The distributed backend is a
// deployment concern wired by the host; this package only ships the
// in-memory reference implementation.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case config.CacheMemory, "":
		return NewLRU(cfg.MaxSize, time.Duration(cfg.DefaultTTLSeconds)*time.Second), nil
	case config.CacheDistributed:
		return nil, fmt.Errorf("distributed cache backend must be injected by the host, none is built in")
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type entry struct {
	key     string
	value   any
	expires time.Time
	element *list.Element
}

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry
	order    *list.List

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU creates an LRU cache with capacity and default TTL. A zero TTL
// means entries do not expire unless Set overrides it.
func NewLRU(capacity int, ttl time.Duration) Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		order:    list.New(),
	}
}

func (c *lruCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// getLocked performs the read-time expiry check. An expired entry counts
// as a miss and is removed on the spot.
func (c *lruCache) getLocked(key string) (any, bool) {
	if ent, ok := c.items[key]; ok {
		if ent.expires.IsZero() || time.Now().Before(ent.expires) {
			c.order.MoveToFront(ent.element)
			c.hits++
			return ent.value, true
		}
		c.removeEntry(ent)
	}
	c.misses++
	return nil, false
}

func (c *lruCache) Set(key string, value any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return true
}

func (c *lruCache) setLocked(key string, value any, ttl time.Duration) {
	if ent, ok := c.items[key]; ok {
		ent.value = value
		ent.expires = c.computeExpiry(ttl)
		c.order.MoveToFront(ent.element)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(key)
	c.items[key] = &entry{
		key:     key,
		value:   value,
		expires: c.computeExpiry(ttl),
		element: elem,
	}
}

func (c *lruCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if ok {
		c.removeEntry(ent)
	}
	return ok
}

func (c *lruCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		c.misses++
		return false
	}
	if !ent.expires.IsZero() && !time.Now().Before(ent.expires) {
		c.removeEntry(ent)
		c.misses++
		return false
	}
	c.hits++
	return true
}

func (c *lruCache) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" || pattern == "*" {
		n := len(c.items)
		c.items = make(map[string]*entry, c.capacity)
		c.order.Init()
		return n
	}

	prefix, wildcard := strings.CutSuffix(pattern, "*")
	removed := 0
	for key, ent := range c.items {
		match := key == pattern
		if wildcard {
			match = strings.HasPrefix(key, prefix)
		}
		if match {
			c.removeEntry(ent)
			removed++
		}
	}
	return removed
}

func (c *lruCache) GetMany(keys []string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if v, ok := c.getLocked(key); ok {
			out[key] = v
		}
	}
	return out
}

func (c *lruCache) SetMany(items map[string]any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range items {
		c.setLocked(key, value, ttl)
	}
	return true
}

func (c *lruCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *lruCache) computeExpiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (c *lruCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	if ent, ok := c.items[key]; ok {
		c.removeEntry(ent)
		c.evictions++
	}
}

func (c *lruCache) removeEntry(ent *entry) {
	if ent.element != nil {
		c.order.Remove(ent.element)
	}
	delete(c.items, ent.key)
}
