// Package cache keeps recently generated record containers in memory so
// repeated downloads do not rebuild them from the store.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached response.
type Entry struct {
	Body        []byte
	ContentType string
	Disposition string
}

func (e Entry) size() int64 { return int64(len(e.Body)) }

type item struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

// LRUCache is a thread-safe cache bounded by entry count and total body
// size. The least recently used entry is evicted first. Expired entries are
// dropped lazily on Get.
type LRUCache struct {
	mu         sync.Mutex
	order      *list.List
	items      map[string]*list.Element
	maxEntries int
	maxBytes   int64
	bytes      int64
	ttl        time.Duration
	now        func() time.Time
}

// NewLRUCache creates a cache. maxEntries below 1 becomes 1, a non-positive
// maxBytes means no size bound and a non-positive ttl defaults to one minute.
func NewLRUCache(maxEntries int, maxBytes int64, ttl time.Duration) *LRUCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LRUCache{
		order:      list.New(),
		items:      make(map[string]*list.Element, maxEntries),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the entry for key and marks it as recently used.
func (c *LRUCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	it := el.Value.(*item)
	if c.now().After(it.expiresAt) {
		c.remove(el)
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	return it.entry, true
}

// Set stores e under key. An entry larger than the byte bound is not cached.
func (c *LRUCache) Set(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && e.size() > c.maxBytes {
		return
	}
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	it := &item{key: key, entry: e, expiresAt: c.now().Add(c.ttl)}
	c.items[key] = c.order.PushFront(it)
	c.bytes += e.size()

	for c.order.Len() > c.maxEntries || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		c.remove(c.order.Back())
	}
}

// Invalidate removes key.
func (c *LRUCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// InvalidateAll empties the cache.
func (c *LRUCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.maxEntries)
	c.bytes = 0
}

// Size returns the number of entries, including expired ones not yet
// dropped.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the total body size held.
func (c *LRUCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Must be called with c.mu held.
func (c *LRUCache) remove(el *list.Element) {
	it := c.order.Remove(el).(*item)
	delete(c.items, it.key)
	c.bytes -= it.entry.size()
}
