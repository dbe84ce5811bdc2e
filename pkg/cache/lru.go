package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry struct {
	key        string
	value      []byte
	expiresAt  time.Time
	sizeBytes  int
}

// strictLRU is an in-process cache bounded by both entry count and total
// estimated byte size, evicting the least-recently-used entry under either
// bound. Expired entries are evicted lazily on access.
type strictLRU struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	curBytes   int64
	ll         *list.List
	items      map[string]*list.Element
}

func newStrictLRU(maxEntries int, maxBytes int64) *strictLRU {
	return &strictLRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *strictLRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *strictLRU) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		c.curBytes -= int64(entry.sizeBytes)
		entry.value = value
		entry.expiresAt = expires
		entry.sizeBytes = len(value)
		c.curBytes += int64(entry.sizeBytes)
		c.ll.MoveToFront(el)
	} else {
		entry := &lruEntry{key: key, value: value, expiresAt: expires, sizeBytes: len(value)}
		el := c.ll.PushFront(entry)
		c.items[key] = el
		c.curBytes += int64(entry.sizeBytes)
	}

	c.evictOverLimit()
}

func (c *strictLRU) evictOverLimit() {
	for (c.maxEntries > 0 && c.ll.Len() > c.maxEntries) || (c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *strictLRU) removeElement(el *list.Element) {
	entry := el.Value.(*lruEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	c.curBytes -= int64(entry.sizeBytes)
}

// sweepExpired is invoked periodically by the background sweeper to drop
// expired entries even when nothing accesses them.
func (c *strictLRU) sweepExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*lruEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.removeElement(el)
		}
		el = prev
	}
}

func (c *strictLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
