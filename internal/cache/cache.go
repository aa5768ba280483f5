// Package cache provides a small in-memory LRU cache with per-entry
// expiry. It fronts slower stores such as rendered diagram markup and
// tracks per-client state such as rate limiters.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired. A zero ExpiresAt never expires.
func (e *Entry[V]) IsExpired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

func (e *Entry[V]) refresh(ttl time.Duration) {
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	} else {
		e.ExpiresAt = time.Time{}
	}
}

// Cache is the read/write surface shared by cache tiers.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Invalidate(key string)
	InvalidateAll()
}

// MemoryCache is an in-memory LRU cache. Reads count as use; when the
// cache is full the least recently used entry is evicted.
type MemoryCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	onEvict    func(key string, value V)

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryCache creates a cache holding at most maxEntries values
// (0 means unbounded) and starts its background cleanup.
func NewMemoryCache[V any](maxEntries int) *MemoryCache[V] {
	c := &MemoryCache[V]{
		entries:         make(map[string]*list.Element),
		order:           list.New(),
		maxEntries:      maxEntries,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// OnEvict registers fn to run, under the cache lock, whenever an entry
// is dropped to make room. Expiry and invalidation do not call it.
func (c *MemoryCache[V]) OnEvict(fn func(key string, value V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get retrieves a live value and marks it recently used.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lookupLocked(key)
	if !ok {
		return zero, false
	}
	return e.Value, true
}

// Set stores value for ttl. A ttl of zero keeps the value until evicted.
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.refresh(ttl)
		c.order.MoveToFront(el)
		return
	}
	c.insertLocked(key, value, ttl)
}

// GetOrCreate returns the live value for key, creating it with create
// when absent. Either way the entry's expiry is pushed ttl into the
// future, so entries expire after ttl without use.
func (c *MemoryCache[V]) GetOrCreate(key string, ttl time.Duration, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lookupLocked(key); ok {
		e.refresh(ttl)
		return e.Value
	}
	v := create()
	c.insertLocked(key, v, ttl)
	return v
}

func (c *MemoryCache[V]) lookupLocked(key string) (*Entry[V], bool) {
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry[V])
	if e.IsExpired() {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e, true
}

func (c *MemoryCache[V]) insertLocked(key string, value V, ttl time.Duration) {
	if c.maxEntries > 0 {
		for c.order.Len() >= c.maxEntries {
			back := c.order.Back()
			evicted := back.Value.(*Entry[V])
			c.removeLocked(back)
			if c.onEvict != nil {
				c.onEvict(evicted.Key, evicted.Value)
			}
		}
	}
	e := &Entry[V]{Key: key, Value: value}
	e.refresh(ttl)
	c.entries[key] = c.order.PushFront(e)
}

func (c *MemoryCache[V]) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*Entry[V]).Key)
}

// Invalidate removes an entry from the cache
func (c *MemoryCache[V]) Invalidate(key string) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *MemoryCache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

func (c *MemoryCache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup drops expired entries. Recency says nothing about expiry, so
// every entry is checked.
func (c *MemoryCache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry[V]).IsExpired() {
			c.removeLocked(el)
		}
		el = prev
	}
}

// Stop stops the background cleanup goroutine.
// Safe to call multiple times
func (c *MemoryCache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache, expired or not.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
