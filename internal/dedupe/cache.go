// ABOUTME: Time-aware TTL set used as the outbound SMS dedup window.
// ABOUTME: Insertion-ordered so expiry sweeps and size eviction are O(1) per entry.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	expires time.Time
}

// Cache is a thread-safe, TTL-based, size-limited set of keys.
// Entries live in a list ordered by expiry (oldest at front); re-marking a
// key moves it to the back.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache whose entries expire after ttl. maxSize <= 0 means unbounded.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports whether key is inside its window.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	_, ok := c.seen[key]
	return ok
}

// Mark opens (or restarts) the window for key.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	expires := c.now().Add(c.ttl)

	if elem, ok := c.seen[key]; ok {
		elem.Value.(*entry).expires = expires
		c.order.MoveToBack(elem)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(&entry{key: key, expires: expires})
}

// CheckAndMark atomically reports whether key was already seen and marks it if not.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	if _, ok := c.seen[key]; ok {
		return true
	}
	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(&entry{key: key, expires: c.now().Add(c.ttl)})
	return false
}

// Forget drops key from the window.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.seen[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.seen)
}

// sweepLocked drops expired entries from the front. Must be called with mu held.
func (c *Cache) sweepLocked() {
	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Before(front.Value.(*entry).expires) {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.seen, elem.Value.(*entry).key)
}
