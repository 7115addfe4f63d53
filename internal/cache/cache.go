// ABOUTME: Thread-safe TTL cache with a size bound and oldest-first eviction.
// ABOUTME: Used by the Stampchain client to reuse recent API responses.

package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

// Cache maps string keys to values that expire after a fixed TTL. When full,
// the least recently stored entry is evicted. A background goroutine drops
// expired entries every sweep period until Close is called.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool

	hits, misses uint64
}

// Options configures a cache.
type Options struct {
	TTL     time.Duration
	MaxSize int
	// Sweep is how often expired entries are purged. Zero means one minute.
	Sweep time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Stats counts lookups since creation.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// New creates a cache and starts its sweeper.
func New[V any](opts Options) *Cache[V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1
	}
	if opts.Sweep <= 0 {
		opts.Sweep = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache[V]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
		done:    make(chan struct{}),
	}
	go c.sweep(opts.Sweep)
	return c
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, refreshing its age if it already exists.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.storedAt = now
		c.order.MoveToBack(el)
		return
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front)
		}
	}
	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, storedAt: now})
}

// Delete drops key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns lookup counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.items), Hits: c.hits, Misses: c.misses}
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	// Entries are in storage order, so the first live one ends the scan.
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*entry[V]).storedAt) < c.ttl {
			break
		}
		c.removeLocked(el)
		removed++
		el = next
	}
	return removed
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}

func (c *Cache[V]) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
