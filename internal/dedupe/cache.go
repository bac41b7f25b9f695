// ABOUTME: Thread-safe TTL cache remembering recently seen idempotency keys
// ABOUTME: Backs duplicate suppression on the message-send endpoint

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a TTL-bounded, size-bounded set of seen keys. A retried send
// carrying the same idempotency key within the TTL is acknowledged without
// starting a second turn. Insertion order drives O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically reports whether key was already seen within the
// TTL, marking it either way. A duplicate sighting refreshes the key's TTL
// and recency, so a key under active retry stays resident. Atomicity
// matters: two concurrent retries must not both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	dup := ok && time.Since(e.seenAt) < c.ttl
	c.markLocked(key)
	return dup
}

func (c *Cache) markLocked(key string) {
	now := time.Now()

	if e, exists := c.seen[key]; exists {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			k, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, k)
		}
	}

	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, e := range c.seen {
				if now.Sub(e.seenAt) > c.ttl {
					c.order.Remove(e.element)
					delete(c.seen, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
