// ABOUTME: Thread-safe TTL set tracking which response messages have completed
// ABOUTME: Shared by client slots so a final frame and a cancel never both finish a run

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used by clients that do not configure the tracker.
const (
	DefaultTTL     = 30 * time.Minute
	DefaultMaxSize = 1024
)

type entry struct {
	marked  time.Time
	element *list.Element
}

// Cache records completion keys for a bounded time. Keys are response
// message ids. Insertion order is kept in a list so the oldest key is
// evicted in O(1) once maxSize is reached.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its sweep goroutine. Non-positive
// arguments fall back to DefaultTTL and DefaultMaxSize.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Check reports whether key is marked and not expired.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark returns true when key was already marked. Otherwise it
// marks key and returns false. The check and the mark happen under one
// lock, so exactly one of two racing callers sees false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key as completed, refreshing its timestamp if present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Remove forgets key. Removing an unknown key is a no-op.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys, expired ones included until
// the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.marked) < c.ttl
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	if e, ok := c.seen[key]; ok {
		e.marked = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{marked: now, element: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.seen {
		if now.Sub(e.marked) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
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
