// ABOUTME: In-process ContextCache with LRU eviction and optional idle expiry
// ABOUTME: Entries are copied on the way in and out so callers never share state

package conversation

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   *SessionContext
	touched time.Time
	element *list.Element
}

// MemoryCache keeps contexts in memory. The least recently used session is
// evicted once maxSessions is reached, and sessions untouched for ttl are
// dropped by a background sweep. A zero ttl disables expiry.
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	order       *list.List // session ids, least recently used at front
	ttl         time.Duration
	maxSessions int
	done        chan struct{}
	closed      bool
}

// NewMemoryCache creates a cache. A maxSessions of zero means unbounded.
func NewMemoryCache(ttl time.Duration, maxSessions int) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		order:       list.New(),
		ttl:         ttl,
		maxSessions: maxSessions,
		done:        make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

// Get returns a copy of the cached context.
func (c *MemoryCache) Get(_ context.Context, sessionID string) (*SessionContext, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	if c.expired(e, time.Now()) {
		c.removeLocked(sessionID, e)
		return nil, false, nil
	}
	e.touched = time.Now()
	c.order.MoveToBack(e.element)
	return e.value.Clone(), true, nil
}

// Set stores a copy of sc.
func (c *MemoryCache) Set(_ context.Context, sc *SessionContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[sc.SessionID]; ok {
		e.value = sc.Clone()
		e.touched = now
		c.order.MoveToBack(e.element)
		return nil
	}

	if c.maxSessions > 0 && len(c.entries) >= c.maxSessions {
		if front := c.order.Front(); front != nil {
			id, _ := front.Value.(string)
			c.removeLocked(id, c.entries[id])
		}
	}

	c.entries[sc.SessionID] = &memoryEntry{
		value:   sc.Clone(),
		touched: now,
		element: c.order.PushBack(sc.SessionID),
	}
	return nil
}

// Clear drops a session's context.
func (c *MemoryCache) Clear(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		c.removeLocked(sessionID, e)
	}
	return nil
}

// Len returns the number of cached sessions.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) expired(e *memoryEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.touched) > c.ttl
}

// removeLocked must be called with mu held.
func (c *MemoryCache) removeLocked(sessionID string, e *memoryEntry) {
	if e == nil {
		return
	}
	c.order.Remove(e.element)
	delete(c.entries, sessionID)
}

func (c *MemoryCache) cleanup() {
	interval := c.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
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

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if c.expired(e, now) {
			c.removeLocked(id, e)
		}
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
