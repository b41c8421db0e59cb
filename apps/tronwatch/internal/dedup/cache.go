// Package dedup remembers recently handled transfer ids for a bounded time window.
package dedup

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultRetention = 5 * time.Minute
	DefaultCapacity  = 100_000
)

type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is a time-windowed set of ids. Entries are kept in insertion order, which is also expiry order,
// so Sweep only ever looks at the oldest end. When capacity is reached the oldest id is evicted early.
type Cache struct {
	name      string
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU[string, time.Time]
}

func New(name string, retention time.Duration, capacity int, opts ...Option) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	// NewLRU only fails on a non-positive size.
	entries, _ := simplelru.NewLRU[string, time.Time](capacity, nil)

	c := &Cache{
		name:      name,
		retention: retention,
		now:       time.Now,
		entries:   entries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Name() string {
	return c.name
}

// Seen reports whether id was marked within the retention window.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	marked, ok := c.entries.Peek(id)
	if !ok {
		return false
	}
	return c.now().Sub(marked) < c.retention
}

// Mark records id as handled now. Re-marking an id refreshes its window.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove first so a refreshed id moves to the newest end.
	c.entries.Remove(id)
	c.entries.Add(id, c.now())
}

// Sweep drops every entry older than the retention window and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for {
		_, marked, ok := c.entries.GetOldest()
		if !ok || marked.After(cutoff) {
			return removed
		}
		c.entries.RemoveOldest()
		removed++
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
