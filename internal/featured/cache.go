package featured

import (
	"sync"
	"time"
)

// rotationCache holds built rotation sets for ttl. Empty sets are never
// stored so a catalog hiccup does not pin an empty hero.
type rotationCache struct {
	ttl time.Duration

	mu   sync.Mutex
	sets map[string]rotationEntry
}

type rotationEntry struct {
	items   []Item
	builtAt time.Time
}

func newRotationCache(ttl time.Duration) *rotationCache {
	return &rotationCache{ttl: ttl, sets: make(map[string]rotationEntry)}
}

func (c *rotationCache) Get(key string, now time.Time) ([]Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sets[key]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.builtAt) > c.ttl {
		delete(c.sets, key)
		return nil, false
	}
	return cloneItems(entry.items), true
}

func (c *rotationCache) Put(key string, items []Item, now time.Time) {
	if c.ttl <= 0 || len(items) == 0 {
		return
	}
	c.mu.Lock()
	c.sets[key] = rotationEntry{items: cloneItems(items), builtAt: now}
	c.mu.Unlock()
}

// Invalidate drops every set, used when an operator forces a refresh.
func (c *rotationCache) Invalidate() {
	c.mu.Lock()
	c.sets = make(map[string]rotationEntry)
	c.mu.Unlock()
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
