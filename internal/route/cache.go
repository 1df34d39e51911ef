package route

import (
	"sync"
	"time"

	"github.com/example/driver-session/internal/models"
)

// Cache keeps successful leg lookups keyed by coordinate pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	leg Leg
	ts  time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.GeoPoint) string {
	return a.String() + "->" + b.String()
}

// Get returns a cached leg if present and not expired. A nil cache
// always misses.
func (c *Cache) Get(a, b models.GeoPoint) (Leg, bool) {
	if c == nil {
		return Leg{}, false
	}
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Leg{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Leg{}, false
	}
	return e.leg, true
}

func (c *Cache) Set(a, b models.GeoPoint, leg Leg) {
	if c == nil {
		return
	}
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{leg: leg, ts: c.now()}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
