package location

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheEntries = 1024

// positionCache keeps the latest reported fix per owner for a bounded age so
// that a broadcast shortly after a pushed report does not ask the device again.
type positionCache struct {
	now     func() time.Time
	ttl     time.Duration
	entries *lru.Cache[string, positionCacheEntry]
}

type positionCacheEntry struct {
	position  Position
	expiresAt time.Time
}

// newPositionCache returns a cache; a non-positive ttl disables caching.
func newPositionCache(ttl time.Duration, maxEntries int, now func() time.Time) *positionCache {
	if ttl <= 0 {
		return nil
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, positionCacheEntry](maxEntries)
	if err != nil {
		return nil
	}
	return &positionCache{now: now, ttl: ttl, entries: entries}
}

func (c *positionCache) Get(ownerID string) (Position, bool) {
	if c == nil {
		return Position{}, false
	}
	entry, ok := c.entries.Get(ownerID)
	if !ok {
		return Position{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(ownerID)
		return Position{}, false
	}
	return clonePosition(entry.position), true
}

func (c *positionCache) Store(ownerID string, position Position) {
	if c == nil {
		return
	}
	c.entries.Add(ownerID, positionCacheEntry{
		position:  clonePosition(position),
		expiresAt: c.now().Add(c.ttl),
	})
}

func (c *positionCache) Invalidate(ownerID string) {
	if c == nil {
		return
	}
	c.entries.Remove(ownerID)
}

func clonePosition(p Position) Position {
	if p.Accuracy != nil {
		accuracy := *p.Accuracy
		p.Accuracy = &accuracy
	}
	return p
}
