package performance

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// Cache holds one replay tracker per user.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{c: gocache.New(ttl, 2*ttl)}
}

// Get returns a copy of the cached tracker when its stamp equals want.
func (c *Cache) Get(userID string, want domain.TradeStats) (*Tracker, bool) {
	v, ok := c.c.Get(userID)
	if !ok {
		return nil, false
	}
	tr := v.(*Tracker)
	if tr.Stamp() != want {
		c.c.Delete(userID)
		return nil, false
	}
	return tr.Clone(), true
}

// Put stores a copy of tr for userID.
func (c *Cache) Put(userID string, tr *Tracker) {
	c.c.SetDefault(userID, tr.Clone())
}

// Advance applies t to the cached tracker when t is strictly newer than the
// last trade it saw. Otherwise the entry is dropped so the next read replays
// from scratch.
func (c *Cache) Advance(userID string, t domain.Trade) bool {
	v, ok := c.c.Get(userID)
	if !ok {
		return false
	}
	tr := v.(*Tracker)
	if !t.Timestamp.After(tr.LastAt()) {
		c.c.Delete(userID)
		return false
	}
	next := tr.Clone()
	next.Apply(t)
	c.c.SetDefault(userID, next)
	return true
}

// Invalidate drops the entry for userID.
func (c *Cache) Invalidate(userID string) {
	c.c.Delete(userID)
}
