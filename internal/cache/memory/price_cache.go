package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

type quote struct {
	price float64
	at    time.Time
}

// PriceCache is an in-process domain.PriceCache with per-entry expiry.
type PriceCache struct {
	c *gocache.Cache
}

// NewPriceCache creates a PriceCache whose entries expire after ttl.
func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceCache{c: gocache.New(ttl, 2*ttl)}
}

var _ domain.PriceCache = (*PriceCache)(nil)

// SetPrice stores the latest quote for symbol.
func (pc *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	pc.c.SetDefault(symbol, quote{price: price, at: ts})
	return nil
}

// GetPrice returns the cached quote or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	v, ok := pc.c.Get(symbol)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	q := v.(quote)
	return q.price, q.at, nil
}
