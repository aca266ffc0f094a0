// Package oracle supplies current market prices. A live feed is consulted
// under a bounded timeout; any failure falls back to the deterministic mock.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Feed is an external quote source.
type Feed interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// Source identifies where a quote came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceMock  Source = "mock"
)

// Quote is a price together with its origin.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Source Source    `json:"source"`
	At     time.Time `json:"timestamp"`
}

// Options configures an Oracle.
type Options struct {
	Timeout  time.Duration
	CacheTTL time.Duration
	Now      func() time.Time
}

// Oracle resolves prices from cache, live feed, then mock.
type Oracle struct {
	feed   Feed
	cache  domain.PriceCache
	mock   Mock
	opts   Options
	group  singleflight.Group
	logger *slog.Logger
}

// New creates an Oracle. feed and cache may be nil.
func New(feed Feed, cache domain.PriceCache, opts Options, logger *slog.Logger) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Oracle{
		feed:   feed,
		cache:  cache,
		opts:   opts,
		logger: logger,
	}
}

// GetPrice returns the current price for symbol. It never fails.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) float64 {
	return o.Quote(ctx, symbol).Price
}

// Quote returns the current price for symbol with its source.
func (o *Oracle) Quote(ctx context.Context, symbol string) Quote {
	symbol = domain.NormalizeSymbol(symbol)
	now := o.opts.Now()

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	if p, ok := o.cached(ctx, symbol, now); ok {
		return Quote{Symbol: symbol, Price: p, Source: SourceCache, At: now}
	}

	v, err, _ := o.group.Do(symbol, func() (any, error) {
		return o.fetch(ctx, symbol)
	})
	if err == nil {
		p := v.(float64)
		if o.cache != nil {
			if cerr := o.cache.SetPrice(ctx, symbol, p, now); cerr != nil {
				o.logger.DebugContext(ctx, "oracle: cache write failed",
					slog.String("symbol", symbol), slog.String("error", cerr.Error()))
			}
		}
		return Quote{Symbol: symbol, Price: p, Source: SourceLive, At: now}
	}

	if o.feed != nil {
		o.logger.WarnContext(ctx, "oracle: live price unavailable, using mock",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return Quote{Symbol: symbol, Price: o.mock.Price(symbol, now), Source: SourceMock, At: now}
}

func (o *Oracle) cached(ctx context.Context, symbol string, now time.Time) (float64, bool) {
	if o.cache == nil || o.opts.CacheTTL <= 0 {
		return 0, false
	}
	p, ts, err := o.cache.GetPrice(ctx, symbol)
	if err != nil || now.Sub(ts) > o.opts.CacheTTL {
		return 0, false
	}
	return p, true
}

type fetchResult struct {
	price float64
	err   error
}

// fetch calls the feed in its own goroutine so a transport that ignores ctx
// still cannot hold the caller past the timeout.
func (o *Oracle) fetch(ctx context.Context, symbol string) (float64, error) {
	if o.feed == nil {
		return 0, domain.ErrPriceUnavailable
	}
	ch := make(chan fetchResult, 1)
	go func() {
		p, err := o.feed.Quote(ctx, symbol)
		ch <- fetchResult{price: p, err: err}
	}()
	select {
	case r := <-ch:
		return r.price, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("oracle: fetch %s: %w", symbol, ctx.Err())
	}
}
