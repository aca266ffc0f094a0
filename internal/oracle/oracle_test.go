package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type feedFunc func(ctx context.Context, symbol string) (float64, error)

func (f feedFunc) Quote(ctx context.Context, symbol string) (float64, error) { return f(ctx, symbol) }

type memCache struct {
	mu     sync.Mutex
	prices map[string]float64
	ts     map[string]time.Time
}

func newMemCache() *memCache {
	return &memCache{prices: map[string]float64{}, ts: map[string]time.Time{}}
}

func (c *memCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	c.ts[symbol] = ts
	return nil
}

func (c *memCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, c.ts[symbol], nil
}

func TestMockIsDeterministicPerDay(t *testing.T) {
	var m Mock
	a := m.Price("AAPL", day)
	b := m.Price("AAPL", day.Add(5*time.Hour))
	assert.Equal(t, a, b)
	assert.InDelta(t, 185.20, a, 185.20*0.03+0.01)

	other := m.Price("AAPL", day.Add(24*time.Hour))
	assert.InDelta(t, 185.20, other, 185.20*0.03+0.01)
}

func TestMockUnknownSymbolIsBounded(t *testing.T) {
	var m Mock
	for _, sym := range []string{"ZZZZ", "PENNY", "XYZ1", "ABC"} {
		p := m.Price(sym, day)
		assert.GreaterOrEqual(t, p, 50*0.97-0.01, sym)
		assert.LessOrEqual(t, p, 500*1.03+0.01, sym)
		assert.Equal(t, p, m.Price(sym, day), sym)
	}
}

func TestOracleUsesLiveFeed(t *testing.T) {
	feed := feedFunc(func(context.Context, string) (float64, error) { return 101.5, nil })
	cache := newMemCache()
	o := New(feed, cache, Options{Timeout: time.Second, CacheTTL: time.Minute, Now: func() time.Time { return day }}, testLogger())

	q := o.Quote(context.Background(), "aapl")
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 101.5, q.Price)
	assert.Equal(t, SourceLive, q.Source)

	q = o.Quote(context.Background(), "AAPL")
	assert.Equal(t, SourceCache, q.Source)
	assert.Equal(t, 101.5, q.Price)
}

func TestOracleFallsBackOnError(t *testing.T) {
	feed := feedFunc(func(context.Context, string) (float64, error) { return 0, domain.ErrRateLimited })
	o := New(feed, nil, Options{Timeout: time.Second, Now: func() time.Time { return day }}, testLogger())

	q := o.Quote(context.Background(), "TSLA")
	assert.Equal(t, SourceMock, q.Source)
	assert.Equal(t, Mock{}.Price("TSLA", day), q.Price)
	assert.Equal(t, q.Price, o.GetPrice(context.Background(), "TSLA"))
}

func TestOracleFallsBackOnHang(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	feed := feedFunc(func(context.Context, string) (float64, error) {
		<-release
		return 1, nil
	})
	o := New(feed, nil, Options{Timeout: 20 * time.Millisecond, Now: func() time.Time { return day }}, testLogger())

	start := time.Now()
	p := o.GetPrice(context.Background(), "MSFT")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Mock{}.Price("MSFT", day), p)
}

func TestOracleWithoutFeedIsMockOnly(t *testing.T) {
	o := New(nil, nil, Options{Now: func() time.Time { return day }}, testLogger())
	assert.Equal(t, Mock{}.Price("NVDA", day), o.GetPrice(context.Background(), "NVDA"))
}

func TestFMPClientQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/quote/AAPL", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","price":189.91}]`))
	}))
	defer srv.Close()

	c := NewFMPClient(srv.URL, "k", time.Second, 600)
	p, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 189.91, p)
}

func TestFMPClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"empty", http.StatusOK, `[]`, domain.ErrPriceUnavailable},
		{"no price", http.StatusOK, `[{"symbol":"X"}]`, domain.ErrPriceUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, domain.ErrRateLimited},
		{"malformed", http.StatusOK, `{"Error Message":"bad key"}`, nil},
		{"server error", http.StatusInternalServerError, `oops`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewFMPClient(srv.URL, "k", time.Second, 600)
			_, err := c.Quote(context.Background(), "X")
			require.Error(t, err)
			if tc.target != nil {
				assert.True(t, errors.Is(err, tc.target), err.Error())
			}
		})
	}
}

func TestFMPClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"X","price":1}]`))
	}))
	defer srv.Close()

	c := NewFMPClient(srv.URL, "k", time.Second, 1)
	_, err := c.Quote(context.Background(), "X")
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), "X")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
