package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	pc := NewPriceCache(time.Minute)

	_, _, err := pc.GetPrice(ctx, "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "AAPL", 187.25, at))

	p, ts, err := pc.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.25, p)
	assert.True(t, ts.Equal(at))
}

func TestPriceCacheExpires(t *testing.T) {
	ctx := context.Background()
	pc := NewPriceCache(20 * time.Millisecond)
	require.NoError(t, pc.SetPrice(ctx, "TSLA", 250, time.Now()))

	assert.Eventually(t, func() bool {
		_, _, err := pc.GetPrice(ctx, "TSLA")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
