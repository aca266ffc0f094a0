package oracle

import (
	"hash/fnv"
	"time"

	"github.com/alanyoungcy/paperledger/internal/pricefmt"
)

// basePrices anchors the mock generator for well-known tickers.
var basePrices = map[string]float64{
	"TSLA":  250.75,
	"AAPL":  185.20,
	"MSFT":  420.50,
	"NVDA":  875.30,
	"GOOGL": 142.80,
	"AMZN":  155.90,
	"META":  485.60,
	"NFLX":  425.20,
	"AMD":   198.40,
	"INTC":  45.60,
	"SPY":   452.30,
	"QQQ":   375.80,
	"IWM":   218.90,
	"VTI":   245.60,
	"BTC":   42000.00,
	"ETH":   2500.00,
}

const (
	maxVariationBP = 300 // +/-3.00%
	minBase        = 50
	baseSpanCents  = 45000
)

// Mock produces deterministic prices seeded by symbol and UTC day, so every
// call for a symbol on the same day returns the same value.
type Mock struct{}

// Price returns the mock price for symbol on the day of at.
func (Mock) Price(symbol string, at time.Time) float64 {
	base, ok := basePrices[symbol]
	if !ok {
		base = float64(minBase) + float64(hash64(symbol)%baseSpanCents)/100
	}
	day := at.UTC().Format("2006-01-02")
	h := hash64(symbol + "|" + day)
	bp := int64(h%(2*maxVariationBP+1)) - maxVariationBP
	return pricefmt.Round2(base * (1 + float64(bp)/10000))
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
