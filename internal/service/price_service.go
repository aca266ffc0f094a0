package service

import (
	"context"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/oracle"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
)

// Quoter resolves a price together with its source.
type Quoter interface {
	Quote(ctx context.Context, symbol string) oracle.Quote
}

// StockQuote is a displayable quote.
type StockQuote struct {
	Symbol       string        `json:"symbol"`
	Price        float64       `json:"price"`
	PriceDisplay string        `json:"price_display"`
	Source       oracle.Source `json:"source"`
	Timestamp    time.Time     `json:"timestamp"`
}

// PriceService serves stock quotes.
type PriceService struct {
	quotes Quoter
}

// NewPriceService creates a PriceService.
func NewPriceService(quotes Quoter) *PriceService {
	return &PriceService{quotes: quotes}
}

// Quote returns the current quote for symbol.
func (s *PriceService) Quote(ctx context.Context, symbol string) (StockQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return StockQuote{}, domain.Invalid("symbol", "required")
	}
	q := s.quotes.Quote(ctx, symbol)
	return StockQuote{
		Symbol:       q.Symbol,
		Price:        q.Price,
		PriceDisplay: pricefmt.Price(q.Price),
		Source:       q.Source,
		Timestamp:    q.At,
	}, nil
}
