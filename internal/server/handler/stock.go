package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperledger/internal/service"
)

// QuoteService returns displayable stock quotes.
type QuoteService interface {
	Quote(ctx context.Context, symbol string) (service.StockQuote, error)
}

// StockHandler serves stock quotes.
type StockHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewStockHandler creates a StockHandler.
func NewStockHandler(quotes QuoteService, logger *slog.Logger) *StockHandler {
	return &StockHandler{quotes: quotes, logger: logger}
}

// Quote returns the current price of a symbol.
// GET /api/stock/{symbol}
func (h *StockHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.Quote(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to quote symbol")
		return
	}
	writeJSON(w, http.StatusOK, q)
}
