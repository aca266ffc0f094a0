package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	Submit(ctx context.Context, req domain.TradeRequest) (domain.Trade, error)
	ListTrades(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves paper trade endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type submitTradeRequest struct {
	Symbol     string             `json:"symbol"`
	Action     domain.TradeAction `json:"action"`
	Quantity   int64              `json:"quantity"`
	Price      float64            `json:"price"`
	StopLoss   *float64           `json:"stop_loss,omitempty"`
	TakeProfit *float64           `json:"take_profit,omitempty"`
	Notes      string             `json:"notes,omitempty"`
}

// Submit records a paper trade for the user.
// POST /api/users/{user_id}/trades
func (h *TradeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitTradeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit trade")
		return
	}

	trade, err := h.trades.Submit(r.Context(), domain.TradeRequest{
		UserID:     pathParam(r, "user_id"),
		Symbol:     body.Symbol,
		Action:     body.Action,
		Quantity:   body.Quantity,
		Price:      body.Price,
		StopLoss:   body.StopLoss,
		TakeProfit: body.TakeProfit,
		Notes:      body.Notes,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit trade")
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// List returns the user's trades newest first.
// GET /api/users/{user_id}/trades?limit=50&offset=0
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list trades")
		return
	}
	trades, err := h.trades.ListTrades(r.Context(), pathParam(r, "user_id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
