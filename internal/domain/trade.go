package domain

import (
	"strings"
	"time"
)

// TradeAction is the direction of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// Valid reports whether a is a known action.
func (a TradeAction) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Trade is a single immutable BUY/SELL execution. Once persisted it is never
// updated or deleted.
type Trade struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Symbol      string      `json:"symbol"`
	Action      TradeAction `json:"action"`
	Quantity    int64       `json:"quantity"`
	Price       float64     `json:"price"`
	Timestamp   time.Time   `json:"timestamp"`
	PositionID  *string     `json:"position_id,omitempty"`
	IsClosed    bool        `json:"is_closed"`
	StopLoss    *float64    `json:"stop_loss,omitempty"`
	TakeProfit  *float64    `json:"take_profit,omitempty"`
	RealizedPnL *float64    `json:"realized_pnl,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

// TradeRequest is the caller-supplied part of a trade.
type TradeRequest struct {
	UserID     string      `json:"user_id"`
	Symbol     string      `json:"symbol"`
	Action     TradeAction `json:"action"`
	Quantity   int64       `json:"quantity"`
	Price      float64     `json:"price"`
	StopLoss   *float64    `json:"stop_loss,omitempty"`
	TakeProfit *float64    `json:"take_profit,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
