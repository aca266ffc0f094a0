package domain

import "time"

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonNone       CloseReason = ""
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
	CloseReasonManual     CloseReason = "MANUAL"
)

// Position is the aggregated holding of one symbol for one user. At most one
// open position exists per (UserID, Symbol). A closed position is terminal.
type Position struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Symbol          string      `json:"symbol"`
	Quantity        int64       `json:"quantity"`
	AvgPrice        float64     `json:"avg_price"`
	EntryPrice      float64     `json:"entry_price"`
	CurrentPrice    *float64    `json:"current_price,omitempty"`
	UnrealizedPnL   *float64    `json:"unrealized_pnl,omitempty"`
	RealizedPnL     float64     `json:"realized_pnl"`
	StopLoss        *float64    `json:"stop_loss,omitempty"`
	TakeProfit      *float64    `json:"take_profit,omitempty"`
	IsOpen          bool        `json:"is_open"`
	OpenedAt        time.Time   `json:"opened_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
	AutoCloseReason CloseReason `json:"auto_close_reason,omitempty"`
	// Version is bumped on every ledger write and used for compare-and-swap.
	Version int64 `json:"-"`
}

// PositionView decorates a position with display strings.
type PositionView struct {
	Position
	AvgPriceDisplay      string `json:"avg_price_display"`
	CurrentPriceDisplay  string `json:"current_price_display,omitempty"`
	UnrealizedPnLDisplay string `json:"unrealized_pnl_display,omitempty"`
	PnLPercentDisplay    string `json:"pnl_percent_display,omitempty"`
	MarketValueDisplay   string `json:"market_value_display,omitempty"`
	RealizedPnLDisplay   string `json:"realized_pnl_display"`
}

// PositionAction is an operation on an existing position.
type PositionAction string

const (
	PositionBuyMore     PositionAction = "BUY_MORE"
	PositionSellPartial PositionAction = "SELL_PARTIAL"
	PositionSellAll     PositionAction = "SELL_ALL"
)
