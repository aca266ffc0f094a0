package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
)

// TradeService executes paper trades on behalf of approved users.
type TradeService struct {
	users     domain.UserStore
	trades    domain.TradeStore
	positions domain.PositionStore
	ledger    PositionLedger
	perf      *PerformanceService
	emit      emitter
	logger    *slog.Logger
}

// NewTradeService creates a TradeService. bus and audit may be nil.
func NewTradeService(
	users domain.UserStore,
	trades domain.TradeStore,
	positions domain.PositionStore,
	ledger PositionLedger,
	perf *PerformanceService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		users:     users,
		trades:    trades,
		positions: positions,
		ledger:    ledger,
		perf:      perf,
		emit:      emitter{bus: bus, audit: audit, component: "trade_service", logger: logger},
		logger:    logger,
	}
}

// Submit validates req, applies it to the ledger and refreshes the user's
// performance summary. The returned trade carries the position id the
// ledger assigned, if any.
func (s *TradeService) Submit(ctx context.Context, req domain.TradeRequest) (domain.Trade, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	req.Action = domain.TradeAction(strings.ToUpper(strings.TrimSpace(string(req.Action))))

	if err := s.checkUser(ctx, req.UserID); err != nil {
		return domain.Trade{}, err
	}
	if req.Action == domain.ActionSell && req.Quantity > 0 {
		if err := s.checkHeld(ctx, req.UserID, req.Symbol, req.Quantity); err != nil {
			return domain.Trade{}, err
		}
	}

	res, err := s.ledger.Apply(ctx, domain.Trade{
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Action:     req.Action,
		Quantity:   req.Quantity,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Notes:      req.Notes,
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: submit: %w", err)
	}
	s.afterApply(ctx, res)
	return res.Trade, nil
}

// ClosePosition closes a position through the ledger and runs the same
// follow-up as Submit when a closing trade was booked.
func (s *TradeService) ClosePosition(ctx context.Context, req ledger.CloseRequest) (ledger.Result, error) {
	res, err := s.ledger.Close(ctx, req)
	if err != nil {
		return ledger.Result{}, fmt.Errorf("trade_service: close position: %w", err)
	}
	if res.Closed {
		s.afterApply(ctx, res)
	}
	return res, nil
}

// ListTrades returns the user's trades newest first.
func (s *TradeService) ListTrades(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades for %q: %w", userID, err)
	}
	return trades, nil
}

func (s *TradeService) checkUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.Invalid("user_id", "required")
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUserNotApproved
	}
	if err != nil {
		return fmt.Errorf("trade_service: load user %q: %w", userID, err)
	}
	if u.Status != domain.UserApproved {
		return domain.ErrUserNotApproved
	}
	return nil
}

// checkHeld rejects a SELL larger than the open quantity before it reaches
// the ledger. The ledger repeats the check under its lock.
func (s *TradeService) checkHeld(ctx context.Context, userID, symbol string, qty int64) error {
	open, err := s.positions.ListOpen(ctx, userID)
	if err != nil {
		return fmt.Errorf("trade_service: list open positions: %w", err)
	}
	for _, p := range open {
		if p.Symbol == symbol {
			if qty > p.Quantity {
				return domain.ErrInsufficientQuantity
			}
			return nil
		}
	}
	return nil
}

func (s *TradeService) afterApply(ctx context.Context, res ledger.Result) {
	t := res.Trade
	evt := map[string]any{
		"event":     "trade_executed",
		"user_id":   t.UserID,
		"trade_id":  t.ID,
		"symbol":    t.Symbol,
		"action":    string(t.Action),
		"quantity":  t.Quantity,
		"price":     t.Price,
		"timestamp": t.Timestamp.Format(time.RFC3339Nano),
	}
	if t.PositionID != nil {
		evt["position_id"] = *t.PositionID
	}
	if t.RealizedPnL != nil {
		evt["realized_pnl"] = *t.RealizedPnL
	}
	s.emit.publish(ctx, domain.ChannelTrades, evt)

	if p := res.Position; p != nil {
		name := "position_updated"
		switch {
		case res.Opened:
			name = "position_opened"
		case res.Closed:
			name = "position_closed"
		}
		s.emit.publish(ctx, domain.ChannelPositions, map[string]any{
			"event":       name,
			"user_id":     p.UserID,
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"quantity":    p.Quantity,
			"avg_price":   p.AvgPrice,
			"is_open":     p.IsOpen,
			"reason":      string(p.AutoCloseReason),
		})
	}

	s.emit.record(ctx, "trade_executed", map[string]any{
		"trade_id": t.ID,
		"user_id":  t.UserID,
		"symbol":   t.Symbol,
		"action":   string(t.Action),
		"quantity": t.Quantity,
		"price":    t.Price,
	})

	if s.perf != nil {
		if _, err := s.perf.Refresh(ctx, t.UserID, t); err != nil {
			s.logger.WarnContext(ctx, "trade_service: performance refresh failed",
				slog.String("user_id", t.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("trade_id", t.ID),
		slog.String("user_id", t.UserID),
		slog.String("symbol", t.Symbol),
		slog.String("action", string(t.Action)),
		slog.Int64("quantity", t.Quantity),
		slog.Float64("price", t.Price),
	)
}
