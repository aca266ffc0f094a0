package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
	"github.com/alanyoungcy/paperledger/internal/notify"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
)

// positionCloser books a closing trade for a position.
type positionCloser interface {
	ClosePosition(ctx context.Context, req ledger.CloseRequest) (ledger.Result, error)
}

// AutoCloseMonitor evaluates a user's open positions against their
// thresholds whenever they are listed.
type AutoCloseMonitor struct {
	positions   domain.PositionStore
	prices      PriceSource
	ledger      PositionLedger
	closer      positionCloser
	alerts      Alerter
	concurrency int
	logger      *slog.Logger
}

// NewAutoCloseMonitor creates an AutoCloseMonitor. alerts may be nil.
func NewAutoCloseMonitor(
	positions domain.PositionStore,
	prices PriceSource,
	ledger PositionLedger,
	closer *TradeService,
	alerts Alerter,
	concurrency int,
	logger *slog.Logger,
) *AutoCloseMonitor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &AutoCloseMonitor{
		positions:   positions,
		prices:      prices,
		ledger:      ledger,
		closer:      closer,
		alerts:      alerts,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Evaluate prices every open position of userID, closes those whose
// thresholds were crossed and refreshes the price caches of the rest. It
// returns the positions still open, in store order.
func (m *AutoCloseMonitor) Evaluate(ctx context.Context, userID string) ([]domain.Position, error) {
	open, err := m.positions.ListOpen(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("autoclose: list open positions: %w", err)
	}

	evaluated := make([]domain.Position, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, pos := range open {
		g.Go(func() error {
			evaluated[i] = m.evaluate(gctx, pos)
			return nil
		})
	}
	_ = g.Wait()

	still := make([]domain.Position, 0, len(evaluated))
	for _, p := range evaluated {
		if p.IsOpen {
			still = append(still, p)
		}
	}
	return still, nil
}

func (m *AutoCloseMonitor) evaluate(ctx context.Context, pos domain.Position) domain.Position {
	price := m.prices.GetPrice(ctx, pos.Symbol)

	if reason, hit := ledger.Trigger(pos, price); hit {
		res, err := m.closer.ClosePosition(ctx, ledger.CloseRequest{
			PositionID: pos.ID,
			UserID:     pos.UserID,
			Price:      price,
			Reason:     reason,
			Notes:      closeNote(reason, price),
		})
		switch {
		case err != nil:
			m.logger.ErrorContext(ctx, "autoclose: close failed",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
		case res.Closed:
			m.alert(ctx, pos, res, reason, price)
			if res.Position != nil {
				return *res.Position
			}
			pos.IsOpen = false
			return pos
		case res.Position != nil && res.Position.IsOpen:
			// Thresholds moved since the listing was read.
			pos = *res.Position
		case res.Position != nil:
			return *res.Position
		default:
			pos.IsOpen = false
			return pos
		}
	}

	marked, err := m.ledger.Mark(ctx, pos, price)
	if err != nil {
		m.logger.WarnContext(ctx, "autoclose: mark failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		if !marked.IsOpen {
			return marked
		}
		unrealized := ledger.Unrealized(price, marked.AvgPrice, marked.Quantity)
		marked.CurrentPrice = &price
		marked.UnrealizedPnL = &unrealized
		return marked
	}
	return marked
}

func (m *AutoCloseMonitor) alert(ctx context.Context, pos domain.Position, res ledger.Result, reason domain.CloseReason, price float64) {
	m.logger.InfoContext(ctx, "autoclose: position closed",
		slog.String("position_id", pos.ID),
		slog.String("user_id", pos.UserID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("price", price),
	)
	if m.alerts == nil {
		return
	}
	var realized float64
	if res.Trade.RealizedPnL != nil {
		realized = *res.Trade.RealizedPnL
	}
	title := fmt.Sprintf("%s %s", pos.Symbol, reasonLabel(reason))
	msg := fmt.Sprintf("User %s: %d shares closed at $%s, realized P&L $%s",
		pos.UserID, res.Trade.Quantity, pricefmt.Price(price), pricefmt.PnL(realized))
	if err := m.alerts.Notify(ctx, notify.EventAutoClose, title, msg); err != nil {
		m.logger.WarnContext(ctx, "autoclose: alert failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func closeNote(reason domain.CloseReason, price float64) string {
	return fmt.Sprintf("Auto-closed by %s at $%s", reasonLabel(reason), pricefmt.Price(price))
}

func reasonLabel(reason domain.CloseReason) string {
	switch reason {
	case domain.CloseReasonStopLoss:
		return "stop loss"
	case domain.CloseReasonTakeProfit:
		return "take profit"
	default:
		return "manual close"
	}
}
