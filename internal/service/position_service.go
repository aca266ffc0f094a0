package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
	"github.com/alanyoungcy/paperledger/internal/notify"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
)

// ActionRequest is an operation on an existing open position. Price
// defaults to the current market price.
type ActionRequest struct {
	Action   domain.PositionAction `json:"action"`
	Quantity int64                 `json:"quantity,omitempty"`
	Price    *float64              `json:"price,omitempty"`
}

// ActionResult is the outcome of a position action or close.
type ActionResult struct {
	Message    string               `json:"message"`
	Trade      *domain.Trade        `json:"trade,omitempty"`
	Position   *domain.PositionView `json:"position,omitempty"`
	ProfitLoss *float64             `json:"profit_loss,omitempty"`
	Closed     bool                 `json:"closed"`
}

// PositionService serves position reads and user-driven position actions.
type PositionService struct {
	positions domain.PositionStore
	monitor   *AutoCloseMonitor
	trades    *TradeService
	prices    PriceSource
	ledger    PositionLedger
	alerts    Alerter
	logger    *slog.Logger
}

// NewPositionService creates a PositionService. alerts may be nil.
func NewPositionService(
	positions domain.PositionStore,
	monitor *AutoCloseMonitor,
	trades *TradeService,
	prices PriceSource,
	ledger PositionLedger,
	alerts Alerter,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		monitor:   monitor,
		trades:    trades,
		prices:    prices,
		ledger:    ledger,
		alerts:    alerts,
		logger:    logger,
	}
}

// ListOpen evaluates the user's open positions for auto-close and returns
// the survivors with fresh prices.
func (s *PositionService) ListOpen(ctx context.Context, userID string) ([]domain.PositionView, error) {
	open, err := s.monitor.Evaluate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open: %w", err)
	}
	return views(open), nil
}

// History returns the user's closed positions, most recently closed first.
func (s *PositionService) History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.PositionView, error) {
	closed, err := s.positions.ListHistory(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list history: %w", err)
	}
	return views(closed), nil
}

// Get returns one position owned by userID. An open position is re-priced
// without evaluating its thresholds.
func (s *PositionService) Get(ctx context.Context, userID, positionID string) (domain.PositionView, error) {
	pos, err := s.owned(ctx, userID, positionID)
	if err != nil {
		return domain.PositionView{}, err
	}
	if pos.IsOpen {
		pos, err = s.ledger.Mark(ctx, pos, s.prices.GetPrice(ctx, pos.Symbol))
		if err != nil {
			return domain.PositionView{}, fmt.Errorf("position_service: mark %q: %w", positionID, err)
		}
	}
	return NewPositionView(pos), nil
}

// Action buys more of, partially sells or fully sells an open position.
func (s *PositionService) Action(ctx context.Context, userID, positionID string, req ActionRequest) (ActionResult, error) {
	pos, err := s.owned(ctx, userID, positionID)
	if err != nil {
		return ActionResult{}, err
	}
	if !pos.IsOpen {
		return ActionResult{}, fmt.Errorf("position_service: position %q: %w", positionID, domain.ErrNotFound)
	}

	price, err := s.actionPrice(ctx, pos.Symbol, req.Price)
	if err != nil {
		return ActionResult{}, err
	}

	tr := domain.TradeRequest{UserID: userID, Symbol: pos.Symbol, Price: price}
	switch req.Action {
	case domain.PositionBuyMore:
		if req.Quantity <= 0 {
			return ActionResult{}, domain.Invalid("quantity", "required for %s", req.Action)
		}
		tr.Action = domain.ActionBuy
		tr.Quantity = req.Quantity
		tr.Notes = "Added to existing position"
	case domain.PositionSellPartial, domain.PositionSellAll:
		tr.Action = domain.ActionSell
		tr.Quantity = req.Quantity
		if req.Action == domain.PositionSellAll {
			tr.Quantity = pos.Quantity
		}
		if tr.Quantity <= 0 {
			return ActionResult{}, domain.Invalid("quantity", "invalid sell quantity")
		}
		if tr.Quantity > pos.Quantity {
			return ActionResult{}, domain.ErrInsufficientQuantity
		}
		tr.Notes = "Partial position close"
		if tr.Quantity == pos.Quantity {
			tr.Notes = "Full position close"
		}
	default:
		return ActionResult{}, domain.Invalid("action", "must be BUY_MORE, SELL_PARTIAL or SELL_ALL, got %q", req.Action)
	}

	trade, err := s.trades.Submit(ctx, tr)
	if err != nil {
		return ActionResult{}, err
	}

	out := ActionResult{Trade: &trade}
	if trade.Action == domain.ActionBuy {
		out.Message = fmt.Sprintf("Added %d shares at $%s", trade.Quantity, pricefmt.Price(price))
	} else {
		out.Message = fmt.Sprintf("Sold %d shares at $%s", trade.Quantity, pricefmt.Price(price))
		out.ProfitLoss = trade.RealizedPnL
		out.Closed = trade.IsClosed
	}
	if after, err := s.positions.GetByID(ctx, pos.ID); err == nil {
		v := NewPositionView(after)
		out.Position = &v
	}
	return out, nil
}

// Close sells the full position at the current market price. Closing an
// already closed position returns its state with Closed=false.
func (s *PositionService) Close(ctx context.Context, userID, positionID string) (ActionResult, error) {
	pos, err := s.owned(ctx, userID, positionID)
	if err != nil {
		return ActionResult{}, err
	}
	if !pos.IsOpen {
		v := NewPositionView(pos)
		return ActionResult{Message: "Position already closed", Position: &v}, nil
	}

	price := s.prices.GetPrice(ctx, pos.Symbol)
	res, err := s.trades.ClosePosition(ctx, ledger.CloseRequest{
		PositionID: pos.ID,
		UserID:     userID,
		Price:      price,
		Reason:     domain.CloseReasonManual,
		Notes:      fmt.Sprintf("Manual close at $%s", pricefmt.Price(price)),
	})
	if err != nil {
		return ActionResult{}, err
	}

	out := ActionResult{Closed: res.Closed, Message: "Position already closed"}
	if res.Position != nil {
		v := NewPositionView(*res.Position)
		out.Position = &v
	}
	if res.Closed {
		t := res.Trade
		out.Trade = &t
		out.ProfitLoss = t.RealizedPnL
		out.Message = fmt.Sprintf("Closed %d shares of %s at $%s", t.Quantity, t.Symbol, pricefmt.Price(price))
		if s.alerts != nil {
			if aerr := s.alerts.Notify(ctx, notify.EventManualClose, pos.Symbol+" closed", out.Message); aerr != nil {
				s.logger.WarnContext(ctx, "position_service: alert failed",
					slog.String("position_id", pos.ID),
					slog.String("error", aerr.Error()),
				)
			}
		}
	}
	return out, nil
}

func (s *PositionService) owned(ctx context.Context, userID, positionID string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", positionID, err)
	}
	if pos.UserID != userID {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", positionID, domain.ErrNotFound)
	}
	return pos, nil
}

func (s *PositionService) actionPrice(ctx context.Context, symbol string, explicit *float64) (float64, error) {
	if explicit == nil {
		return s.prices.GetPrice(ctx, symbol), nil
	}
	p := *explicit
	if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, domain.Invalid("price", "must be a non-negative number")
	}
	return p, nil
}

// NewPositionView decorates pos with display strings.
func NewPositionView(pos domain.Position) domain.PositionView {
	v := domain.PositionView{
		Position:           pos,
		AvgPriceDisplay:    pricefmt.Price(pos.AvgPrice),
		RealizedPnLDisplay: pricefmt.PnL(pos.RealizedPnL),
	}
	if pos.CurrentPrice != nil {
		cur := *pos.CurrentPrice
		v.CurrentPriceDisplay = pricefmt.Price(cur)
		v.MarketValueDisplay = pricefmt.Price(cur * float64(pos.Quantity))
		v.PnLPercentDisplay = pricefmt.Percent(cur, pos.AvgPrice)
	}
	if pos.UnrealizedPnL != nil {
		v.UnrealizedPnLDisplay = pricefmt.PnL(*pos.UnrealizedPnL)
	}
	return v
}

func views(positions []domain.Position) []domain.PositionView {
	out := make([]domain.PositionView, len(positions))
	for i, p := range positions {
		out[i] = NewPositionView(p)
	}
	return out
}
