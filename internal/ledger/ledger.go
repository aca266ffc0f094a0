// Package ledger applies trade events to positions. It owns the invariant
// that at most one open position exists per (user, symbol).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
	"github.com/google/uuid"
)

const lockPoll = 25 * time.Millisecond

// Config tunes locking and retry behaviour.
type Config struct {
	LockTTL             time.Duration
	LockWait            time.Duration
	MaxRetries          int
	RejectUnmatchedSell bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		LockTTL:             10 * time.Second,
		LockWait:            2 * time.Second,
		MaxRetries:          3,
		RejectUnmatchedSell: true,
	}
}

// Result is the outcome of a ledger write.
type Result struct {
	Trade    domain.Trade
	Position *domain.Position
	Opened   bool
	Closed   bool
}

// CloseRequest closes a specific position in full. A STOP_LOSS or
// TAKE_PROFIT reason is re-checked against the position's current
// thresholds before the sell is booked.
type CloseRequest struct {
	PositionID string
	UserID     string
	Price      float64
	Reason     domain.CloseReason
	Notes      string
}

// Ledger serializes position mutations per (user, symbol) and persists each
// trade together with its position change in one transaction.
type Ledger struct {
	store     domain.LedgerStore
	positions domain.PositionStore
	locks     *KeyedMutex
	dist      domain.LockManager
	cfg       Config
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// New creates a Ledger. dist may be nil for single-instance deployments.
func New(store domain.LedgerStore, positions domain.PositionStore, dist domain.LockManager, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Ledger{
		store:     store,
		positions: positions,
		locks:     NewKeyedMutex(),
		dist:      dist,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Apply records t and applies it to the user's open position for t.Symbol.
// Missing ID and Timestamp are filled in.
func (l *Ledger) Apply(ctx context.Context, t domain.Trade) (Result, error) {
	if err := validateTrade(t); err != nil {
		return Result{}, err
	}
	if t.ID == "" {
		t.ID = l.newID()
	}

	var res Result
	err := l.withKey(ctx, t.UserID, t.Symbol, func(ctx context.Context) error {
		if t.Timestamp.IsZero() {
			t.Timestamp = l.now().UTC()
		}
		return l.inTx(ctx, func(tx domain.LedgerTx) error {
			r, err := l.apply(ctx, tx, t)
			res = r
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}

	l.logger.DebugContext(ctx, "ledger: trade applied",
		slog.String("trade_id", res.Trade.ID),
		slog.String("user_id", t.UserID),
		slog.String("symbol", t.Symbol),
		slog.String("action", string(t.Action)),
		slog.Int64("quantity", t.Quantity),
		slog.Bool("opened", res.Opened),
		slog.Bool("closed", res.Closed),
	)
	return res, nil
}

// Close sells the full remaining quantity of a position at req.Price. A
// position that is already closed, or whose threshold no longer triggers at
// req.Price, is returned unchanged with Closed=false.
func (l *Ledger) Close(ctx context.Context, req CloseRequest) (Result, error) {
	pos, err := l.positions.GetByID(ctx, req.PositionID)
	if err != nil {
		return Result{}, fmt.Errorf("ledger: close %q: %w", req.PositionID, err)
	}
	if pos.UserID != req.UserID {
		return Result{}, fmt.Errorf("ledger: close %q: %w", req.PositionID, domain.ErrNotFound)
	}
	if !pos.IsOpen {
		return Result{Position: &pos}, nil
	}
	if req.Price < 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return Result{}, domain.Invalid("price", "must be a non-negative number")
	}
	if req.Reason == domain.CloseReasonNone {
		req.Reason = domain.CloseReasonManual
	}

	var res Result
	err = l.withKey(ctx, pos.UserID, pos.Symbol, func(ctx context.Context) error {
		return l.inTx(ctx, func(tx domain.LedgerTx) error {
			cur, err := tx.PositionByID(ctx, req.PositionID)
			if err != nil {
				return err
			}
			if !cur.IsOpen || !stillTriggered(cur, req) {
				res = Result{Position: &cur}
				return nil
			}
			t := domain.Trade{
				ID:        l.newID(),
				UserID:    cur.UserID,
				Symbol:    cur.Symbol,
				Action:    domain.ActionSell,
				Quantity:  cur.Quantity,
				Price:     req.Price,
				Timestamp: l.now().UTC(),
				Notes:     req.Notes,
			}
			r, err := l.sell(ctx, tx, cur, t, req.Reason)
			res = r
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}
	if res.Closed {
		l.logger.InfoContext(ctx, "ledger: position closed",
			slog.String("position_id", req.PositionID),
			slog.String("user_id", req.UserID),
			slog.String("reason", string(req.Reason)),
			slog.Float64("price", req.Price),
		)
	}
	return res, nil
}

// Mark refreshes the price caches of an open position. It is not a ledger
// event and does not take the position lock. The cache is written only at
// the version pos was read at; after a concurrent trade the row is re-read
// and priced again. The returned position is the stored state.
func (l *Ledger) Mark(ctx context.Context, pos domain.Position, price float64) (domain.Position, error) {
	for attempt := 0; ; attempt++ {
		if !pos.IsOpen {
			return pos, nil
		}
		unrealized := Unrealized(price, pos.AvgPrice, pos.Quantity)
		err := l.positions.Mark(ctx, pos.ID, pos.Version, price, unrealized)
		if err == nil {
			pos.CurrentPrice = &price
			pos.UnrealizedPnL = &unrealized
			return pos, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			pos.IsOpen = false
			return l.reread(ctx, pos)
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= l.cfg.MaxRetries {
			return pos, fmt.Errorf("ledger: mark %q: %w", pos.ID, err)
		}
		cur, err := l.positions.GetByID(ctx, pos.ID)
		if err != nil {
			return pos, fmt.Errorf("ledger: mark %q: %w", pos.ID, err)
		}
		pos = cur
	}
}

// reread returns the stored position, or pos when it cannot be read.
func (l *Ledger) reread(ctx context.Context, pos domain.Position) (domain.Position, error) {
	cur, err := l.positions.GetByID(ctx, pos.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return pos, nil
		}
		return pos, fmt.Errorf("ledger: mark %q: %w", pos.ID, err)
	}
	return cur, nil
}

// stillTriggered re-evaluates an automatic close against cur. Manual closes
// always proceed.
func stillTriggered(cur domain.Position, req CloseRequest) bool {
	switch req.Reason {
	case domain.CloseReasonStopLoss, domain.CloseReasonTakeProfit:
		reason, hit := Trigger(cur, req.Price)
		return hit && reason == req.Reason
	default:
		return true
	}
}

func (l *Ledger) apply(ctx context.Context, tx domain.LedgerTx, t domain.Trade) (Result, error) {
	open, err := tx.OpenPosition(ctx, t.UserID, t.Symbol)
	hasOpen := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	if t.Action == domain.ActionBuy {
		return l.buy(ctx, tx, open, hasOpen, t)
	}
	if !hasOpen {
		if l.cfg.RejectUnmatchedSell {
			return Result{}, domain.ErrNoOpenPosition
		}
		if err := tx.InsertTrade(ctx, t); err != nil {
			return Result{}, err
		}
		return Result{Trade: t}, nil
	}
	return l.sell(ctx, tx, open, t, domain.CloseReasonManual)
}

func (l *Ledger) buy(ctx context.Context, tx domain.LedgerTx, pos domain.Position, hasOpen bool, t domain.Trade) (Result, error) {
	res := Result{}
	if !hasOpen {
		pos = domain.Position{
			ID:         l.newID(),
			UserID:     t.UserID,
			Symbol:     t.Symbol,
			Quantity:   t.Quantity,
			AvgPrice:   t.Price,
			EntryPrice: t.Price,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			IsOpen:     true,
			OpenedAt:   t.Timestamp,
			Version:    1,
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			return Result{}, err
		}
		res.Opened = true
	} else {
		pos.AvgPrice = WeightedAverage(pos.AvgPrice, pos.Quantity, t.Price, t.Quantity)
		pos.Quantity += t.Quantity
		if t.StopLoss != nil {
			pos.StopLoss = t.StopLoss
		}
		if t.TakeProfit != nil {
			pos.TakeProfit = t.TakeProfit
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return Result{}, err
		}
		pos.Version++
	}
	return l.record(ctx, tx, pos, t, res)
}

func (l *Ledger) sell(ctx context.Context, tx domain.LedgerTx, pos domain.Position, t domain.Trade, reason domain.CloseReason) (Result, error) {
	if t.Quantity > pos.Quantity {
		return Result{}, domain.ErrInsufficientQuantity
	}
	res := Result{}
	pnl := Realized(t.Price, pos.AvgPrice, t.Quantity)
	t.RealizedPnL = &pnl
	pos.RealizedPnL = pricefmt.Round(pos.RealizedPnL + pnl)
	pos.Quantity -= t.Quantity

	price := t.Price
	pos.CurrentPrice = &price
	if pos.Quantity == 0 {
		closedAt := t.Timestamp
		zero := 0.0
		pos.IsOpen = false
		pos.ClosedAt = &closedAt
		pos.AutoCloseReason = reason
		pos.UnrealizedPnL = &zero
		t.IsClosed = true
		res.Closed = true
	} else {
		unrealized := Unrealized(price, pos.AvgPrice, pos.Quantity)
		pos.UnrealizedPnL = &unrealized
	}
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return Result{}, err
	}
	pos.Version++
	return l.record(ctx, tx, pos, t, res)
}

func (l *Ledger) record(ctx context.Context, tx domain.LedgerTx, pos domain.Position, t domain.Trade, res Result) (Result, error) {
	id := pos.ID
	t.PositionID = &id
	if err := tx.InsertTrade(ctx, t); err != nil {
		return Result{}, err
	}
	res.Trade = t
	res.Position = &pos
	return res, nil
}

// inTx runs fn in a transaction, retrying when a concurrent writer won the
// compare-and-swap or the open-position index.
func (l *Ledger) inTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	var err error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		err = l.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("ledger: %w", err)
		}
		l.logger.WarnContext(ctx, "ledger: write conflict, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("ledger: retries exhausted: %w", errors.Join(domain.ErrConflict, err))
}

func (l *Ledger) withKey(ctx context.Context, userID, symbol string, fn func(context.Context) error) error {
	key := userID + ":" + symbol
	unlock, err := l.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", key, err)
	}
	defer unlock()

	if l.dist != nil {
		release, err := l.acquireDistributed(ctx, "ledger:"+key)
		if err != nil {
			return err
		}
		defer release()
	}
	return fn(ctx)
}

func (l *Ledger) acquireDistributed(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(l.cfg.LockWait)
	for {
		release, err := l.dist.Acquire(ctx, key, l.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: acquire %s: %w", key, ctx.Err())
		case <-time.After(lockPoll):
		}
	}
}

func validateTrade(t domain.Trade) error {
	switch {
	case t.UserID == "":
		return domain.Invalid("user_id", "required")
	case t.Symbol == "":
		return domain.Invalid("symbol", "required")
	case !t.Action.Valid():
		return domain.Invalid("action", "must be BUY or SELL, got %q", t.Action)
	case t.Quantity <= 0:
		return domain.Invalid("quantity", "must be positive, got %d", t.Quantity)
	case t.Price < 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return domain.Invalid("price", "must be a non-negative number")
	}
	return nil
}
