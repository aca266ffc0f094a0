package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore. Position rows read inside a
// transaction are locked with FOR UPDATE.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// InTx runs fn inside a read-committed transaction and commits when fn
// returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", translate(err))
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) OpenPosition(ctx context.Context, userID, symbol string) (domain.Position, error) {
	p, err := getPosition(ctx, t.tx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND symbol = $2 AND is_open FOR UPDATE`, userID, symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: open position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

func (t *ledgerTx) PositionByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := getPosition(ctx, t.tx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) CreatePosition(ctx context.Context, p domain.Position) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO positions (
			id, user_id, symbol, quantity, avg_price, entry_price,
			current_price, unrealized_pnl, realized_pnl, stop_loss, take_profit,
			is_open, opened_at, closed_at, auto_close_reason, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.UserID, p.Symbol, p.Quantity, p.AvgPrice, p.EntryPrice,
		p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL, p.StopLoss, p.TakeProfit,
		p.IsOpen, p.OpenedAt, p.ClosedAt, string(p.AutoCloseReason), p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s/%s: %w", p.UserID, p.Symbol, translate(err))
	}
	return nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE positions SET
			quantity = $3, avg_price = $4, current_price = $5, unrealized_pnl = $6,
			realized_pnl = $7, stop_loss = $8, take_profit = $9, is_open = $10,
			closed_at = $11, auto_close_reason = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND is_open`,
		p.ID, p.Version,
		p.Quantity, p.AvgPrice, p.CurrentPrice, p.UnrealizedPnL,
		p.RealizedPnL, p.StopLoss, p.TakeProfit, p.IsOpen,
		p.ClosedAt, string(p.AutoCloseReason),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s at version %d: %w", p.ID, p.Version, domain.ErrConflict)
	}
	return nil
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	if err := insertTrade(ctx, t.tx, tr); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", tr.ID, err)
	}
	return nil
}
