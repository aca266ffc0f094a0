package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a LedgerStore on db.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// InTx runs fn in a transaction. fn must only touch the database through tx;
// the pool has a single connection.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit ledger tx: %w", translate(err))
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) OpenPosition(ctx context.Context, userID, symbol string) (domain.Position, error) {
	p, err := getPosition(ctx, t.tx,
		`SELECT `+positionSelectCols+` FROM positions WHERE user_id = ? AND symbol = ? AND is_open = 1`,
		userID, symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: open position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

func (t *ledgerTx) PositionByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := getPosition(ctx, t.tx, `SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: position %s: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) CreatePosition(ctx context.Context, p domain.Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (
			id, user_id, symbol, quantity, avg_price, entry_price,
			current_price, unrealized_pnl, realized_pnl, stop_loss, take_profit,
			is_open, opened_at, closed_at, auto_close_reason, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Symbol, p.Quantity, p.AvgPrice, p.EntryPrice,
		p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL, p.StopLoss, p.TakeProfit,
		boolInt(p.IsOpen), toNanos(p.OpenedAt), nullNanos(p.ClosedAt), string(p.AutoCloseReason), p.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create position %s/%s: %w", p.UserID, p.Symbol, translate(err))
	}
	return nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE positions SET
			quantity = ?, avg_price = ?, current_price = ?, unrealized_pnl = ?,
			realized_pnl = ?, stop_loss = ?, take_profit = ?, is_open = ?,
			closed_at = ?, auto_close_reason = ?, version = version + 1
		WHERE id = ? AND version = ? AND is_open = 1`,
		p.Quantity, p.AvgPrice, p.CurrentPrice, p.UnrealizedPnL,
		p.RealizedPnL, p.StopLoss, p.TakeProfit, boolInt(p.IsOpen),
		nullNanos(p.ClosedAt), string(p.AutoCloseReason),
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.ID, translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update position %s at version %d: %w", p.ID, p.Version, domain.ErrConflict)
	}
	return nil
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	if err := insertTrade(ctx, t.tx, tr); err != nil {
		return fmt.Errorf("sqlite: insert trade %s: %w", tr.ID, err)
	}
	return nil
}
