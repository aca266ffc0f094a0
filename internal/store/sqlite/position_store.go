package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	db *DB
}

// NewPositionStore creates a PositionStore on db.
func NewPositionStore(db *DB) *PositionStore {
	return &PositionStore{db: db}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, user_id, symbol, quantity, avg_price, entry_price,
	current_price, unrealized_pnl, realized_pnl, stop_loss, take_profit,
	is_open, opened_at, closed_at, auto_close_reason, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p        domain.Position
		isOpen   int
		openedAt int64
		closedAt sql.NullInt64
		reason   string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.EntryPrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.StopLoss, &p.TakeProfit,
		&isOpen, &openedAt, &closedAt, &reason, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.IsOpen = isOpen == 1
	p.OpenedAt = fromNanos(openedAt)
	p.ClosedAt = timePtr(closedAt)
	p.AutoCloseReason = domain.CloseReason(reason)
	return p, nil
}

func getPosition(ctx context.Context, q querier, query string, args ...any) (domain.Position, error) {
	p, err := scanPosition(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Position{}, translate(err)
	}
	return p, nil
}

func listPositions(ctx context.Context, q querier, query string, args ...any) ([]domain.Position, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByID returns the position with the given id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := getPosition(ctx, s.db.conn, `SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns the user's open positions.
func (s *PositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	out, err := listPositions(ctx, s.db.conn,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = ? AND is_open = 1 ORDER BY opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open positions: %w", err)
	}
	return out, nil
}

// ListHistory returns the user's closed positions, most recently closed first.
func (s *PositionStore) ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := applyListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE user_id = ? AND is_open = 0`,
		[]any{userID}, "closed_at", "closed_at DESC", opts)
	out, err := listPositions(ctx, s.db.conn, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list position history: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns every position closed before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	out, err := listPositions(ctx, s.db.conn,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE is_open = 0 AND closed_at < ? ORDER BY closed_at`, toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed positions: %w", err)
	}
	return out, nil
}

// Mark refreshes the price caches of an open position at version.
func (s *PositionStore) Mark(ctx context.Context, id string, version int64, price, unrealized float64) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE positions SET current_price = ?, unrealized_pnl = ?
		 WHERE id = ? AND is_open = 1 AND version = ?`,
		price, unrealized, id, version)
	if err != nil {
		return fmt.Errorf("sqlite: mark position %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var open int
	err = s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE id = ? AND is_open = 1`, id).Scan(&open)
	if err != nil {
		return fmt.Errorf("sqlite: mark position %s: %w", id, err)
	}
	if open == 0 {
		return fmt.Errorf("sqlite: mark position %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("sqlite: mark position %s at version %d: %w", id, version, domain.ErrConflict)
}
