package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, user_id, symbol, quantity, avg_price, entry_price,
	current_price, unrealized_pnl, realized_pnl, stop_loss, take_profit,
	is_open, opened_at, closed_at, auto_close_reason, version`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var reason string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.EntryPrice,
		&p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.StopLoss, &p.TakeProfit,
		&p.IsOpen, &p.OpenedAt, &p.ClosedAt, &reason, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.AutoCloseReason = domain.CloseReason(reason)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
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

func getPosition(ctx context.Context, q querier, query string, args ...any) (domain.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Position{}, translate(err)
	}
	return p, nil
}

// GetByID returns the position with the given id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := getPosition(ctx, s.pool,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns the user's open positions.
func (s *PositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND is_open ORDER BY opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return out, nil
}

// ListHistory returns the user's closed positions, most recently closed first.
func (s *PositionStore) ListHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE user_id = $1 AND NOT is_open`
	args := []any{userID}
	query, args = applyListOpts(query, args, "closed_at", "closed_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns every position closed before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE NOT is_open AND closed_at < $1 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return out, nil
}

// Mark refreshes the price caches of an open position at version.
func (s *PositionStore) Mark(ctx context.Context, id string, version int64, price, unrealized float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET current_price = $3, unrealized_pnl = $4, updated_at = NOW()
		 WHERE id = $1 AND is_open AND version = $2`, id, version, price, unrealized)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var open bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE id = $1 AND is_open)`, id).Scan(&open)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s: %w", id, err)
	}
	if !open {
		return fmt.Errorf("postgres: mark position %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: mark position %s at version %d: %w", id, version, domain.ErrConflict)
}

// applyListOpts appends time filters on tsCol, the ORDER BY clause and paging.
func applyListOpts(query string, args []any, tsCol, orderBy string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", tsCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", tsCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
