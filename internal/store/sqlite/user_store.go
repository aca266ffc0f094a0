package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// UserStore implements domain.UserStore.
type UserStore struct {
	db *DB
}

// NewUserStore creates a UserStore on db.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

var _ domain.UserStore = (*UserStore)(nil)

// GetByID returns the user with the given id.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var (
		u       domain.User
		status  string
		updated sql.NullInt64
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, status, total_profit, win_percentage, trades_count, average_gain,
		       completed_trades, winning_trades, performance_updated_at
		FROM users WHERE id = ?`, id).Scan(
		&u.ID, &status,
		&u.Performance.TotalProfit, &u.Performance.WinPercentage, &u.Performance.TradesCount,
		&u.Performance.AverageGain, &u.Performance.CompletedTrades, &u.Performance.WinningTrades,
		&updated,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", id, translate(err))
	}
	u.Status = domain.UserStatus(status)
	u.PerformanceUpdatedAt = timePtr(updated)
	return u, nil
}

// Upsert inserts u or updates its status.
func (s *UserStore) Upsert(ctx context.Context, u domain.User) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO users (id, status) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		u.ID, string(u.Status))
	if err != nil {
		return fmt.Errorf("sqlite: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// SetStatus changes the approval status of an existing user.
func (s *UserStore) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	res, err := s.db.conn.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite: set user status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: set user status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdatePerformance writes the cached performance summary.
func (s *UserStore) UpdatePerformance(ctx context.Context, id string, p domain.Performance) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE users SET
			total_profit = ?, win_percentage = ?, trades_count = ?, average_gain = ?,
			completed_trades = ?, winning_trades = ?, performance_updated_at = ?
		WHERE id = ?`,
		p.TotalProfit, p.WinPercentage, p.TradesCount, p.AverageGain,
		p.CompletedTrades, p.WinningTrades, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update performance %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update performance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
