package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ domain.UserStore = (*UserStore)(nil)

// GetByID returns the user with the given id.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, total_profit, win_percentage, trades_count, average_gain,
		       completed_trades, winning_trades, performance_updated_at
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &status,
		&u.Performance.TotalProfit, &u.Performance.WinPercentage, &u.Performance.TradesCount,
		&u.Performance.AverageGain, &u.Performance.CompletedTrades, &u.Performance.WinningTrades,
		&u.PerformanceUpdatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, translate(err))
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

// Upsert inserts u or updates its status.
func (s *UserStore) Upsert(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, status) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		u.ID, string(u.Status))
	if err != nil {
		return fmt.Errorf("postgres: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// SetStatus changes the approval status of an existing user.
func (s *UserStore) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set user status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set user status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdatePerformance writes the cached performance summary.
func (s *UserStore) UpdatePerformance(ctx context.Context, id string, p domain.Performance) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			total_profit = $2, win_percentage = $3, trades_count = $4, average_gain = $5,
			completed_trades = $6, winning_trades = $7, performance_updated_at = NOW()
		WHERE id = $1`,
		id, p.TotalProfit, p.WinPercentage, p.TradesCount, p.AverageGain,
		p.CompletedTrades, p.WinningTrades)
	if err != nil {
		return fmt.Errorf("postgres: update performance %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update performance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
