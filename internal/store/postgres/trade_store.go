package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, user_id, symbol, action, quantity, price, ts,
	position_id, is_closed, stop_loss, take_profit, realized_pnl, notes`

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var action string
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Symbol, &action, &t.Quantity, &t.Price, &t.Timestamp,
			&t.PositionID, &t.IsClosed, &t.StopLoss, &t.TakeProfit, &t.RealizedPnL, &t.Notes,
		); err != nil {
			return nil, err
		}
		t.Action = domain.TradeAction(action)
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTrade(ctx context.Context, q querier, t domain.Trade) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trades (
			id, user_id, symbol, action, quantity, price, ts,
			position_id, is_closed, stop_loss, take_profit, realized_pnl, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.UserID, t.Symbol, string(t.Action), t.Quantity, t.Price, t.Timestamp,
		t.PositionID, t.IsClosed, t.StopLoss, t.TakeProfit, t.RealizedPnL, t.Notes,
	)
	return translate(err)
}

// ListByUser returns the user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := applyListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE user_id = $1`,
		[]any{userID}, "ts", "ts DESC, seq DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	out, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// History returns all of the user's trades in replay order.
func (s *TradeStore) History(ctx context.Context, userID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE user_id = $1 ORDER BY ts, seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: trade history: %w", err)
	}
	out, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade history: %w", err)
	}
	return out, nil
}

// Stats returns the trade count and the id of the last trade in replay order.
func (s *TradeStore) Stats(ctx context.Context, userID string) (domain.TradeStats, error) {
	var st domain.TradeStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE((SELECT id FROM trades WHERE user_id = $1 ORDER BY ts DESC, seq DESC LIMIT 1), '')
		FROM trades WHERE user_id = $1`, userID).Scan(&st.Count, &st.LastID)
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("postgres: trade stats: %w", err)
	}
	return st, nil
}

// ListBefore returns every trade executed before the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE ts < $1 ORDER BY ts, seq`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	out, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return out, nil
}
