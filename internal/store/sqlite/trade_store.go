package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	db *DB
}

// NewTradeStore creates a TradeStore on db.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, user_id, symbol, action, quantity, price, ts,
	position_id, is_closed, stop_loss, take_profit, realized_pnl, notes`

func listTrades(ctx context.Context, q querier, query string, args ...any) ([]domain.Trade, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t        domain.Trade
			action   string
			ts       int64
			isClosed int
		)
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Symbol, &action, &t.Quantity, &t.Price, &ts,
			&t.PositionID, &isClosed, &t.StopLoss, &t.TakeProfit, &t.RealizedPnL, &t.Notes,
		); err != nil {
			return nil, err
		}
		t.Action = domain.TradeAction(action)
		t.Timestamp = fromNanos(ts)
		t.IsClosed = isClosed == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTrade(ctx context.Context, q querier, t domain.Trade) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, symbol, action, quantity, price, ts,
			position_id, is_closed, stop_loss, take_profit, realized_pnl, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, string(t.Action), t.Quantity, t.Price, toNanos(t.Timestamp),
		t.PositionID, boolInt(t.IsClosed), t.StopLoss, t.TakeProfit, t.RealizedPnL, t.Notes,
	)
	return translate(err)
}

// ListByUser returns the user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := applyListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE user_id = ?`,
		[]any{userID}, "ts", "ts DESC, seq DESC", opts)
	out, err := listTrades(ctx, s.db.conn, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	return out, nil
}

// History returns all of the user's trades in replay order.
func (s *TradeStore) History(ctx context.Context, userID string) ([]domain.Trade, error) {
	out, err := listTrades(ctx, s.db.conn,
		`SELECT `+tradeSelectCols+` FROM trades WHERE user_id = ? ORDER BY ts, seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: trade history: %w", err)
	}
	return out, nil
}

// Stats returns the trade count and the id of the last trade in replay order.
func (s *TradeStore) Stats(ctx context.Context, userID string) (domain.TradeStats, error) {
	var st domain.TradeStats
	var last sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       (SELECT id FROM trades WHERE user_id = ? ORDER BY ts DESC, seq DESC LIMIT 1)
		FROM trades WHERE user_id = ?`, userID, userID).Scan(&st.Count, &last)
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("sqlite: trade stats: %w", err)
	}
	st.LastID = last.String
	return st, nil
}

// ListBefore returns every trade executed before the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	out, err := listTrades(ctx, s.db.conn,
		`SELECT `+tradeSelectCols+` FROM trades WHERE ts < ? ORDER BY ts, seq`, toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	return out, nil
}
