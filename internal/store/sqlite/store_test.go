package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func samplePosition(id string) domain.Position {
	return domain.Position{
		ID:         id,
		UserID:     "u1",
		Symbol:     "AAPL",
		Quantity:   10,
		AvgPrice:   100,
		EntryPrice: 100,
		IsOpen:     true,
		OpenedAt:   time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
		Version:    1,
	}
}

func TestOneOpenPositionPerPair(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ledger := NewLedgerStore(db)

	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, samplePosition("p1"))
	}))

	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, samplePosition("p2"))
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := NewPositionStore(db).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quantity)
	assert.True(t, got.IsOpen)
	assert.Equal(t, samplePosition("p1").OpenedAt, got.OpenedAt)
	assert.Nil(t, got.StopLoss)
}

func TestUpdatePositionCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ledger := NewLedgerStore(db)
	positions := NewPositionStore(db)

	p := samplePosition("p1")
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, p)
	}))

	p.Quantity = 0
	p.IsOpen = false
	closed := time.Now().UTC()
	p.ClosedAt = &closed
	p.AutoCloseReason = domain.CloseReasonManual
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdatePosition(ctx, p)
	}))

	// Same version again: row is no longer open and has moved on.
	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdatePosition(ctx, p)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.IsOpen)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.CloseReasonManual, got.AutoCloseReason)
	require.NotNil(t, got.ClosedAt)

	// A new open position for the same pair is allowed once the old one closed.
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, samplePosition("p2"))
	}))
	open, err := positions.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "p2", open[0].ID)

	hist, err := positions.ListHistory(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "p1", hist[0].ID)
}

func TestRollbackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ledger := NewLedgerStore(db)

	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.CreatePosition(ctx, samplePosition("p1")); err != nil {
			return err
		}
		return domain.ErrNoOpenPosition
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewPositionStore(db).GetByID(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradesReplayOrderAndStats(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ledger := NewLedgerStore(db)
	trades := NewTradeStore(db)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sl := 90.0
	in := []domain.Trade{
		{ID: "t2", UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 1, Price: 10, Timestamp: base.Add(time.Minute)},
		{ID: "t1", UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 2, Price: 11, Timestamp: base, StopLoss: &sl},
		{ID: "t3", UserID: "u1", Symbol: "MSFT", Action: domain.ActionSell, Quantity: 3, Price: 12, Timestamp: base.Add(time.Minute)},
		{ID: "x1", UserID: "u2", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 1, Price: 1, Timestamp: base},
	}
	for _, tr := range in {
		tr := tr
		require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
			return tx.InsertTrade(ctx, tr)
		}))
	}

	hist, err := trades.History(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(hist))
	for _, tr := range hist {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids)
	require.NotNil(t, hist[0].StopLoss)
	assert.Equal(t, 90.0, *hist[0].StopLoss)
	assert.Nil(t, hist[0].PositionID)

	st, err := trades.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStats{Count: 3, LastID: "t3"}, st)

	empty, err := trades.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStats{}, empty)

	recent, err := trades.ListByUser(ctx, "u1", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].ID)
	assert.Equal(t, "t2", recent[1].ID)

	old, err := trades.ListBefore(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, old, 2)
}

func TestMarkOnlyTouchesOpenPositions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	positions := NewPositionStore(db)
	require.NoError(t, NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, samplePosition("p1"))
	}))

	require.NoError(t, positions.Mark(ctx, "p1", 1, 105, 50))
	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.CurrentPrice)
	assert.Equal(t, 105.0, *got.CurrentPrice)
	assert.Equal(t, 50.0, *got.UnrealizedPnL)
	assert.Equal(t, int64(1), got.Version)

	assert.ErrorIs(t, positions.Mark(ctx, "p1", 0, 99, 1), domain.ErrConflict)
	got, err = positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, *got.UnrealizedPnL)

	assert.ErrorIs(t, positions.Mark(ctx, "missing", 1, 1, 1), domain.ErrNotFound)
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(openTestDB(t))

	_, err := users.GetByID(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, users.Upsert(ctx, domain.User{ID: "u1", Status: domain.UserPending}))
	require.NoError(t, users.SetStatus(ctx, "u1", domain.UserApproved))
	assert.ErrorIs(t, users.SetStatus(ctx, "u2", domain.UserApproved), domain.ErrNotFound)

	perf := domain.Performance{TotalProfit: 0.3, WinPercentage: 100, TradesCount: 2, AverageGain: 0.3, CompletedTrades: 1, WinningTrades: 1}
	require.NoError(t, users.UpdatePerformance(ctx, "u1", perf))

	u, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserApproved, u.Status)
	assert.Equal(t, perf, u.Performance)
	assert.NotNil(t, u.PerformanceUpdatedAt)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditStore(openTestDB(t))

	require.NoError(t, audit.Log(ctx, "position_opened", map[string]any{"symbol": "AAPL"}))
	require.NoError(t, audit.Log(ctx, "position_closed", map[string]any{"reason": "MANUAL"}))

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "position_closed", entries[0].Event)
	assert.Equal(t, "MANUAL", entries[0].Detail["reason"])
}
