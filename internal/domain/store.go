package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStats identifies the tail of a user's trade history.
type TradeStats struct {
	Count  int
	LastID string
}

// TradeStore reads the append-only trade log. Writes go through LedgerTx.
type TradeStore interface {
	// ListByUser returns trades newest first.
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	// History returns every trade for userID in replay order.
	History(ctx context.Context, userID string) ([]Trade, error)
	Stats(ctx context.Context, userID string) (TradeStats, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// PositionStore reads positions and refreshes their price caches.
type PositionStore interface {
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, userID string) ([]Position, error)
	ListHistory(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	// Mark updates CurrentPrice and UnrealizedPnL of an open position
	// still at version, without bumping it. It returns ErrConflict when the
	// position moved to another version and ErrNotFound when it is closed or
	// missing.
	Mark(ctx context.Context, id string, version int64, price, unrealized float64) error
}

// LedgerTx is the write side of the ledger inside one transaction.
type LedgerTx interface {
	OpenPosition(ctx context.Context, userID, symbol string) (Position, error)
	PositionByID(ctx context.Context, id string) (Position, error)
	// CreatePosition fails with ErrAlreadyExists when an open position
	// already exists for the pair.
	CreatePosition(ctx context.Context, pos Position) error
	// UpdatePosition writes pos if the stored row is still open at
	// pos.Version, otherwise ErrConflict.
	UpdatePosition(ctx context.Context, pos Position) error
	InsertTrade(ctx context.Context, t Trade) error
}

// LedgerStore runs fn in a single transaction.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// UserStore is the user directory.
type UserStore interface {
	GetByID(ctx context.Context, id string) (User, error)
	Upsert(ctx context.Context, u User) error
	SetStatus(ctx context.Context, id string, status UserStatus) error
	UpdatePerformance(ctx context.Context, id string, perf Performance) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
