package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
	"github.com/alanyoungcy/paperledger/internal/performance"
)

// PerformanceService computes per-user performance summaries and writes them
// back to the user record.
type PerformanceService struct {
	trades domain.TradeStore
	users  domain.UserStore
	cache  *performance.Cache
	// writes serializes summary write-back per user so the last write
	// always reflects every committed trade.
	writes *ledger.KeyedMutex
	logger *slog.Logger
}

// NewPerformanceService creates a PerformanceService. cache may be nil, in
// which case every call replays from scratch.
func NewPerformanceService(trades domain.TradeStore, users domain.UserStore, cache *performance.Cache, logger *slog.Logger) *PerformanceService {
	return &PerformanceService{
		trades: trades,
		users:  users,
		cache:  cache,
		writes: ledger.NewKeyedMutex(),
		logger: logger,
	}
}

// Compute returns the user's summary. A cached tracker is used only when it
// has seen exactly the trades currently in the store.
func (s *PerformanceService) Compute(ctx context.Context, userID string) (domain.Performance, error) {
	if s.cache != nil {
		stats, err := s.trades.Stats(ctx, userID)
		if err != nil {
			return domain.Performance{}, fmt.Errorf("performance_service: trade stats: %w", err)
		}
		if tr, ok := s.cache.Get(userID, stats); ok {
			return tr.Snapshot(), nil
		}
	}

	history, err := s.trades.History(ctx, userID)
	if err != nil {
		return domain.Performance{}, fmt.Errorf("performance_service: load history: %w", err)
	}
	tr := performance.Replay(history)
	if s.cache != nil {
		s.cache.Put(userID, tr)
	}
	return tr.Snapshot(), nil
}

// Refresh folds t into the cached tracker, recomputes the summary and
// stores it on the user record.
func (s *PerformanceService) Refresh(ctx context.Context, userID string, t domain.Trade) (domain.Performance, error) {
	if s.cache != nil {
		s.cache.Advance(userID, t)
	}
	return s.update(ctx, userID)
}

// Recompute discards cached state and rebuilds the summary from the full
// trade history.
func (s *PerformanceService) Recompute(ctx context.Context, userID string) (domain.Performance, error) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	return s.update(ctx, userID)
}

func (s *PerformanceService) update(ctx context.Context, userID string) (domain.Performance, error) {
	unlock, err := s.writes.Lock(ctx, userID)
	if err != nil {
		return domain.Performance{}, fmt.Errorf("performance_service: lock %q: %w", userID, err)
	}
	defer unlock()

	perf, err := s.Compute(ctx, userID)
	if err != nil {
		return domain.Performance{}, err
	}
	if err := s.users.UpdatePerformance(ctx, userID, perf); err != nil {
		return perf, fmt.Errorf("performance_service: write summary for %q: %w", userID, err)
	}
	s.logger.DebugContext(ctx, "performance_service: summary updated",
		slog.String("user_id", userID),
		slog.Float64("total_profit", perf.TotalProfit),
		slog.Int("trades_count", perf.TradesCount),
	)
	return perf, nil
}
