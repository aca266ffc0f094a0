package performance

import (
	"sort"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// Compute replays trades in ascending timestamp order and returns the
// summary. Ties keep their input order. The input slice is not modified.
func Compute(trades []domain.Trade) domain.Performance {
	return Replay(trades).Snapshot()
}

// Replay returns the tracker after applying trades in replay order.
func Replay(trades []domain.Trade) *Tracker {
	sorted := make([]domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	tr := NewTracker()
	for _, t := range sorted {
		tr.Apply(t)
	}
	return tr
}
