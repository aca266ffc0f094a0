// Package performance replays a user's trade history into a performance
// summary. Compute is the reference; Tracker and Cache let callers advance a
// replay one trade at a time without diverging from it.
package performance

import (
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
)

type book struct {
	shares int64
	cost   float64
}

// Tracker is the replay state machine. The zero value is not usable; call
// NewTracker.
type Tracker struct {
	books     map[string]*book
	trades    int
	completed int
	winners   int
	profit    float64
	lastID    string
	lastAt    time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{books: make(map[string]*book)}
}

// Apply folds one trade into the replay. Trades must arrive in replay order.
func (tr *Tracker) Apply(t domain.Trade) {
	tr.trades++
	tr.lastID = t.ID
	tr.lastAt = t.Timestamp

	b, ok := tr.books[t.Symbol]
	if !ok {
		b = &book{}
		tr.books[t.Symbol] = b
	}

	switch t.Action {
	case domain.ActionBuy:
		b.shares += t.Quantity
		b.cost += float64(t.Quantity) * t.Price
	case domain.ActionSell:
		if b.shares <= 0 {
			return
		}
		avg := b.cost / float64(b.shares)
		qty := t.Quantity
		if qty > b.shares {
			qty = b.shares
		}
		profit := (t.Price - avg) * float64(qty)
		tr.completed++
		if profit > 0 {
			tr.winners++
		}
		tr.profit += profit

		b.shares -= qty
		b.cost -= avg * float64(qty)
		if b.shares == 0 || b.cost < 0 {
			b.cost = 0
		}
	}
}

// Snapshot returns the summary for the trades applied so far.
func (tr *Tracker) Snapshot() domain.Performance {
	p := domain.Performance{TradesCount: tr.trades}
	if tr.completed == 0 {
		return p
	}
	p.CompletedTrades = tr.completed
	p.WinningTrades = tr.winners
	p.TotalProfit = pricefmt.Round(tr.profit)
	p.WinPercentage = pricefmt.Round2(float64(tr.winners) / float64(tr.completed) * 100)
	p.AverageGain = pricefmt.Round(tr.profit / float64(tr.completed))
	return p
}

// Clone returns an independent copy.
func (tr *Tracker) Clone() *Tracker {
	c := *tr
	c.books = make(map[string]*book, len(tr.books))
	for sym, b := range tr.books {
		cp := *b
		c.books[sym] = &cp
	}
	return &c
}

// Stamp identifies the last trade applied.
func (tr *Tracker) Stamp() domain.TradeStats {
	return domain.TradeStats{Count: tr.trades, LastID: tr.lastID}
}

// LastAt is the timestamp of the last trade applied.
func (tr *Tracker) LastAt() time.Time {
	return tr.lastAt
}
