package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/ledger"
	"github.com/alanyoungcy/paperledger/internal/notify"
	"github.com/alanyoungcy/paperledger/internal/oracle"
	"github.com/alanyoungcy/paperledger/internal/performance"
	"github.com/alanyoungcy/paperledger/internal/store/sqlite"
)

type fixedPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fixedPrices) GetPrice(_ context.Context, symbol string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[symbol]
}

func (f *fixedPrices) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

type memBus struct {
	mu     sync.Mutex
	events map[string][]map[string]any
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], m)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) on(channel string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[channel]
}

type alert struct{ event, title, message string }

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (r *recordingAlerter) Notify(_ context.Context, event, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{event, title, message})
	return nil
}

func (r *recordingAlerter) all() []alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert(nil), r.alerts...)
}

type fixture struct {
	users     *sqlite.UserStore
	trades    *sqlite.TradeStore
	positions *sqlite.PositionStore
	audit     *sqlite.AuditStore
	ledger    *ledger.Ledger
	prices    *fixedPrices
	bus       *memBus
	alerts    *recordingAlerter

	tradeSvc *TradeService
	perfSvc  *PerformanceService
	monitor  *AutoCloseMonitor
	posSvc   *PositionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		users:     sqlite.NewUserStore(db),
		trades:    sqlite.NewTradeStore(db),
		positions: sqlite.NewPositionStore(db),
		audit:     sqlite.NewAuditStore(db),
		prices:    &fixedPrices{prices: map[string]float64{}},
		bus:       &memBus{events: map[string][]map[string]any{}},
		alerts:    &recordingAlerter{},
	}
	f.ledger = ledger.New(sqlite.NewLedgerStore(db), f.positions, nil, ledger.DefaultConfig(), logger)
	f.perfSvc = NewPerformanceService(f.trades, f.users, performance.NewCache(time.Minute), logger)
	f.tradeSvc = NewTradeService(f.users, f.trades, f.positions, f.ledger, f.perfSvc, f.bus, f.audit, logger)
	f.monitor = NewAutoCloseMonitor(f.positions, f.prices, f.ledger, f.tradeSvc, f.alerts, 2, logger)
	f.posSvc = NewPositionService(f.positions, f.monitor, f.tradeSvc, f.prices, f.ledger, f.alerts, logger)

	require.NoError(t, f.users.Upsert(ctx, domain.User{ID: "u1", Status: domain.UserApproved}))
	require.NoError(t, f.users.Upsert(ctx, domain.User{ID: "u2", Status: domain.UserApproved}))
	require.NoError(t, f.users.Upsert(ctx, domain.User{ID: "pending", Status: domain.UserPending}))
	return f
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) submit(t *testing.T, req domain.TradeRequest) domain.Trade {
	t.Helper()
	tr, err := f.tradeSvc.Submit(context.Background(), req)
	require.NoError(t, err)
	return tr
}

func buyReq(user, symbol string, qty int64, price float64) domain.TradeRequest {
	return domain.TradeRequest{UserID: user, Symbol: symbol, Action: domain.ActionBuy, Quantity: qty, Price: price}
}

func sellReq(user, symbol string, qty int64, price float64) domain.TradeRequest {
	return domain.TradeRequest{UserID: user, Symbol: symbol, Action: domain.ActionSell, Quantity: qty, Price: price}
}

func TestSubmitRequiresApprovedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"pending", "ghost"} {
		_, err := f.tradeSvc.Submit(ctx, buyReq(user, "AAPL", 1, 10))
		require.ErrorIs(t, err, domain.ErrUserNotApproved, user)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	_, err := f.tradeSvc.Submit(ctx, buyReq("", "AAPL", 1, 10))
	assert.ErrorIs(t, err, domain.ErrValidation)

	trades, err := f.trades.History(ctx, "pending")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]domain.TradeRequest{
		"zero quantity":  buyReq("u1", "AAPL", 0, 10),
		"negative price": buyReq("u1", "AAPL", 1, -1),
		"bad action":     {UserID: "u1", Symbol: "AAPL", Action: "HOLD", Quantity: 1, Price: 1},
		"empty symbol":   buyReq("u1", "  ", 1, 10),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.tradeSvc.Submit(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSubmitNormalizesAndLinksPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: " aapl ", Action: "buy", Quantity: 10, Price: 150})
	assert.Equal(t, "AAPL", tr.Symbol)
	assert.Equal(t, domain.ActionBuy, tr.Action)
	require.NotNil(t, tr.PositionID)

	pos, err := f.positions.GetByID(ctx, *tr.PositionID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)

	trades, err := f.tradeSvc.ListTrades(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, tr.ID, trades[0].ID)
}

func TestSubmitRejectsOversellAndUnmatchedSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tradeSvc.Submit(ctx, sellReq("u1", "MSFT", 5, 300))
	assert.ErrorIs(t, err, domain.ErrNoOpenPosition)

	f.submit(t, buyReq("u1", "MSFT", 5, 300))
	_, err = f.tradeSvc.Submit(ctx, sellReq("u1", "MSFT", 6, 300))
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	open, err := f.positions.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(5), open[0].Quantity)
}

func TestSubmitPennyRoundTripUpdatesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, buyReq("u1", "PENNY", 1000, 0.0025))
	sold := f.submit(t, sellReq("u1", "PENNY", 1000, 0.0028))
	assert.True(t, sold.IsClosed)
	require.NotNil(t, sold.RealizedPnL)
	assert.InDelta(t, 0.30, *sold.RealizedPnL, 1e-6)

	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.30, u.Performance.TotalProfit, 1e-6)
	assert.Equal(t, 100.0, u.Performance.WinPercentage)
	assert.Equal(t, 2, u.Performance.TradesCount)
	assert.NotNil(t, u.PerformanceUpdatedAt)
}

func TestSubmitPublishesEventsAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := f.submit(t, buyReq("u1", "NVDA", 2, 400))

	trades := f.bus.on(domain.ChannelTrades)
	require.Len(t, trades, 1)
	assert.Equal(t, "trade_executed", trades[0]["event"])
	assert.Equal(t, "u1", trades[0]["user_id"])
	assert.Equal(t, tr.ID, trades[0]["trade_id"])

	positions := f.bus.on(domain.ChannelPositions)
	require.Len(t, positions, 1)
	assert.Equal(t, "position_opened", positions[0]["event"])

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "trade_executed", entries[0].Event)
}

func TestPerformanceIncrementalMatchesScratch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []domain.TradeRequest{
		buyReq("u1", "AAPL", 10, 100),
		buyReq("u1", "MSFT", 4, 250),
		sellReq("u1", "AAPL", 4, 110),
		buyReq("u1", "AAPL", 6, 90),
		sellReq("u1", "MSFT", 4, 240),
		sellReq("u1", "AAPL", 12, 95),
	}
	for _, s := range steps {
		f.submit(t, s)

		cached, err := f.perfSvc.Compute(ctx, "u1")
		require.NoError(t, err)
		history, err := f.trades.History(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, performance.Compute(history), cached)
	}

	fresh, err := f.perfSvc.Recompute(ctx, "u1")
	require.NoError(t, err)
	cached, err := f.perfSvc.Compute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh, cached)
	assert.Equal(t, 6, fresh.TradesCount)
	assert.Equal(t, 3, fresh.CompletedTrades)
}

func TestEvaluateAutoClosesAndMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stopped := f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100, StopLoss: ptr(90)})
	target := f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: "TSLA", Action: domain.ActionBuy, Quantity: 2, Price: 200, TakeProfit: ptr(250)})
	held := f.submit(t, buyReq("u1", "MSFT", 5, 300))

	f.prices.set("AAPL", 85)
	f.prices.set("TSLA", 260)
	f.prices.set("MSFT", 310)

	open, err := f.monitor.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, *held.PositionID, open[0].ID)
	require.NotNil(t, open[0].CurrentPrice)
	assert.Equal(t, 310.0, *open[0].CurrentPrice)
	assert.Equal(t, 50.0, *open[0].UnrealizedPnL)

	closed, err := f.positions.GetByID(ctx, *stopped.PositionID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen)
	assert.Equal(t, domain.CloseReasonStopLoss, closed.AutoCloseReason)
	assert.Equal(t, -150.0, closed.RealizedPnL)

	tp, err := f.positions.GetByID(ctx, *target.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTakeProfit, tp.AutoCloseReason)

	trades, err := f.trades.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	notes := map[string]string{}
	for _, tr := range trades {
		if tr.Action == domain.ActionSell {
			notes[tr.Symbol] = tr.Notes
		}
	}
	assert.Equal(t, "Auto-closed by stop loss at $85.00", notes["AAPL"])
	assert.Equal(t, "Auto-closed by take profit at $260.00", notes["TSLA"])

	alerts := f.alerts.all()
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, notify.EventAutoClose, a.event)
	}

	u, err := f.users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Performance.CompletedTrades)
	assert.Equal(t, 1, u.Performance.WinningTrades)

	// A second pass finds nothing new to close.
	again, err := f.monitor.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, again, 1)
	assert.Len(t, f.alerts.all(), 2)
}

func TestConcurrentEvaluateClosesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: "AMD", Action: domain.ActionBuy, Quantity: 3, Price: 100, StopLoss: ptr(95)})
	f.prices.set("AMD", 90)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			open, err := f.monitor.Evaluate(ctx, "u1")
			assert.NoError(t, err)
			assert.Empty(t, open)
		}()
	}
	wg.Wait()

	history, err := f.trades.History(ctx, "u1")
	require.NoError(t, err)
	sells := 0
	for _, tr := range history {
		if tr.Action == domain.ActionSell {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
}

func TestMarkUsesCurrentQuantityAfterConcurrentSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, buyReq("u1", "AAPL", 100, 10))
	open, err := f.positions.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	snapshot := open[0]

	f.submit(t, sellReq("u1", "AAPL", 50, 12))

	marked, err := f.ledger.Mark(ctx, snapshot, 20)
	require.NoError(t, err)
	assert.True(t, marked.IsOpen)
	assert.Equal(t, int64(50), marked.Quantity)
	require.NotNil(t, marked.UnrealizedPnL)
	assert.Equal(t, 500.0, *marked.UnrealizedPnL)

	stored, err := f.positions.GetByID(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stored.Quantity)
	require.NotNil(t, stored.UnrealizedPnL)
	assert.Equal(t, 500.0, *stored.UnrealizedPnL)
}

func TestMarkAfterPositionClosedReturnsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, buyReq("u1", "AAPL", 10, 10))
	open, err := f.positions.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)

	f.submit(t, sellReq("u1", "AAPL", 10, 12))

	marked, err := f.ledger.Mark(ctx, open[0], 20)
	require.NoError(t, err)
	assert.False(t, marked.IsOpen)
	require.NotNil(t, marked.CurrentPrice)
	assert.Equal(t, 12.0, *marked.CurrentPrice)
	assert.Equal(t, 0.0, *marked.UnrealizedPnL)
}

func TestEvaluateRechecksMovedStopLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100, StopLoss: ptr(90)})
	open, err := f.positions.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	snapshot := open[0]

	// The second buy lowers the stop below the market price.
	f.submit(t, domain.TradeRequest{UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100, StopLoss: ptr(80)})
	f.prices.set("AAPL", 85)

	pos := f.monitor.evaluate(ctx, snapshot)
	assert.True(t, pos.IsOpen)
	assert.Equal(t, int64(20), pos.Quantity)
	require.NotNil(t, pos.UnrealizedPnL)
	assert.Equal(t, -300.0, *pos.UnrealizedPnL)

	history, err := f.trades.History(ctx, "u1")
	require.NoError(t, err)
	for _, tr := range history {
		assert.Equal(t, domain.ActionBuy, tr.Action)
	}
	assert.Empty(t, f.alerts.all())
}

func TestPositionActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.submit(t, buyReq("u1", "AAPL", 10, 100))
	id := *opened.PositionID
	f.prices.set("AAPL", 120)

	res, err := f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: domain.PositionBuyMore, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, "Added 10 shares at $120.00", res.Message)
	require.NotNil(t, res.Position)
	assert.Equal(t, 110.0, res.Position.AvgPrice)
	assert.Equal(t, "Added to existing position", res.Trade.Notes)

	res, err = f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: domain.PositionSellPartial, Quantity: 5, Price: ptr(130)})
	require.NoError(t, err)
	assert.False(t, res.Closed)
	require.NotNil(t, res.ProfitLoss)
	assert.Equal(t, 100.0, *res.ProfitLoss)
	assert.Equal(t, "Partial position close", res.Trade.Notes)

	_, err = f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: domain.PositionSellPartial, Quantity: 50})
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	_, err = f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: "HOLD"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.posSvc.Action(ctx, "u2", id, ActionRequest{Action: domain.PositionSellAll})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err = f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: domain.PositionSellAll})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, "Full position close", res.Trade.Notes)
	require.NotNil(t, res.Position)
	assert.False(t, res.Position.IsOpen)
	assert.Equal(t, domain.CloseReasonManual, res.Position.AutoCloseReason)

	_, err = f.posSvc.Action(ctx, "u1", id, ActionRequest{Action: domain.PositionBuyMore, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionCloseAtMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.submit(t, buyReq("u1", "ETSY", 4, 50))
	f.prices.set("ETSY", 55.5)

	_, err := f.posSvc.Close(ctx, "u2", *opened.PositionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.posSvc.Close(ctx, "u1", *opened.PositionID)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	require.NotNil(t, res.Trade)
	assert.Equal(t, "Manual close at $55.50", res.Trade.Notes)
	require.NotNil(t, res.ProfitLoss)
	assert.Equal(t, 22.0, *res.ProfitLoss)

	again, err := f.posSvc.Close(ctx, "u1", *opened.PositionID)
	require.NoError(t, err)
	assert.False(t, again.Closed)
	assert.Nil(t, again.Trade)

	history, err := f.posSvc.History(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "22.00", history[0].RealizedPnLDisplay)

	alerts := f.alerts.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.EventManualClose, alerts[0].event)
}

func TestListOpenReturnsViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, buyReq("u1", "PENNY", 1000, 0.0025))
	f.prices.set("PENNY", 0.0028)

	views, err := f.posSvc.ListOpen(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "0.0025", v.AvgPriceDisplay)
	assert.Equal(t, "0.0028", v.CurrentPriceDisplay)
	assert.Equal(t, "0.3", v.UnrealizedPnLDisplay)
	assert.Equal(t, "2.80", v.MarketValueDisplay)
	assert.Equal(t, "12.00", v.PnLPercentDisplay)

	got, err := f.posSvc.Get(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.CurrentPriceDisplay, got.CurrentPriceDisplay)

	_, err = f.posSvc.Get(ctx, "u2", v.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type quoteFunc func(ctx context.Context, symbol string) oracle.Quote

func (f quoteFunc) Quote(ctx context.Context, symbol string) oracle.Quote { return f(ctx, symbol) }

func TestPriceServiceQuote(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	svc := NewPriceService(quoteFunc(func(_ context.Context, symbol string) oracle.Quote {
		return oracle.Quote{Symbol: symbol, Price: 0.00005, Source: oracle.SourceMock, At: at}
	}))

	q, err := svc.Quote(context.Background(), "btcx")
	require.NoError(t, err)
	assert.Equal(t, "BTCX", q.Symbol)
	assert.Equal(t, "0.00005", q.PriceDisplay)
	assert.Equal(t, oracle.SourceMock, q.Source)
	assert.Equal(t, at, q.Timestamp)

	_, err = svc.Quote(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
