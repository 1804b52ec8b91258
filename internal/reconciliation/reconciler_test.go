package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

type fakeBridge struct {
	mu        sync.Mutex
	open      []broker.Position
	openErr   error
	deals     map[broker.Ticket]*broker.Deal
	tick      market.Tick
	tickErr   error
	listCalls int
}

func (f *fakeBridge) OpenPositions(context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.open, f.openErr
}

func (f *fakeBridge) Deal(_ context.Context, t broker.Ticket) (*broker.Deal, error) {
	if d, ok := f.deals[t]; ok {
		return d, nil
	}
	return nil, broker.ErrNotFound
}

func (f *fakeBridge) Tick(context.Context, string) (market.Tick, error) {
	return f.tick, f.tickErr
}

type fakeStore struct {
	mu       sync.Mutex
	closed   map[string]db.TradeClose
	perf     map[string]decimal.Decimal
	closeErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{closed: map[string]db.TradeClose{}, perf: map[string]decimal.Decimal{}, closeErr: map[string]error{}}
}

func (s *fakeStore) CloseTrade(_ context.Context, id string, c db.TradeClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeErr[id]; err != nil {
		return err
	}
	s.closed[id] = c
	return nil
}

func (s *fakeStore) UpdateStrategyPerformance(_ context.Context, code, symbol string, net decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf[symbol+"_"+code] = s.perf[symbol+"_"+code].Add(net)
	return nil
}

type fakeRisk struct {
	mu   sync.Mutex
	nets []float64
}

func (r *fakeRisk) RecordClose(_ context.Context, net float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nets = append(r.nets, net)
	return nil
}

type fakeAnalytics struct {
	mu      sync.Mutex
	results []brain.TradeResult
	panicOn int64
}

func (a *fakeAnalytics) ProcessTradeResult(_ context.Context, r brain.TradeResult) error {
	if r.Ticket == a.panicOn {
		panic("analytics exploded")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func entry(ticket int64, dir market.Direction) position.Entry {
	return position.Entry{
		Ticket:     broker.Ticket(ticket),
		TradeID:    "trade-" + string(rune('a'+ticket%26)),
		Code:       strategy.MomentumScalperCode,
		Symbol:     "EURUSD",
		Direction:  dir,
		Lots:       0.1,
		EntryPrice: 1.08,
		OpenedAt:   time.Now(),
	}
}

func newReconciler(t *testing.T, bridge *fakeBridge) (*Reconciler, *position.Tracker, *fakeStore, *fakeRisk, *fakeAnalytics, *recordingBus) {
	t.Helper()
	tracker := position.NewTracker()
	store := newFakeStore()
	risk := &fakeRisk{}
	analytics := &fakeAnalytics{panicOn: -1}
	bus := &recordingBus{}
	r := New(Config{
		Tracker:   tracker,
		Bridge:    bridge,
		Store:     store,
		Risk:      risk,
		Analytics: analytics,
		Bus:       bus,
	}, zap.NewNop())
	return r, tracker, store, risk, analytics, bus
}

func TestReconcileWithNothingTrackedSkipsBroker(t *testing.T) {
	bridge := &fakeBridge{}
	r, _, _, _, _, _ := newReconciler(t, bridge)

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Empty(t, report.Closed)
	assert.Zero(t, bridge.listCalls)
}

func TestReconcileUsesDealRecord(t *testing.T) {
	bridge := &fakeBridge{
		open: []broker.Position{{Ticket: 2}},
		deals: map[broker.Ticket]*broker.Deal{
			1: {Ticket: 1, ExitPrice: 1.085, Profit: 50, Commission: 1.5, Swap: 0.5},
		},
	}
	r, tracker, store, risk, analytics, bus := newReconciler(t, bridge)
	tracker.Add(entry(1, market.Buy))
	tracker.Add(entry(2, market.Buy))

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Closed, 1)

	c := report.Closed[0]
	assert.Equal(t, broker.Ticket(1), c.Entry.Ticket)
	assert.False(t, c.Estimated)
	assert.Equal(t, "48", c.NetProfit.String())
	assert.True(t, c.Won)
	assert.Equal(t, 1, tracker.Len())

	closed, ok := store.closed[c.Entry.TradeID]
	require.True(t, ok)
	assert.Equal(t, 1.085, closed.ExitPrice)
	assert.Equal(t, "48", store.perf["EURUSD_D"].String())
	assert.Equal(t, []float64{48}, risk.nets)

	require.Len(t, analytics.results, 1)
	assert.Equal(t, "EURUSD_D", analytics.results[0].Strategy)
	assert.True(t, analytics.results[0].Closed)

	require.Len(t, bus.events, 1)
	assert.Equal(t, events.TradeClosed, bus.events[0].Type)
}

func TestReconcileEstimatesExitFromQuote(t *testing.T) {
	tests := []struct {
		name string
		dir  market.Direction
		want float64
	}{
		{"buy closes at bid", market.Buy, 1.0801},
		{"sell closes at ask", market.Sell, 1.0803},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{tick: market.Tick{Symbol: "EURUSD", Bid: 1.0801, Ask: 1.0803}}
			r, tracker, _, _, _, _ := newReconciler(t, bridge)
			tracker.Add(entry(7, tt.dir))

			report, err := r.Reconcile(context.Background())
			require.NoError(t, err)
			require.Len(t, report.Closed, 1)
			c := report.Closed[0]
			assert.True(t, c.Estimated)
			assert.Equal(t, tt.want, c.ExitPrice)
			assert.True(t, c.NetProfit.IsZero())
			assert.False(t, c.Won)
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	bridge := &fakeBridge{tick: market.Tick{Bid: 1, Ask: 1}}
	r, tracker, _, risk, _, _ := newReconciler(t, bridge)
	tracker.Add(entry(3, market.Sell))

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.Closed, 1)

	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Closed)
	assert.Len(t, risk.nets, 1)
}

func TestReconcileBrokerErrorKeepsTracking(t *testing.T) {
	bridge := &fakeBridge{openErr: errors.New("bridge down")}
	r, tracker, _, _, _, _ := newReconciler(t, bridge)
	tracker.Add(entry(4, market.Buy))

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, tracker.Len())
}

func TestReconcileIsolatesFailuresPerTicket(t *testing.T) {
	bridge := &fakeBridge{tick: market.Tick{Bid: 1.08, Ask: 1.0802}}
	r, tracker, store, risk, analytics, bus := newReconciler(t, bridge)
	a, b, c := entry(10, market.Buy), entry(11, market.Buy), entry(12, market.Sell)
	tracker.Add(a)
	tracker.Add(b)
	tracker.Add(c)
	store.closeErr[a.TradeID] = db.ErrTradeNotFound
	analytics.panicOn = 11

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Closed, 3)
	assert.Equal(t, 2, report.Failures)

	assert.NotContains(t, store.closed, a.TradeID)
	assert.Contains(t, store.closed, b.TradeID)
	assert.Contains(t, store.closed, c.TradeID)
	assert.Len(t, risk.nets, 3)
	assert.Len(t, analytics.results, 2)
	assert.Len(t, bus.events, 3)
	assert.Zero(t, tracker.Len())
}
