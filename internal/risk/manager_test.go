package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/pkg/db"
)

type fakeAccount struct {
	balance, equity float64
	err             error
}

func (f *fakeAccount) Balance(ctx context.Context) (float64, error) { return f.balance, f.err }
func (f *fakeAccount) Equity(ctx context.Context) (float64, error)  { return f.equity, f.err }

type fakeBroker struct {
	mu        sync.Mutex
	positions []broker.Position
	failClose map[broker.Ticket]bool
	closed    []broker.Ticket
}

func (f *fakeBroker) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.Position(nil), f.positions...), nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, ticket broker.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClose[ticket] {
		return errors.New("market closed")
	}
	f.closed = append(f.closed, ticket)
	return nil
}

func positions(symbols ...string) []broker.Position {
	out := make([]broker.Position, len(symbols))
	for i, s := range symbols {
		out[i] = broker.Position{Ticket: broker.Ticket(i + 1), Symbol: s}
	}
	return out
}

type collector struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *collector) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, e)
}

func (c *collector) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Type
	for _, e := range c.got {
		out = append(out, e.Type)
	}
	return out
}

type memStore struct {
	saved map[string]db.RiskMetrics
}

func (s *memStore) SaveRiskMetrics(ctx context.Context, m db.RiskMetrics) error {
	s.saved[m.Date] = m
	return nil
}

func (s *memStore) GetRiskMetrics(ctx context.Context, date string) (*db.RiskMetrics, error) {
	m, ok := s.saved[date]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func newManager(cfg Config, acct *fakeAccount, brk *fakeBroker) *Manager {
	ks := NewKillSwitch(brk, brk, nil, zap.NewNop())
	return NewManager(cfg, Deps{Account: acct, Positions: brk, KillSwitch: ks}, zap.NewNop())
}

func TestPreTradeCheckSizing(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		stop     float64
		wantLots float64
	}{
		{"eurusd one percent", "EURUSD", 0.0030, 0.33},
		{"gold contract 100", "XAUUSD", 10, 0.10},
		{"clamped to max", "EURUSD", 0.0001, 1.0},
		{"clamped to min", "EURUSD", 5, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(DefaultConfig(), &fakeAccount{balance: 10000, equity: 10000}, &fakeBroker{})
			res, err := m.PreTradeCheck(context.Background(), tt.symbol, market.Buy, tt.stop)
			require.NoError(t, err)
			assert.True(t, res.Approved)
			assert.InDelta(t, tt.wantLots, res.PositionSize, 1e-9)
			assert.Equal(t, LevelNormal, res.LimitLevel)
			assert.Zero(t, res.RiskScore)
		})
	}
}

func TestPreTradeCheckRejections(t *testing.T) {
	ten := make([]string, 10)
	for i := range ten {
		ten[i] = fmt.Sprintf("SYM%d", i)
	}
	tests := []struct {
		name       string
		acct       *fakeAccount
		open       []broker.Position
		stop       float64
		wantReason string
	}{
		{"invalid stop", &fakeAccount{balance: 10000, equity: 10000}, nil, 0, "invalid stop distance"},
		{"drawdown", &fakeAccount{balance: 10000, equity: 8900}, nil, 0.003, "drawdown 11.00% >= 10.00%"},
		{"open positions", &fakeAccount{balance: 10000, equity: 10000}, positions(ten...), 0.003, "max open positions reached: 10/10"},
		{"per symbol", &fakeAccount{balance: 10000, equity: 10000}, positions("EURUSD", "EURUSD", "EURUSD"), 0.003, "max positions for EURUSD reached: 3/3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(DefaultConfig(), tt.acct, &fakeBroker{positions: tt.open})
			res, err := m.PreTradeCheck(context.Background(), "EURUSD", market.Sell, tt.stop)
			require.NoError(t, err)
			assert.False(t, res.Approved)
			assert.Contains(t, res.Reason, tt.wantReason)
			assert.Zero(t, res.PositionSize)
			assert.Equal(t, LevelLimit, res.LimitLevel)
			assert.Equal(t, uint64(1), m.Metrics().RejectionsTotal)
		})
	}
}

func TestDrawdownArmsKillSwitch(t *testing.T) {
	acct := &fakeAccount{balance: 10000, equity: 8900}
	m := newManager(DefaultConfig(), acct, &fakeBroker{})
	ctx := context.Background()

	_, err := m.PreTradeCheck(ctx, "EURUSD", market.Buy, 0.003)
	require.NoError(t, err)
	assert.True(t, m.KillSwitch().Active())

	acct.equity = 10000
	res, err := m.PreTradeCheck(ctx, "EURUSD", market.Buy, 0.003)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "kill switch active")

	assert.True(t, m.KillSwitch().Reset("operator"))
	res, err = m.PreTradeCheck(ctx, "EURUSD", market.Buy, 0.003)
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

func TestCautionShrinksSize(t *testing.T) {
	syms := make([]string, 9)
	for i := range syms {
		syms[i] = fmt.Sprintf("SYM%d", i)
	}
	m := newManager(DefaultConfig(), &fakeAccount{balance: 10000, equity: 10000}, &fakeBroker{positions: positions(syms...)})
	res, err := m.PreTradeCheck(context.Background(), "EURUSD", market.Buy, 0.003)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, LevelCaution, res.LimitLevel)
	assert.InDelta(t, 0.9, res.RiskScore, 1e-9)
	assert.InDelta(t, 0.16, res.PositionSize, 1e-9)
}

func TestDailyTradeLimitAndPersistence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 2
	store := &memStore{saved: map[string]db.RiskMetrics{}}
	m := NewManager(cfg, Deps{Account: &fakeAccount{balance: 10000, equity: 10000}, Store: store}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.RecordTrade(ctx))
	require.NoError(t, m.RecordTrade(ctx))
	res, err := m.PreTradeCheck(ctx, "EURUSD", market.Buy, 0.003)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "daily trade limit reached: 2/2", res.Reason)

	saved := store.saved[m.Metrics().Date]
	assert.Equal(t, 2, saved.TradesToday)

	restored := NewManager(cfg, Deps{Account: &fakeAccount{balance: 10000, equity: 10000}, Store: store}, zap.NewNop())
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 2, restored.Metrics().DailyTrades)
}

func TestDailyCountersRollOver(t *testing.T) {
	m := NewManager(DefaultConfig(), Deps{Account: &fakeAccount{}}, zap.NewNop())
	now := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.metrics.Date = m.today()
	ctx := context.Background()

	require.NoError(t, m.RecordTrade(ctx))
	require.NoError(t, m.RecordClose(ctx, -5))
	now = now.Add(2 * time.Minute)
	got := m.Metrics()
	assert.Equal(t, "2026-03-05", got.Date)
	assert.Zero(t, got.DailyTrades)
	assert.Zero(t, got.DailyLosses)
	assert.Equal(t, -5.0, got.TotalRealizedPnL)
}

func TestRecordCloseUsesNetResult(t *testing.T) {
	tests := []struct {
		name            string
		net             float64
		wantDailyLosses float64
		wantMaxDrawdown float64
		wantMaxProfit   float64
		wantConsecutive int
	}{
		{name: "profit", net: 120.5, wantMaxProfit: 120.5},
		{name: "loss", net: -42.75, wantDailyLosses: 42.75, wantMaxDrawdown: 42.75, wantConsecutive: 1},
		{name: "break even counts as loss streak", net: 0, wantConsecutive: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultConfig(), Deps{Account: &fakeAccount{}}, zap.NewNop())
			require.NoError(t, m.RecordClose(context.Background(), tt.net))
			got := m.Metrics()
			assert.Equal(t, tt.net, got.DailyPnL)
			assert.Equal(t, tt.net, got.TotalRealizedPnL)
			assert.Equal(t, tt.wantDailyLosses, got.DailyLosses)
			assert.Equal(t, tt.wantMaxDrawdown, got.MaxDrawdown)
			assert.Equal(t, tt.wantMaxProfit, got.MaxProfit)
			assert.Equal(t, tt.wantConsecutive, got.ConsecutiveLosses)
		})
	}
}

func TestAccountErrorPropagates(t *testing.T) {
	m := newManager(DefaultConfig(), &fakeAccount{err: errors.New("timeout")}, &fakeBroker{})
	_, err := m.PreTradeCheck(context.Background(), "EURUSD", market.Buy, 0.003)
	assert.ErrorContains(t, err, "timeout")
}

func TestKillSwitchCloseAll(t *testing.T) {
	brk := &fakeBroker{positions: positions("EURUSD", "XAUUSD", "GBPUSD"), failClose: map[broker.Ticket]bool{2: true}}
	bus := &collector{}
	ks := NewKillSwitch(brk, brk, bus, zap.NewNop())
	ctx := context.Background()

	closed, err := ks.Activate(ctx, "manual", true)
	assert.Equal(t, 2, closed)
	assert.ErrorContains(t, err, "ticket 2")
	assert.Equal(t, []broker.Ticket{1, 3}, brk.closed)

	st := ks.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "manual", st.Reason)
	require.NotNil(t, st.ActivatedAt)

	_, err = ks.Activate(ctx, "again", false)
	require.NoError(t, err)
	assert.Equal(t, "manual", ks.Status().Reason, "re-arming keeps the first reason")

	assert.True(t, ks.Reset("ok"))
	assert.False(t, ks.Reset("ok"))
	assert.Equal(t, []events.Type{events.KillSwitchTriggered, events.KillSwitchReset}, bus.types())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("risk:\n  max_drawdown_pct: 5\n  max_lots: 0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.MaxDrawdownPct)
	assert.Equal(t, 0.5, cfg.MaxLots)
	assert.Equal(t, DefaultConfig().MaxOpenPositions, cfg.MaxOpenPositions)

	cfg, err = ParseConfig([]byte("symbols: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = ParseConfig([]byte("risk:\n  lot_step: 0\n"))
	assert.Error(t, err)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}
