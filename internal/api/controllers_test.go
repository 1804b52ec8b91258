package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/engine"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/monitor"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

type fakeEngine struct {
	mu      sync.Mutex
	latest  *engine.CycleSummary
	known   map[strategy.BindingKey]bool
	changed []string
}

func (f *fakeEngine) State() engine.State { return engine.StateRunning }

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{State: engine.StateRunning, DryRun: true, Symbols: []string{"EURUSD"}, Bindings: len(f.known), Version: "test"}
}

func (f *fakeEngine) LatestCycle() (*engine.CycleSummary, bool) {
	return f.latest, f.latest != nil
}

func (f *fakeEngine) Bindings() []engine.BindingInfo {
	var out []engine.BindingInfo
	for k, active := range f.known {
		out = append(out, engine.BindingInfo{Key: k.String(), Symbol: k.Symbol, Code: string(k.Code), Active: active})
	}
	return out
}

func (f *fakeEngine) SetBindingActive(_ context.Context, key strategy.BindingKey, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.known[key]; !ok {
		return fmt.Errorf("%s: %w", key, engine.ErrUnknownBinding)
	}
	f.known[key] = active
	f.changed = append(f.changed, fmt.Sprintf("%s=%t", key, active))
	return nil
}

func (f *fakeEngine) OpenTrades() []position.Entry {
	return []position.Entry{{Ticket: 7, TradeID: "t-7", Code: strategy.TrendFollowingCode, Symbol: "EURUSD", Direction: market.Buy, Lots: 0.1}}
}

type fakeStore struct {
	lastLimit int
	err       error
}

func (f *fakeStore) GetStrategyPerformance(context.Context) ([]db.StrategyPerformance, error) {
	return []db.StrategyPerformance{{StrategyCode: "A", Symbol: "EURUSD", Trades: 4, Wins: 3, Losses: 1}}, f.err
}

func (f *fakeStore) ListRecentTrades(_ context.Context, limit int) ([]db.Trade, error) {
	f.lastLimit = limit
	return []db.Trade{}, f.err
}

func (f *fakeStore) ListAccountSnapshots(_ context.Context, limit int) ([]db.AccountSnapshot, error) {
	f.lastLimit = limit
	return []db.AccountSnapshot{}, f.err
}

type fakeKillSwitch struct {
	active bool
	reason string
	closed int
	err    error
}

func (k *fakeKillSwitch) Activate(_ context.Context, reason string, _ bool) (int, error) {
	k.active, k.reason = true, reason
	return k.closed, k.err
}

func (k *fakeKillSwitch) Reset(string) bool {
	was := k.active
	k.active, k.reason = false, ""
	return was
}

func (k *fakeKillSwitch) Status() risk.KillSwitchStatus {
	return risk.KillSwitchStatus{Active: k.active, Reason: k.reason}
}

type fakeMarket struct{}

func (fakeMarket) Tick(_ context.Context, symbol string) (market.Tick, error) {
	if symbol != "EURUSD" {
		return market.Tick{}, errors.New("symbol not found")
	}
	return market.Tick{Symbol: symbol, Bid: 1.1, Ask: 1.1002}, nil
}

func (fakeMarket) OpenPositions(context.Context) ([]broker.Position, error) {
	return []broker.Position{{Ticket: 7, Symbol: "EURUSD"}}, nil
}

type staticTicks map[string]market.Tick

func (t staticTicks) GetWithAge(symbol string) (market.Tick, time.Duration, bool) {
	tick, ok := t[symbol]
	return tick, time.Second, ok
}

type testServer struct {
	server  *Server
	url     string
	engine  *fakeEngine
	store   *fakeStore
	kill    *fakeKillSwitch
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

func newTestAPIServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		engine: &fakeEngine{known: map[strategy.BindingKey]bool{
			{Symbol: "EURUSD", Code: strategy.TrendFollowingCode}: true,
		}},
		store:   &fakeStore{},
		kill:    &fakeKillSwitch{},
		bus:     events.NewBus(),
		metrics: monitor.NewSystemMetrics(),
	}
	server := NewServer(Options{
		Engine:     ts.engine,
		Bus:        ts.bus,
		Store:      ts.store,
		Analytics:  brain.New(zap.NewNop()),
		KillSwitch: ts.kill,
		Market:     fakeMarket{},
		Ticks:      staticTicks{"GBPUSD": {Symbol: "GBPUSD", Bid: 1.27, Ask: 1.2702}},
		Metrics:    ts.metrics,
	}, zap.NewNop())

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(httpServer.Close)
	ts.server = server
	ts.url = httpServer.URL
	return ts
}

func doJSONRequest(t *testing.T, method, url string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestAPIServer(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/health", nil, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, string(engine.StateRunning), health["state"])

	var status engine.Status
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/status", nil, &status))
	assert.True(t, status.DryRun)
	assert.Equal(t, []string{"EURUSD"}, status.Symbols)
}

func TestLatestCycle(t *testing.T) {
	ts := newTestAPIServer(t)

	var errBody map[string]string
	require.Equal(t, http.StatusNotFound, doJSONRequest(t, http.MethodGet, ts.url+"/api/cycles/latest", nil, &errBody))
	assert.Equal(t, "NO_CYCLE", errBody["code"])

	ts.engine.latest = &engine.CycleSummary{Cycle: 3, Signals: map[string]string{"EURUSD_A": engine.StatusNoSignal}}
	var summary engine.CycleSummary
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/cycles/latest", nil, &summary))
	assert.EqualValues(t, 3, summary.Cycle)
	assert.Equal(t, engine.StatusNoSignal, summary.Signals["EURUSD_A"])
}

func TestStrategyToggle(t *testing.T) {
	ts := newTestAPIServer(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"stop by letter", "/api/strategies/eurusd/A/stop", http.StatusOK},
		{"start by name", "/api/strategies/EURUSD/TrendFollowing/start", http.StatusOK},
		{"unknown binding", "/api/strategies/GBPUSD/A/start", http.StatusNotFound},
		{"bad code", "/api/strategies/EURUSD/Z/start", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, doJSONRequest(t, http.MethodPost, ts.url+tt.path, nil, nil))
		})
	}
	assert.Equal(t, []string{"EURUSD_A=false", "EURUSD_A=true"}, ts.engine.changed)

	var list struct {
		Strategies []engine.BindingInfo `json:"strategies"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/strategies", nil, &list))
	require.Len(t, list.Strategies, 1)
	assert.True(t, list.Strategies[0].Active)
}

func TestListLimits(t *testing.T) {
	ts := newTestAPIServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{"", defaultListLimit},
		{"?limit=5", 5},
		{"?limit=100000", maxListLimit},
	}
	for _, tt := range tests {
		require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/trades/recent"+tt.query, nil, nil))
		assert.Equal(t, tt.want, ts.store.lastLimit, tt.query)
	}
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, http.MethodGet, ts.url+"/api/trades/recent?limit=abc", nil, nil))
}

func TestStoreFailure(t *testing.T) {
	ts := newTestAPIServer(t)
	ts.store.err = errors.New("disk gone")

	var body map[string]string
	require.Equal(t, http.StatusInternalServerError, doJSONRequest(t, http.MethodGet, ts.url+"/api/performance", nil, &body))
	assert.Equal(t, "DB_ERROR", body["code"])
}

func TestPerformanceIncludesWinRate(t *testing.T) {
	ts := newTestAPIServer(t)

	var body struct {
		Strategies []struct {
			WinRate float64 `json:"win_rate"`
		} `json:"strategies"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/performance", nil, &body))
	require.Len(t, body.Strategies, 1)
	assert.InDelta(t, 75.0, body.Strategies[0].WinRate, 1e-9)
}

func TestMarketRoutes(t *testing.T) {
	ts := newTestAPIServer(t)

	var tick market.Tick
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/tick/eurusd", nil, &tick))
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.Equal(t, http.StatusBadGateway, doJSONRequest(t, http.MethodGet, ts.url+"/api/tick/XAUUSD", nil, nil))

	resp, err := http.Get(ts.url + "/api/tick/gbpusd")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", resp.Header.Get("X-Tick-Source"))

	var positions struct {
		Positions []broker.Position `json:"positions"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/positions", nil, &positions))
	assert.Len(t, positions.Positions, 1)

	var open struct {
		Trades []position.Entry `json:"trades"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/trades/open", nil, &open))
	require.Len(t, open.Trades, 1)
	assert.Equal(t, "t-7", open.Trades[0].TradeID)
}

func TestKillSwitchRoutes(t *testing.T) {
	ts := newTestAPIServer(t)

	assert.Equal(t, http.StatusConflict, doJSONRequest(t, http.MethodPost, ts.url+"/api/kill-switch/reset", nil, nil))
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, http.MethodPost, ts.url+"/api/kill-switch", map[string]any{}, nil))

	ts.kill.closed = 2
	var body struct {
		Status risk.KillSwitchStatus `json:"status"`
		Closed int                   `json:"closed"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodPost, ts.url+"/api/kill-switch",
		map[string]any{"reason": "manual halt", "close_all": true}, &body))
	assert.True(t, body.Status.Active)
	assert.Equal(t, "manual halt", body.Status.Reason)
	assert.Equal(t, 2, body.Closed)

	var status risk.KillSwitchStatus
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodPost, ts.url+"/api/kill-switch/reset",
		map[string]any{"note": "checked"}, &status))
	assert.False(t, status.Active)
}

func TestKillSwitchPartialClose(t *testing.T) {
	ts := newTestAPIServer(t)
	ts.kill.closed = 1
	ts.kill.err = errors.New("ticket 9: close refused")

	var body map[string]any
	require.Equal(t, http.StatusMultiStatus, doJSONRequest(t, http.MethodPost, ts.url+"/api/kill-switch",
		map[string]any{"reason": "drawdown"}, &body))
	assert.Contains(t, body["error"], "close refused")
}

func TestMissingCollaboratorsAnswerUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(Options{Engine: &fakeEngine{}}, zap.NewNop())
	httpServer := httptest.NewServer(server.Router)
	defer httpServer.Close()

	for _, path := range []string{"/api/trades/recent", "/api/performance", "/api/risk", "/api/kill-switch", "/api/brain/state", "/api/positions"} {
		assert.Equal(t, http.StatusServiceUnavailable, doJSONRequest(t, http.MethodGet, httpServer.URL+path, nil, nil), path)
	}
}

func TestBrainRoutes(t *testing.T) {
	ts := newTestAPIServer(t)

	var state brain.State
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/brain/state", nil, &state))
	var thoughts map[string]any
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/brain/thoughts?limit=10", nil, &thoughts))
	assert.Contains(t, thoughts, "thoughts")
}

func TestRequestIDAndMetrics(t *testing.T) {
	ts := newTestAPIServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.url+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.url + "/api/cycles/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Eventually(t, func() bool {
		snap := ts.metrics.Snapshot()
		return snap.APIRequests == 2 && snap.APIErrors == 1
	}, time.Second, 10*time.Millisecond)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "buckets are per address")
}

func TestWebsocketStreamsFilteredEvents(t *testing.T) {
	ts := newTestAPIServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws?types=trade_opened"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; keep publishing until
	// the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ts.bus.Publish(events.New(events.CycleCompleted, "test", events.SeverityInfo, nil))
				ts.bus.Publish(events.New(events.TradeOpened, "test", events.SeverityInfo, map[string]any{"ticket": 7}))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TradeOpened, ev.Type)
	assert.EqualValues(t, 7, ev.Data["ticket"])
}

func TestVersionAndTradingSymbols(t *testing.T) {
	ts := newTestAPIServer(t)

	var version map[string]any
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/version", nil, &version))
	assert.Equal(t, "test", version["version"])

	var out struct {
		Active    []string                       `json:"active_symbols"`
		Supported []string                       `json:"supported_symbols"`
		Symbols   map[string]market.SymbolConfig `json:"symbols"`
	}
	require.Equal(t, http.StatusOK, doJSONRequest(t, http.MethodGet, ts.url+"/api/settings/trading-symbols", nil, &out))
	assert.Equal(t, []string{"EURUSD"}, out.Active)
	assert.Equal(t, market.DefaultSymbolTable().Names(), out.Supported)
	require.Contains(t, out.Symbols, "EURUSD")
	assert.Equal(t, 0.02, out.Symbols["EURUSD"].LotSize)
}

func TestShutdownClosesWebsocketStreams(t *testing.T) {
	ts := newTestAPIServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ts.server.Shutdown(context.Background()))
	require.NoError(t, ts.server.Shutdown(context.Background()), "shutdown is idempotent")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
