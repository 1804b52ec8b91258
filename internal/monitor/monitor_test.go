package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/notify"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Alert
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestMonitorForwardsWarningsAndAbove(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	metrics := NewSystemMetrics()
	m := &Monitor{Bus: bus, Sinks: []AlertSink{sink}, Metrics: metrics, Log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.New(events.CycleCompleted, "engine", events.SeverityInfo, nil))
	bus.Publish(events.New(events.TradeRejected, "engine", events.SeverityWarning, map[string]any{"reason": "limit", "symbol": "EURUSD"}))
	bus.Publish(events.New(events.SystemError, "engine", events.SeverityError, map[string]any{"error": "boom"}))

	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, "[WARNING] TRADE_REJECTED (engine) reason=limit symbol=EURUSD", sink.got[0].Message)
	assert.Equal(t, events.SystemError, sink.got[1].Type)
	sink.mu.Unlock()
	assert.Equal(t, uint64(1), metrics.Snapshot().Errors)
}

func TestMonitorUsesSubmitter(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	d := notify.NewDispatcher(1, 8, time.Second, zap.NewNop())
	m := &Monitor{Bus: bus, Sinks: []AlertSink{sink}, Submitter: d, MinSeverity: events.SeverityCritical, Log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.New(events.SystemError, "engine", events.SeverityError, nil))
	bus.Publish(events.New(events.KillSwitchTriggered, "risk", events.SeverityCritical, nil))
	require.Eventually(t, func() bool { return d.Stats().Completed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.len())
	d.Close()
}

func TestWebhookSink(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	require.NoError(t, sink.Send(context.Background(), Alert{Type: events.KillSwitchTriggered, Message: "halt"}))
	assert.Equal(t, "halt", got.Message)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	assert.ErrorContains(t, NewWebhookSink(bad.URL, time.Second).Send(context.Background(), Alert{}), "status 502")
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(4)
	assert.Zero(t, h.Stats().Count)
	for _, v := range []float64{10, 20, 30, 40, 50, 60} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 30.0, st.Min)
	assert.Equal(t, 60.0, st.Max)
	assert.Equal(t, 45.0, st.Avg)

	h.RecordDuration(5 * time.Millisecond)
	assert.Equal(t, 5.0, h.Stats().Min)
}
