package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/notify"
)

// Submitter runs sink deliveries off the event loop.
type Submitter interface {
	Submit(name string, fn notify.Task) bool
}

// Monitor watches the bus and forwards events at or above MinSeverity to
// every sink.
type Monitor struct {
	Bus         *events.Bus
	Sinks       []AlertSink
	MinSeverity events.Severity
	Submitter   Submitter // nil delivers inline
	Metrics     *SystemMetrics
	Log         *zap.Logger
}

// Start runs the monitor until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || len(m.Sinks) == 0 {
		m.Log.Info("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(128)
	go func() {
		defer unsub()
		m.run(ctx, stream)
	}()
}

func (m *Monitor) run(ctx context.Context, stream <-chan events.Event) {
	threshold := m.MinSeverity
	if threshold == "" {
		threshold = events.SeverityWarning
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			if e.Severity.Rank() < threshold.Rank() {
				continue
			}
			if m.Metrics != nil && e.Severity.Rank() >= events.SeverityError.Rank() {
				m.Metrics.IncErrors()
			}
			m.dispatch(toAlert(e))
		}
	}
}

func (m *Monitor) dispatch(a Alert) {
	for _, sink := range m.Sinks {
		sink := sink
		send := func(ctx context.Context) error { return sink.Send(ctx, a) }
		if m.Submitter != nil {
			m.Submitter.Submit("alert_"+sink.Name(), send)
			continue
		}
		if err := send(context.Background()); err != nil {
			m.Log.Warn("alert_sink_failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}

func toAlert(e events.Event) Alert {
	return Alert{
		Time:     e.Time,
		Type:     e.Type,
		Severity: e.Severity,
		Source:   e.Source,
		Message:  formatAlert(e),
		Data:     e.Data,
	}
}

// formatAlert renders "[SEVERITY] TYPE (source) k=v ..." with sorted keys.
func formatAlert(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s)", e.Severity, e.Type, e.Source)
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}
