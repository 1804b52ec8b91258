package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks orchestrator performance.
type SystemMetrics struct {
	// Latency histograms
	CycleLatency    *LatencyHistogram
	StrategyLatency *LatencyHistogram
	BrokerLatency   *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	cycles     atomic.Uint64
	signals    atomic.Uint64
	orders     atomic.Uint64
	rejections atomic.Uint64
	closures   atomic.Uint64
	errors     atomic.Uint64
	apiCalls   atomic.Uint64
	apiErrors  atomic.Uint64

	started time.Time
}

// LatencyHistogram tracks latency samples over a sliding window and
// computes stats lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	next        int
	full        bool
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:    NewLatencyHistogram(1000),
		StrategyLatency: NewLatencyHistogram(1000),
		BrokerLatency:   NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		started:         time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size), dirty: true}
}

// Record adds a latency sample in milliseconds, overwriting the oldest
// once the window is full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = latencyMs
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncCycles()     { m.cycles.Add(1) }
func (m *SystemMetrics) IncSignals()    { m.signals.Add(1) }
func (m *SystemMetrics) IncOrders()     { m.orders.Add(1) }
func (m *SystemMetrics) IncRejections() { m.rejections.Add(1) }
func (m *SystemMetrics) IncClosures()   { m.closures.Add(1) }
func (m *SystemMetrics) IncErrors()     { m.errors.Add(1) }
func (m *SystemMetrics) IncAPI()        { m.apiCalls.Add(1) }
func (m *SystemMetrics) IncAPIErrors()  { m.apiErrors.Add(1) }

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	CycleLatency    LatencyStats `json:"cycle_latency"`
	StrategyLatency LatencyStats `json:"strategy_latency"`
	BrokerLatency   LatencyStats `json:"broker_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	Cycles          uint64       `json:"cycles"`
	Signals         uint64       `json:"signals"`
	Orders          uint64       `json:"orders"`
	Rejections      uint64       `json:"rejections"`
	Closures        uint64       `json:"closures"`
	Errors          uint64       `json:"errors"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	Uptime          string       `json:"uptime"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Snapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		CycleLatency:    m.CycleLatency.Stats(),
		StrategyLatency: m.StrategyLatency.Stats(),
		BrokerLatency:   m.BrokerLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		Cycles:          m.cycles.Load(),
		Signals:         m.signals.Load(),
		Orders:          m.orders.Load(),
		Rejections:      m.rejections.Load(),
		Closures:        m.closures.Load(),
		Errors:          m.errors.Load(),
		APIRequests:     m.apiCalls.Load(),
		APIErrors:       m.apiErrors.Load(),
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
