package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/broker"
	"trading-orchestrator/pkg/db"
)

// Recorder receives per-cycle snapshots for storage.
type Recorder interface {
	RecordSnapshot(s db.AccountSnapshot)
}

// Snapshot is a point-in-time view of the account.
type Snapshot struct {
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	OpenPositions int       `json:"open_positions"`
	Time          time.Time `json:"time"`
}

// DrawdownPct is the equity shortfall against balance in percent; 0 when
// balance is not positive.
func DrawdownPct(balance, equity float64) float64 {
	if balance <= 0 {
		return 0
	}
	return (balance - equity) * 100 / balance
}

// Manager caches balance and equity from the bridge for ttl.
type Manager struct {
	info     broker.AccountInfo
	recorder Recorder
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cache    Snapshot
	lastSync time.Time
}

// NewManager creates an account manager. recorder may be nil.
func NewManager(info broker.AccountInfo, ttl time.Duration, recorder Recorder, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Manager{
		info:     info,
		recorder: recorder,
		ttl:      ttl,
		log:      log.Named("account"),
		now:      time.Now,
	}
}

// Refresh fetches balance and equity from the bridge.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	bal, err := m.info.Balance(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("balance: %w", err)
	}
	eq, err := m.info.Equity(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("equity: %w", err)
	}

	now := m.now()
	m.mu.Lock()
	m.cache = Snapshot{
		Balance:       bal,
		Equity:        eq,
		DrawdownPct:   DrawdownPct(bal, eq),
		OpenPositions: m.cache.OpenPositions,
		Time:          now.UTC(),
	}
	m.lastSync = now
	s := m.cache
	m.mu.Unlock()
	return s, nil
}

// Snapshot refreshes the account, stamps the open position count and hands
// the result to the recorder.
func (m *Manager) Snapshot(ctx context.Context, openPositions int) (Snapshot, error) {
	s, err := m.Refresh(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s.OpenPositions = openPositions
	m.mu.Lock()
	m.cache.OpenPositions = openPositions
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordSnapshot(db.AccountSnapshot{
			Balance:       s.Balance,
			Equity:        s.Equity,
			DrawdownPct:   s.DrawdownPct,
			OpenPositions: openPositions,
			CreatedAt:     s.Time,
		})
	}
	m.log.Debug("account_snapshot",
		zap.Float64("balance", s.Balance),
		zap.Float64("equity", s.Equity),
		zap.Float64("drawdown_pct", s.DrawdownPct))
	return s, nil
}

// Balance returns the cached balance, refreshing when stale.
func (m *Manager) Balance(ctx context.Context) (float64, error) {
	s, err := m.fresh(ctx)
	return s.Balance, err
}

// Equity returns the cached equity, refreshing when stale.
func (m *Manager) Equity(ctx context.Context) (float64, error) {
	s, err := m.fresh(ctx)
	return s.Equity, err
}

// Last returns the most recent snapshot without contacting the bridge.
func (m *Manager) Last() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache, !m.lastSync.IsZero()
}

func (m *Manager) fresh(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	s, at := m.cache, m.lastSync
	m.mu.RUnlock()
	if !at.IsZero() && m.now().Sub(at) < m.ttl {
		return s, nil
	}
	return m.Refresh(ctx)
}
