package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/account"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/pkg/db"
)

// MetricsStore persists daily counters.
type MetricsStore interface {
	SaveRiskMetrics(ctx context.Context, m db.RiskMetrics) error
	GetRiskMetrics(ctx context.Context, date string) (*db.RiskMetrics, error)
}

// Deps are the collaborators a Manager reads from. Store may be nil.
type Deps struct {
	Account    broker.AccountInfo
	Positions  PositionLister
	Symbols    market.SymbolTable
	Store      MetricsStore
	KillSwitch *KillSwitch
}

// Manager gates candidate trades and sizes approved ones.
type Manager struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	metrics Metrics
}

// NewManager creates a risk manager. A nil KillSwitch gets a private one
// that cannot close positions.
func NewManager(cfg Config, deps Deps, log *zap.Logger) *Manager {
	if deps.Symbols == nil {
		deps.Symbols = market.DefaultSymbolTable()
	}
	if deps.KillSwitch == nil {
		deps.KillSwitch = NewKillSwitch(nil, nil, nil, log)
	}
	m := &Manager{cfg: cfg, deps: deps, log: log.Named("risk"), now: time.Now}
	m.metrics.Date = m.today()
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) KillSwitch() *KillSwitch { return m.deps.KillSwitch }

// Restore loads today's counters from storage.
func (m *Manager) Restore(ctx context.Context) error {
	if m.deps.Store == nil {
		return nil
	}
	saved, err := m.deps.Store.GetRiskMetrics(ctx, m.today())
	if err != nil {
		return fmt.Errorf("restore risk metrics: %w", err)
	}
	if saved == nil {
		return nil
	}
	m.mu.Lock()
	m.metrics.Date = saved.Date
	m.metrics.DailyTrades = saved.TradesToday
	m.metrics.DailyPnL = saved.RealizedPnL
	m.metrics.ConsecutiveLosses = saved.ConsecutiveLosses
	if saved.RealizedPnL < 0 {
		m.metrics.DailyLosses = -saved.RealizedPnL
	}
	m.mu.Unlock()
	if saved.KillSwitch {
		_, _ = m.deps.KillSwitch.Activate(ctx, "restored from previous session", false)
	}
	return nil
}

// PreTradeCheck validates a candidate trade against kill switch, drawdown,
// exposure and daily limits, and sizes it from the stop distance. An error
// means a collaborator could not be read; callers treat it as a rejection.
func (m *Manager) PreTradeCheck(ctx context.Context, symbol string, dir market.Direction, stopDistance float64) (CheckResult, error) {
	m.mu.Lock()
	m.rollDayLocked()
	m.metrics.ChecksTotal++
	m.metrics.LastCheck = m.now().UTC()
	metrics := m.metrics
	m.mu.Unlock()

	if ks := m.deps.KillSwitch.Status(); ks.Active {
		return m.reject(symbol, dir, fmt.Sprintf("kill switch active: %s", ks.Reason), 1), nil
	}
	if stopDistance <= 0 || math.IsNaN(stopDistance) {
		return m.reject(symbol, dir, fmt.Sprintf("invalid stop distance %.5f", stopDistance), 0), nil
	}

	balance, err := m.deps.Account.Balance(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("risk: balance: %w", err)
	}
	equity, err := m.deps.Account.Equity(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("risk: equity: %w", err)
	}
	dd := account.DrawdownPct(balance, equity)

	var open, perSymbol int
	if m.deps.Positions != nil {
		positions, err := m.deps.Positions.OpenPositions(ctx)
		if err != nil {
			return CheckResult{}, fmt.Errorf("risk: positions: %w", err)
		}
		open = len(positions)
		for _, p := range positions {
			if p.Symbol == symbol {
				perSymbol++
			}
		}
	}

	score := clamp01(maxFloat(
		ratio(dd, m.cfg.MaxDrawdownPct),
		ratio(float64(open), float64(m.cfg.MaxOpenPositions)),
		ratio(float64(perSymbol), float64(m.cfg.MaxPositionsPerSymbol)),
		ratio(float64(metrics.DailyTrades), float64(m.cfg.MaxDailyTrades)),
		ratio(metrics.DailyLosses, m.cfg.MaxDailyLoss),
	))

	if m.cfg.Enabled {
		if m.cfg.MaxDrawdownPct > 0 && dd >= m.cfg.MaxDrawdownPct {
			reason := fmt.Sprintf("drawdown %.2f%% >= %.2f%%", dd, m.cfg.MaxDrawdownPct)
			_, _ = m.deps.KillSwitch.Activate(ctx, reason, false)
			return m.reject(symbol, dir, reason, score), nil
		}
		if m.cfg.MaxDailyLoss > 0 && metrics.DailyLosses >= m.cfg.MaxDailyLoss {
			return m.reject(symbol, dir, fmt.Sprintf("daily loss limit exceeded: %.2f/%.2f", metrics.DailyLosses, m.cfg.MaxDailyLoss), score), nil
		}
		if m.cfg.MaxDailyTrades > 0 && metrics.DailyTrades >= m.cfg.MaxDailyTrades {
			return m.reject(symbol, dir, fmt.Sprintf("daily trade limit reached: %d/%d", metrics.DailyTrades, m.cfg.MaxDailyTrades), score), nil
		}
		if m.cfg.MaxOpenPositions > 0 && open >= m.cfg.MaxOpenPositions {
			return m.reject(symbol, dir, fmt.Sprintf("max open positions reached: %d/%d", open, m.cfg.MaxOpenPositions), score), nil
		}
		if m.cfg.MaxPositionsPerSymbol > 0 && perSymbol >= m.cfg.MaxPositionsPerSymbol {
			return m.reject(symbol, dir, fmt.Sprintf("max positions for %s reached: %d/%d", symbol, perSymbol, m.cfg.MaxPositionsPerSymbol), score), nil
		}
	}

	size := m.size(symbol, equity, stopDistance)
	level := LevelNormal
	switch {
	case m.cfg.CautionThreshold > 0 && score >= m.cfg.CautionThreshold:
		level = LevelCaution
		if m.cfg.CautionSizeRatio > 0 {
			size = m.roundLots(size * m.cfg.CautionSizeRatio)
		}
	case m.cfg.WarningThreshold > 0 && score >= m.cfg.WarningThreshold:
		level = LevelWarning
	}

	m.log.Debug("risk_approved",
		zap.String("symbol", symbol),
		zap.String("direction", string(dir)),
		zap.Float64("stop_distance", stopDistance),
		zap.Float64("lots", size),
		zap.Float64("risk_score", score),
		zap.String("limit_level", level))
	return CheckResult{Approved: true, Reason: "approved", PositionSize: size, RiskScore: score, LimitLevel: level}, nil
}

// size risks RiskPerTradePct of equity over the stop distance.
func (m *Manager) size(symbol string, equity, stopDistance float64) float64 {
	contract := m.deps.Symbols.Lookup(symbol).ContractSize
	if contract <= 0 {
		contract = 100000
	}
	if equity <= 0 {
		return m.cfg.MinLots
	}
	raw := equity * m.cfg.RiskPerTradePct / 100 / (stopDistance * contract)
	return m.roundLots(raw)
}

// roundLots floors to the lot step and clamps to [MinLots, MaxLots].
func (m *Manager) roundLots(lots float64) float64 {
	step := m.cfg.LotStep
	if step <= 0 {
		step = 0.01
	}
	lots = math.Floor(lots/step+1e-9) * step
	lots = math.Round(lots*1e8) / 1e8
	if lots < m.cfg.MinLots {
		lots = m.cfg.MinLots
	}
	if m.cfg.MaxLots > 0 && lots > m.cfg.MaxLots {
		lots = m.cfg.MaxLots
	}
	return lots
}

func (m *Manager) reject(symbol string, dir market.Direction, reason string, score float64) CheckResult {
	m.mu.Lock()
	m.metrics.RejectionsTotal++
	m.mu.Unlock()
	m.log.Info("risk_rejected", zap.String("symbol", symbol), zap.String("direction", string(dir)), zap.String("reason", reason))
	return CheckResult{Approved: false, Reason: reason, RiskScore: score, LimitLevel: LevelLimit}
}

// RecordTrade counts an opened trade against the daily limit.
func (m *Manager) RecordTrade(ctx context.Context) error {
	m.mu.Lock()
	m.rollDayLocked()
	m.metrics.DailyTrades++
	snap := m.metrics
	m.mu.Unlock()
	return m.persist(ctx, snap)
}

// RecordClose folds a realised net result into the daily and running totals.
func (m *Manager) RecordClose(ctx context.Context, net float64) error {
	m.mu.Lock()
	m.rollDayLocked()
	m.metrics.DailyPnL += net
	if net < 0 {
		m.metrics.DailyLosses += -net
	}
	if net > 0 {
		m.metrics.ConsecutiveLosses = 0
	} else {
		m.metrics.ConsecutiveLosses++
	}
	m.metrics.TotalRealizedPnL += net
	if m.metrics.TotalRealizedPnL > m.metrics.MaxProfit {
		m.metrics.MaxProfit = m.metrics.TotalRealizedPnL
	}
	if dd := m.metrics.MaxProfit - m.metrics.TotalRealizedPnL; dd > m.metrics.MaxDrawdown {
		m.metrics.MaxDrawdown = dd
	}
	snap := m.metrics
	m.mu.Unlock()
	return m.persist(ctx, snap)
}

// Metrics returns a copy of the current counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.metrics
}

func (m *Manager) persist(ctx context.Context, snap Metrics) error {
	if m.deps.Store == nil {
		return nil
	}
	return m.deps.Store.SaveRiskMetrics(ctx, db.RiskMetrics{
		Date:              snap.Date,
		TradesToday:       snap.DailyTrades,
		RealizedPnL:       snap.DailyPnL,
		ConsecutiveLosses: snap.ConsecutiveLosses,
		KillSwitch:        m.deps.KillSwitch.Active(),
		UpdatedAt:         m.now(),
	})
}

// rollDayLocked resets daily counters when the UTC date changes.
func (m *Manager) rollDayLocked() {
	today := m.today()
	if m.metrics.Date == today {
		return
	}
	m.log.Info("risk_daily_reset",
		zap.String("previous_date", m.metrics.Date),
		zap.Float64("daily_pnl", m.metrics.DailyPnL),
		zap.Int("daily_trades", m.metrics.DailyTrades))
	m.metrics.Date = today
	m.metrics.DailyTrades = 0
	m.metrics.DailyPnL = 0
	m.metrics.DailyLosses = 0
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

func ratio(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return v / limit
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func maxFloat(vs ...float64) float64 {
	out := math.Inf(-1)
	for _, v := range vs {
		if v > out {
			out = v
		}
	}
	return out
}
