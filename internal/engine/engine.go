package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/account"
	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/monitor"
	"trading-orchestrator/internal/notify"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/reconciliation"
	"trading-orchestrator/internal/regime"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/internal/session"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

const eventSource = "engine.orchestrator"

// RiskGate approves and sizes candidate trades.
type RiskGate interface {
	PreTradeCheck(ctx context.Context, symbol string, dir market.Direction, stopDistance float64) (risk.CheckResult, error)
	RecordTrade(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Store is the trade storage the orchestrator writes to.
type Store interface {
	CreateTrade(ctx context.Context, t db.Trade) error
	ListOpenTrades(ctx context.Context) ([]db.Trade, error)
	UpsertBinding(ctx context.Context, b db.Binding) error
}

// Reconciler settles closures the broker performed on its own.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
}

// AccountSource produces the end-of-cycle account snapshot.
type AccountSource interface {
	Snapshot(ctx context.Context, openPositions int) (account.Snapshot, error)
}

// Analytics receives cycle summaries and trade results.
type Analytics interface {
	ProcessCycle(ctx context.Context, c brain.Cycle) error
	ProcessTradeResult(ctx context.Context, r brain.TradeResult) error
}

// Submitter queues best-effort notifications off the cycle path.
type Submitter interface {
	Submit(name string, fn notify.Task) bool
}

// TickSink receives every tick the cycle fetches.
type TickSink interface {
	Set(symbol string, tick market.Tick)
}

// Config holds orchestrator settings.
type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
	DryRun      bool
	// Symbols to trade; filtered against the broker at startup. Empty uses
	// the symbol table of Trading.
	Symbols []string
	Trading *strategy.ConfigFile
	Hours   session.Hours
	Version string
	// BuildRegistry creates the bindings for the resolved symbols. Nil
	// builds them from Trading.
	BuildRegistry func(symbols []string) (*strategy.Registry, error)
}

// Deps are the collaborators. Store, Reconciler, Account, Analytics,
// Notifier, Ticks and Metrics may be nil.
type Deps struct {
	Bridge     broker.Bridge
	Risk       RiskGate
	Store      Store
	Tracker    *position.Tracker
	Reconciler Reconciler
	Account    AccountSource
	Analytics  Analytics
	Notifier   Submitter
	Bus        events.Publisher
	Ticks      TickSink
	Metrics    *monitor.SystemMetrics
}

// Engine is the orchestrator. One goroutine runs the cycle loop; the
// accessors are safe from any goroutine.
type Engine struct {
	cfg      Config
	deps     Deps
	log      *zap.Logger
	detector *regime.Detector
	cursor   *CandleCursor
	now      func() time.Time

	mu          sync.RWMutex
	state       State
	symbols     []string
	registry    *strategy.Registry
	startedAt   time.Time
	latest      *CycleSummary
	lastStatus  map[string]string
	stopCh      chan struct{}
	loopDone    chan struct{}
	cycleNumber atomic.Int64
}

func New(cfg Config, deps Deps, log *zap.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Trading == nil {
		cfg.Trading = strategy.DefaultConfigFile()
	}
	if cfg.Hours == (session.Hours{}) {
		cfg.Hours = session.DefaultHours()
	}
	if cfg.BuildRegistry == nil {
		trading := cfg.Trading
		cfg.BuildRegistry = func(symbols []string) (*strategy.Registry, error) {
			return strategy.BuildRegistry(trading, symbols)
		}
	}
	if deps.Tracker == nil {
		deps.Tracker = position.NewTracker()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewSystemMetrics()
	}
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		log:        log.Named("engine"),
		detector:   regime.NewDetector(cfg.Trading.Regime.ADXThreshold),
		cursor:     NewCandleCursor(),
		now:        time.Now,
		state:      StateStopped,
		lastStatus: map[string]string{},
	}
}

// Start connects the bridge, resolves the traded symbols, registers the
// strategy bindings and restores open trades. A bridge connection failure
// is fatal and leaves the engine STOPPED.
func (e *Engine) Start(ctx context.Context) error {
	if !e.transition(StateStopped, StateStarting) {
		return fmt.Errorf("start from %s: %w", e.State(), ErrInvalidState)
	}
	e.log.Info("trading_engine_starting", zap.Bool("dry_run", e.cfg.DryRun))

	cctx, cancel := e.callCtx(ctx)
	err := e.deps.Bridge.Connect(cctx)
	cancel()
	if err != nil {
		e.setState(StateStopped)
		e.log.Error("trading_engine_startup_failed", zap.Error(err))
		return fmt.Errorf("connect bridge: %w", err)
	}
	e.log.Info("mt5_bridge_connected")

	symbols := e.resolveSymbols(ctx)
	e.publish(events.BridgeConnected, events.SeverityInfo, map[string]any{
		"dry_run": e.cfg.DryRun,
		"symbols": symbols,
	})

	registry, err := e.cfg.BuildRegistry(symbols)
	if err != nil {
		e.setState(StateStopped)
		e.disconnect(ctx)
		e.log.Error("strategy_registration_failed", zap.Error(err))
		return fmt.Errorf("register strategies: %w", err)
	}
	e.mu.Lock()
	e.symbols = symbols
	e.registry = registry
	e.mu.Unlock()
	e.log.Info("all_strategies_registered", zap.Int("total", registry.Len()), zap.Strings("symbols", symbols))

	e.syncCatalog(ctx, registry.All())
	e.restoreOpenTrades(ctx)
	if err := e.deps.Risk.Restore(ctx); err != nil {
		e.log.Warn("risk_metrics_restore_failed", zap.Error(err))
	}

	e.mu.Lock()
	e.startedAt = e.now().UTC()
	e.stopCh = make(chan struct{})
	e.loopDone = nil
	e.state = StateRunning
	e.mu.Unlock()

	e.publish(events.EngineStarted, events.SeverityInfo, map[string]any{
		"timestamp": e.startedAt.Format(time.RFC3339),
		"dry_run":   e.cfg.DryRun,
	})
	e.log.Info("trading_engine_started", zap.Int("strategies", registry.Len()))
	return nil
}

// Run drives cycles at the configured interval until ctx is cancelled or
// Stop is called. Both are observed only between cycles; a cycle in
// progress runs to completion.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning || e.loopDone != nil {
		e.mu.Unlock()
		return fmt.Errorf("run in %s: %w", e.state, ErrInvalidState)
	}
	done := make(chan struct{})
	e.loopDone = done
	stop := e.stopCh
	e.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}

		e.RunCycle(ctx)

		timer := time.NewTimer(e.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop ends the loop at its next cycle boundary, deactivates every binding,
// publishes ENGINE_STOPPED and releases the bridge. Failures are logged.
func (e *Engine) Stop(ctx context.Context) {
	if !e.transition(StateRunning, StateStopping) {
		return
	}
	e.log.Info("trading_engine_stopping")

	e.mu.Lock()
	close(e.stopCh)
	done := e.loopDone
	registry := e.registry
	startedAt := e.startedAt
	e.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			e.log.Warn("engine_loop_stop_timeout")
		}
	}

	if registry != nil {
		for _, b := range registry.All() {
			b.Stop()
			e.log.Debug("strategy_stopped", zap.String("strategy", b.Key.String()))
		}
	}

	uptime := e.now().Sub(startedAt).Seconds()
	e.publish(events.EngineStopped, events.SeverityInfo, map[string]any{
		"timestamp":      e.now().UTC().Format(time.RFC3339),
		"uptime_seconds": uptime,
	})
	e.disconnect(ctx)
	e.setState(StateStopped)
	e.log.Info("trading_engine_stopped", zap.Float64("uptime_seconds", uptime))
}

func (e *Engine) disconnect(ctx context.Context) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.deps.Bridge.Disconnect(cctx); err != nil {
		e.log.Error("trading_engine_shutdown_error", zap.Error(err))
		return
	}
	e.log.Info("mt5_bridge_disconnected")
}

// resolveSymbols keeps the configured symbols the broker offers. No match
// or a failed lookup keeps the configured list.
func (e *Engine) resolveSymbols(ctx context.Context) []string {
	configured := e.cfg.Symbols
	if len(configured) == 0 {
		configured = e.cfg.Trading.Symbols.Names()
	}
	cctx, cancel := e.callCtx(ctx)
	available, err := e.deps.Bridge.Symbols(cctx)
	cancel()
	if err != nil {
		e.log.Warn("symbol_resolution_failed", zap.Error(err), zap.Strings("fallback", configured))
		return configured
	}
	offered := make(map[string]struct{}, len(available))
	for _, s := range available {
		offered[s] = struct{}{}
	}
	var resolved []string
	for _, s := range configured {
		if _, ok := offered[s]; ok {
			resolved = append(resolved, s)
		}
	}
	if len(resolved) == 0 {
		e.log.Warn("no_trading_symbols_found_in_broker", zap.Int("available", len(available)))
		return configured
	}
	e.log.Info("trading_symbols_resolved", zap.Strings("symbols", resolved), zap.Int("available", len(available)))
	return resolved
}

// syncCatalog mirrors binding definitions into storage.
func (e *Engine) syncCatalog(ctx context.Context, bindings []*strategy.Binding) {
	if e.deps.Store == nil {
		return
	}
	for _, b := range bindings {
		if err := e.upsertBinding(ctx, b); err != nil {
			e.log.Warn("binding_catalog_sync_failed", zap.String("strategy", b.Key.String()), zap.Error(err))
		}
	}
}

func (e *Engine) upsertBinding(ctx context.Context, b *strategy.Binding) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.deps.Store.UpsertBinding(cctx, db.Binding{
		Key:          b.Key.String(),
		Symbol:       b.Key.Symbol,
		StrategyCode: string(b.Key.Code),
		StrategyName: b.Evaluator.Name(),
		Timeframe:    string(b.Timeframe),
		Lookback:     b.Lookback,
		Lots:         b.Lots,
		IsActive:     b.Active(),
		Params:       string(params),
	})
}

func (e *Engine) restoreOpenTrades(ctx context.Context) {
	if e.deps.Store == nil {
		return
	}
	cctx, cancel := e.callCtx(ctx)
	trades, err := e.deps.Store.ListOpenTrades(cctx)
	cancel()
	if err != nil {
		e.log.Warn("open_trades_restore_failed", zap.Error(err))
		return
	}
	n := e.deps.Tracker.Restore(trades)
	if n > 0 {
		e.log.Info("open_trades_restored", zap.Int("count", n))
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.now()
	st := Status{
		State:      e.state,
		DryRun:     e.cfg.DryRun,
		Symbols:    append([]string(nil), e.symbols...),
		OpenTrades: e.deps.Tracker.Len(),
		Cycles:     e.cycleNumber.Load(),
		Version:    e.cfg.Version,
		ServerTime: now.UTC(),
	}
	if e.registry != nil {
		st.Bindings = e.registry.Len()
	}
	if !e.startedAt.IsZero() {
		started := e.startedAt
		st.StartedAt = &started
		if e.state == StateRunning {
			st.UptimeSec = now.Sub(started).Seconds()
		}
	}
	if e.latest != nil {
		at := e.latest.FinishedAt
		st.LastCycleAt = &at
	}
	return st
}

// LatestCycle returns the most recent completed cycle summary.
func (e *Engine) LatestCycle() (*CycleSummary, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest, e.latest != nil
}

// Bindings lists the registered bindings with their last cycle outcome.
func (e *Engine) Bindings() []BindingInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.registry == nil {
		return nil
	}
	all := e.registry.All()
	out := make([]BindingInfo, 0, len(all))
	for _, b := range all {
		key := b.Key.String()
		out = append(out, BindingInfo{
			Key:        key,
			Symbol:     b.Key.Symbol,
			Code:       string(b.Key.Code),
			Name:       b.Evaluator.Name(),
			Timeframe:  b.Timeframe,
			Lookback:   b.Lookback,
			Lots:       b.Lots,
			Active:     b.Active(),
			Parameters: b.Params,
			LastStatus: e.lastStatus[key],
		})
	}
	return out
}

// SetBindingActive starts or stops one binding and mirrors the flag into the catalog.
func (e *Engine) SetBindingActive(ctx context.Context, key strategy.BindingKey, active bool) error {
	e.mu.RLock()
	registry := e.registry
	e.mu.RUnlock()
	if registry == nil {
		return fmt.Errorf("%s: %w", key, ErrUnknownBinding)
	}
	b, ok := registry.Get(key)
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownBinding)
	}
	if active {
		b.Start()
	} else {
		b.Stop()
	}
	e.log.Info("strategy_active_changed", zap.String("strategy", key.String()), zap.Bool("active", active))
	if e.deps.Store != nil {
		if err := e.upsertBinding(ctx, b); err != nil {
			e.log.Warn("binding_catalog_sync_failed", zap.String("strategy", key.String()), zap.Error(err))
		}
	}
	return nil
}

// OpenTrades lists the tracked open trades by ticket.
func (e *Engine) OpenTrades() []position.Entry {
	return e.deps.Tracker.Snapshot()
}

func (e *Engine) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

// publish never lets a bus failure escape into the cycle.
func (e *Engine) publish(t events.Type, sev events.Severity, data map[string]any) {
	if e.deps.Bus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event_publish_panic", zap.String("type", string(t)), zap.Any("panic", r))
		}
	}()
	e.deps.Bus.Publish(events.New(t, eventSource, sev, data))
}

// guard runs one isolated post-trade step.
func (e *Engine) guard(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("post_trade_step_panic", zap.String("step", step), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		e.log.Warn(step+"_failed", zap.Error(err))
	}
}

// notifyAnalytics hands fn to the notifier, or runs it inline with a
// timeout when none is wired.
func (e *Engine) notifyAnalytics(name string, fn notify.Task) {
	if e.deps.Analytics == nil {
		return
	}
	if e.deps.Notifier != nil {
		if !e.deps.Notifier.Submit(name, fn) {
			e.log.Warn("analytics_notify_dropped", zap.String("task", name))
		}
		return
	}
	e.guard(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
		defer cancel()
		return fn(ctx)
	})
}

var errNilOrder = errors.New("order manager returned no result")
