package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/monitor"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/reconciliation"
	"trading-orchestrator/internal/regime"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/internal/session"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

const (
	indicatorTimeframe = market.H1
	indicatorCandles   = 200
)

// symbolData is one symbol's fetch result. Each fetch goroutine owns its
// slot; the serial phases read it after the join.
type symbolData struct {
	symbol   string
	tick     *market.Tick
	snapshot *indicators.Snapshot
	regime   regime.Regime
	series   map[market.Timeframe]market.Series
	newTF    map[market.Timeframe]bool
}

type evalResult struct {
	status string // set when the binding was not evaluated
	signal *strategy.Signal
	err    error
}

// RunCycle executes one cycle and returns its summary, or nil when the
// market is closed or the cycle failed. Cancellation of ctx does not cut a
// cycle short; every external call is bounded by the call timeout instead.
func (e *Engine) RunCycle(ctx context.Context) (summary *CycleSummary) {
	n := e.cycleNumber.Add(1)
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			summary = nil
			e.deps.Metrics.IncErrors()
			e.log.Error("main_loop_iteration_error", zap.Int64("cycle", n), zap.Any("panic", r))
			e.publish(events.SystemError, events.SeverityError, map[string]any{
				"module": eventSource,
				"error":  fmt.Sprint(r),
				"cycle":  n,
			})
		}
	}()

	start := e.now()
	if !e.cfg.Hours.IsMarketOpen(start) || session.IsWeekend(start) {
		e.log.Debug("market_closed", zap.Int64("cycle", n), zap.String("weekday", start.UTC().Weekday().String()))
		return nil
	}

	e.mu.RLock()
	symbols := e.symbols
	registry := e.registry
	e.mu.RUnlock()
	if registry == nil {
		return nil
	}

	timer := monitor.NewTimer(e.deps.Metrics.CycleLatency)
	s := &CycleSummary{
		Cycle:     n,
		StartedAt: start.UTC(),
		Symbols:   symbols,
		Market:    make(map[string]SymbolSnapshot, len(symbols)),
		Signals:   make(map[string]string, registry.Len()),
	}

	data := e.fetchAll(ctx, symbols, registry)
	e.detectCandles(symbols, data)

	bindings := registry.All()
	results := e.evaluate(bindings, data)
	for i, b := range bindings {
		e.process(ctx, s, b, results[i], data[b.Key.Symbol])
	}

	e.reconcile(ctx, s)
	e.snapshotAccount(ctx, s)

	for _, sym := range symbols {
		d := data[sym]
		s.Market[sym] = SymbolSnapshot{Tick: d.tick, Indicators: d.snapshot, Regime: d.regime, NewCandles: d.newTF}
	}
	s.TradesThisCycle = len(s.Trades)
	s.DurationMs = float64(timer.Stop().Microseconds()) / 1000
	s.FinishedAt = e.now().UTC()
	e.finish(s)
	return s
}

// fetchAll fetches every symbol concurrently and joins before returning.
func (e *Engine) fetchAll(ctx context.Context, symbols []string, registry *strategy.Registry) map[string]*symbolData {
	slots := make([]*symbolData, len(symbols))
	var g errgroup.Group
	for i, sym := range symbols {
		plan := registry.FetchPlan(sym)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("symbol_fetch_panic", zap.String("symbol", sym), zap.Any("panic", r))
					slots[i] = newSymbolData(sym)
				}
			}()
			slots[i] = e.fetchSymbol(ctx, sym, plan)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*symbolData, len(slots))
	for _, d := range slots {
		out[d.symbol] = d
	}
	return out
}

func newSymbolData(symbol string) *symbolData {
	return &symbolData{
		symbol: symbol,
		regime: regime.Unknown,
		series: map[market.Timeframe]market.Series{},
		newTF:  map[market.Timeframe]bool{},
	}
}

// fetchSymbol loads the tick, the indicator series and one series per
// timeframe the symbol's bindings use. Failures degrade the symbol for
// this cycle only.
func (e *Engine) fetchSymbol(ctx context.Context, symbol string, plan []strategy.TimeframeDemand) *symbolData {
	d := newSymbolData(symbol)

	cctx, cancel := e.callCtx(ctx)
	tick, err := e.deps.Bridge.Tick(cctx, symbol)
	cancel()
	if err != nil {
		e.log.Warn("tick_fetch_failed", zap.String("symbol", symbol), zap.Error(err))
	} else {
		d.tick = &tick
		if e.deps.Ticks != nil {
			e.deps.Ticks.Set(symbol, tick)
		}
	}

	h1, h1Err := e.fetchCandles(ctx, symbol, indicatorTimeframe, indicatorCandles)
	if h1Err != nil {
		e.log.Warn("candle_indicator_fetch_failed", zap.String("symbol", symbol), zap.Error(h1Err))
	} else if snap, ok := indicators.ComputeSnapshot(h1); ok {
		d.snapshot = &snap
		d.regime = e.detector.Detect(h1)
	}

	for _, dem := range plan {
		if dem.Timeframe == indicatorTimeframe && h1Err == nil && dem.Count <= indicatorCandles {
			d.series[dem.Timeframe] = h1
			continue
		}
		series, err := e.fetchCandles(ctx, symbol, dem.Timeframe, dem.Count)
		if err != nil {
			e.log.Warn("candle_fetch_for_tf_failed", zap.String("symbol", symbol), zap.String("timeframe", string(dem.Timeframe)), zap.Error(err))
			continue
		}
		d.series[dem.Timeframe] = series
	}
	return d
}

func (e *Engine) fetchCandles(ctx context.Context, symbol string, tf market.Timeframe, count int) (market.Series, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	t := monitor.NewTimer(e.deps.Metrics.BrokerLatency)
	defer t.Stop()
	return e.deps.Bridge.Candles(cctx, symbol, tf, count)
}

// detectCandles advances the cursor once per (symbol, timeframe). Bindings
// sharing a timeframe share the result.
func (e *Engine) detectCandles(symbols []string, data map[string]*symbolData) {
	for _, sym := range symbols {
		d := data[sym]
		for tf, series := range d.series {
			isNew, first := e.cursor.Observe(sym, tf, series)
			d.newTF[tf] = isNew
			if !isNew {
				continue
			}
			last, _ := series.Last()
			event := "new_candle_detected"
			if first {
				event = "initial_candle_recorded"
			}
			e.log.Info(event, zap.String("symbol", sym), zap.String("timeframe", string(tf)), zap.Time("time", last.Time))
		}
	}
}

// evaluate runs the eligible bindings concurrently. Evaluators are pure, so
// the only shared state is each binding's result slot.
func (e *Engine) evaluate(bindings []*strategy.Binding, data map[string]*symbolData) []evalResult {
	results := make([]evalResult, len(bindings))
	var g errgroup.Group
	for i, b := range bindings {
		d := data[b.Key.Symbol]
		if d == nil || !d.newTF[b.Timeframe] {
			results[i].status = StatusWaitingForCandle
			continue
		}
		if !b.Active() {
			results[i].status = StatusInactive
			continue
		}
		series := d.series[b.Timeframe]
		g.Go(func() error {
			t := monitor.NewTimer(e.deps.Metrics.StrategyLatency)
			sig, err := b.Evaluate(series)
			t.Stop()
			results[i] = evalResult{signal: sig, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// process records one binding's outcome; a panic is confined to the binding.
func (e *Engine) process(ctx context.Context, s *CycleSummary, b *strategy.Binding, r evalResult, d *symbolData) {
	key := b.Key.String()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			s.Signals[key] = "error: " + err.Error()
			e.strategyError(b, err, s.Cycle)
		}
	}()

	switch {
	case r.status != "":
		s.Signals[key] = r.status
	case r.err != nil:
		s.Signals[key] = "error: " + r.err.Error()
		e.strategyError(b, r.err, s.Cycle)
	case r.signal == nil:
		s.Signals[key] = StatusNoSignal
	default:
		e.deps.Metrics.IncSignals()
		s.Signals[key] = e.execute(ctx, s, b, *r.signal, d)
	}
}

func (e *Engine) strategyError(b *strategy.Binding, err error, cycle int64) {
	e.deps.Metrics.IncErrors()
	e.log.Error("strategy_cycle_error",
		zap.String("strategy", b.Key.String()),
		zap.String("symbol", b.Key.Symbol),
		zap.Int64("cycle", cycle),
		zap.Error(err))
	e.publish(events.StrategyError, events.SeverityError, map[string]any{
		"strategy": b.Key.String(),
		"symbol":   b.Key.Symbol,
		"error":    err.Error(),
	})
}

// execute takes a signal through stop enforcement, the risk gate and order
// placement, then tracks, persists and announces the trade. Only an order
// the broker confirmed is tracked; nothing after tracking can undo it.
func (e *Engine) execute(ctx context.Context, s *CycleSummary, b *strategy.Binding, sig strategy.Signal, d *symbolData) string {
	key := b.Key.String()
	var atr float64
	reg := regime.Unknown
	if d != nil {
		reg = d.regime
		if d.snapshot != nil {
			atr, _ = d.snapshot.ATRValue()
		}
	}

	sl, tp, err := EnforceStops(sig, atr, e.cfg.Trading.Symbols.Lookup(sig.Symbol))
	switch {
	case errors.Is(err, ErrNoATR):
		e.log.Warn("cannot_auto_calculate_sl_tp_no_atr", zap.String("strategy", key), zap.String("symbol", sig.Symbol))
		return StatusSkippedNoStops
	case errors.Is(err, ErrInvalidStops):
		e.log.Warn("invalid_sl_tp_after_calculation", zap.String("strategy", key), zap.Float64("sl", sl), zap.Float64("tp", tp))
		return StatusInvalidStops
	}
	if sl != sig.StopLoss {
		e.log.Warn("sl_auto_calculated", zap.String("strategy", key), zap.Float64("sl", sl), zap.Float64("atr", atr))
	}
	if tp != sig.TakeProfit {
		e.log.Warn("tp_auto_calculated", zap.String("strategy", key), zap.Float64("tp", tp), zap.Float64("atr", atr))
	}

	cctx, cancel := e.callCtx(ctx)
	check, err := e.deps.Risk.PreTradeCheck(cctx, sig.Symbol, sig.Direction, math.Abs(sig.EntryPrice-sl))
	cancel()
	if err != nil {
		check = risk.CheckResult{Approved: false, Reason: "risk check failed: " + err.Error()}
	}
	s.RiskChecks = append(s.RiskChecks, RiskCheckInfo{
		Strategy:     key,
		Approved:     check.Approved,
		Reason:       check.Reason,
		PositionSize: check.PositionSize,
		RiskScore:    check.RiskScore,
	})
	if !check.Approved {
		e.deps.Metrics.IncRejections()
		e.log.Warn("trade_rejected_by_risk_manager",
			zap.String("strategy", key),
			zap.String("symbol", sig.Symbol),
			zap.String("reason", check.Reason),
			zap.Int64("cycle", s.Cycle))
		e.publish(events.TradeRejected, events.SeverityWarning, map[string]any{
			"strategy": key,
			"symbol":   sig.Symbol,
			"reason":   check.Reason,
		})
		return StatusRejected
	}

	req := broker.OrderRequest{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Lots:       check.PositionSize,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    OrderComment(b.Key),
	}
	cctx, cancel = e.callCtx(ctx)
	t := monitor.NewTimer(e.deps.Metrics.BrokerLatency)
	res, err := e.deps.Bridge.OpenPosition(cctx, req)
	t.Stop()
	cancel()
	if err == nil && res == nil {
		err = errNilOrder
	}
	if err != nil {
		e.log.Warn("order_execution_failed", zap.String("strategy", key), zap.String("symbol", sig.Symbol), zap.Error(err))
		return StatusOrderFailed
	}

	entry := position.Entry{
		Ticket:     res.Ticket,
		TradeID:    uuid.NewString(),
		Code:       b.Key.Code,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Lots:       check.PositionSize,
		EntryPrice: res.Price,
		OpenedAt:   res.Time,
	}
	if entry.EntryPrice <= 0 {
		entry.EntryPrice = sig.EntryPrice
	}
	if entry.OpenedAt.IsZero() {
		entry.OpenedAt = e.now().UTC()
	}
	e.deps.Tracker.Add(entry)
	e.deps.Metrics.IncOrders()
	s.Trades = append(s.Trades, TradeInfo{
		Strategy:   key,
		TradeID:    entry.TradeID,
		Ticket:     int64(entry.Ticket),
		Symbol:     entry.Symbol,
		Direction:  entry.Direction,
		Lots:       entry.Lots,
		EntryPrice: entry.EntryPrice,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	e.log.Info("trade_executed",
		zap.String("strategy", key),
		zap.String("symbol", sig.Symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("lots", entry.Lots),
		zap.Int64("ticket", int64(entry.Ticket)),
		zap.Float64("sl", sl),
		zap.Float64("tp", tp),
		zap.Int64("cycle", s.Cycle))

	e.guard("risk_record_trade", func() error {
		cctx, cancel := e.callCtx(ctx)
		defer cancel()
		return e.deps.Risk.RecordTrade(cctx)
	})
	if e.deps.Store != nil {
		e.guard("trade_db_recording", func() error {
			cctx, cancel := e.callCtx(ctx)
			defer cancel()
			return e.deps.Store.CreateTrade(cctx, db.Trade{
				ID:           entry.TradeID,
				Ticket:       int64(entry.Ticket),
				StrategyCode: string(entry.Code),
				Symbol:       entry.Symbol,
				Direction:    string(entry.Direction),
				Lots:         entry.Lots,
				EntryPrice:   entry.EntryPrice,
				StopLoss:     sl,
				TakeProfit:   tp,
				Confidence:   sig.Confidence,
				Reason:       sig.Reason,
				Status:       db.TradeOpen,
				OpenedAt:     entry.OpenedAt,
			})
		})
	}

	opened := brain.TradeResult{
		Strategy:   key,
		Symbol:     entry.Symbol,
		Direction:  string(entry.Direction),
		Lots:       entry.Lots,
		EntryPrice: entry.EntryPrice,
		NetProfit:  decimal.Zero,
		Ticket:     int64(entry.Ticket),
		Regime:     reg,
	}
	e.notifyAnalytics("brain_trade_opened", func(ctx context.Context) error {
		return e.deps.Analytics.ProcessTradeResult(ctx, opened)
	})

	e.publish(events.TradeOpened, events.SeverityInfo, map[string]any{
		"strategy":    key,
		"trade_id":    entry.TradeID,
		"symbol":      entry.Symbol,
		"direction":   string(entry.Direction),
		"lots":        entry.Lots,
		"entry_price": entry.EntryPrice,
		"stop_loss":   sl,
		"take_profit": tp,
		"ticket":      int64(entry.Ticket),
		"timestamp":   entry.OpenedAt.Format(time.RFC3339),
	})
	return StatusOpened
}

func (e *Engine) reconcile(ctx context.Context, s *CycleSummary) {
	if e.deps.Reconciler == nil {
		return
	}
	var (
		report *reconciliation.Report
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		report, err = e.deps.Reconciler.Reconcile(ctx)
	}()
	if err != nil {
		e.log.Warn("closed_positions_check_failed", zap.Error(err))
	}
	if report == nil {
		return
	}
	for _, c := range report.Closed {
		e.deps.Metrics.IncClosures()
		s.Closures = append(s.Closures, ClosureInfo{
			Strategy:  strategy.BindingKey{Symbol: c.Entry.Symbol, Code: c.Entry.Code}.String(),
			Ticket:    int64(c.Entry.Ticket),
			Symbol:    c.Entry.Symbol,
			ExitPrice: c.ExitPrice,
			NetProfit: c.NetProfit.String(),
			Won:       c.Won,
			Estimated: c.Estimated,
		})
	}
}

func (e *Engine) snapshotAccount(ctx context.Context, s *CycleSummary) {
	if e.deps.Account == nil {
		return
	}
	cctx, cancel := e.callCtx(ctx)
	snap, err := e.deps.Account.Snapshot(cctx, e.deps.Tracker.Len())
	cancel()
	if err != nil {
		e.log.Warn("account_info_fetch_failed", zap.Error(err))
		return
	}
	balance, equity, dd := round2(snap.Balance), round2(snap.Equity), round2(snap.DrawdownPct)
	s.Account = AccountSummary{Balance: &balance, Equity: &equity, DrawdownPct: &dd}
}

// finish publishes the summary: log record, latest-cycle slot, event and analytics.
func (e *Engine) finish(s *CycleSummary) {
	e.mu.Lock()
	e.latest = s
	for k, v := range s.Signals {
		e.lastStatus[k] = v
	}
	e.mu.Unlock()

	e.deps.Metrics.IncCycles()
	e.log.Info("engine_cycle", zap.Any("summary", s))
	e.publish(events.CycleCompleted, events.SeverityInfo, map[string]any{
		"cycle":       s.Cycle,
		"trades":      len(s.Trades),
		"closures":    len(s.Closures),
		"duration_ms": s.DurationMs,
	})

	c := brain.Cycle{
		Number:       s.Cycle,
		At:           s.FinishedAt,
		Regimes:      make(map[string]regime.Regime, len(s.Market)),
		Signals:      s.Signals,
		TradesOpened: len(s.Trades),
		Closures:     len(s.Closures),
	}
	for sym, m := range s.Market {
		c.Regimes[sym] = m.Regime
	}
	if s.Account.Equity != nil {
		c.Equity = *s.Account.Equity
		c.DrawdownPct = *s.Account.DrawdownPct
	}
	e.notifyAnalytics("brain_process_cycle", func(ctx context.Context) error {
		return e.deps.Analytics.ProcessCycle(ctx, c)
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
