// Package reconciliation detects positions the broker closed on its own
// (stop or target hit) and settles them: storage, performance, risk
// counters, analytics and a TRADE_CLOSED event.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/notify"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

// Bridge is the broker surface reconciliation needs.
type Bridge interface {
	OpenPositions(ctx context.Context) ([]broker.Position, error)
	Deal(ctx context.Context, ticket broker.Ticket) (*broker.Deal, error)
	Tick(ctx context.Context, symbol string) (market.Tick, error)
}

// Store persists closures.
type Store interface {
	CloseTrade(ctx context.Context, id string, c db.TradeClose) error
	UpdateStrategyPerformance(ctx context.Context, code, symbol string, net decimal.Decimal) error
}

// RiskRecorder folds realised results into risk counters.
type RiskRecorder interface {
	RecordClose(ctx context.Context, net float64) error
}

// Analytics receives closed trade results.
type Analytics interface {
	ProcessTradeResult(ctx context.Context, r brain.TradeResult) error
}

// Submitter queues best-effort work.
type Submitter interface {
	Submit(name string, fn notify.Task) bool
}

// Config wires a Reconciler. Store, Risk, Analytics, Notifier and Bus may be nil.
type Config struct {
	Tracker     *position.Tracker
	Bridge      Bridge
	Store       Store
	Risk        RiskRecorder
	Analytics   Analytics
	Notifier    Submitter
	Bus         events.Publisher
	CallTimeout time.Duration
}

// Closure is one settled ticket.
type Closure struct {
	Entry      position.Entry  `json:"entry"`
	ExitPrice  float64         `json:"exit_price"`
	Profit     float64         `json:"profit"`
	Commission float64         `json:"commission"`
	Swap       float64         `json:"swap"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	Won        bool            `json:"won"`
	Estimated  bool            `json:"estimated"` // no deal record; exit taken from the live quote
	Errors     []string        `json:"errors,omitempty"`
}

// Report summarises one pass.
type Report struct {
	Time     time.Time `json:"time"`
	Checked  int       `json:"checked"`
	Closed   []Closure `json:"closed"`
	Failures int       `json:"failures"`
}

// Reconciler settles broker-side closures of tracked tickets.
type Reconciler struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Reconciler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Reconciler{cfg: cfg, log: log.Named("reconciliation")}
}

// Reconcile compares tracked tickets with the broker's open set. With
// nothing tracked it returns immediately without contacting the broker.
// Tickets are removed from the tracker before they are processed, so each
// closure is handled exactly once even if a later step fails.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{Time: time.Now().UTC()}
	tracked := r.cfg.Tracker.Len()
	if tracked == 0 {
		return report, nil
	}
	report.Checked = tracked

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	positions, err := r.cfg.Bridge.OpenPositions(callCtx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("list open positions: %w", err)
	}

	open := make(map[broker.Ticket]struct{}, len(positions))
	for _, p := range positions {
		open[p.Ticket] = struct{}{}
	}

	for _, e := range r.cfg.Tracker.Sweep(open) {
		c := r.settle(ctx, e)
		if len(c.Errors) > 0 {
			report.Failures++
		}
		report.Closed = append(report.Closed, c)
	}
	return report, nil
}

// settle runs the per-ticket pipeline; a panic anywhere is confined to the ticket.
func (r *Reconciler) settle(ctx context.Context, e position.Entry) (c Closure) {
	c.Entry = e
	defer func() {
		if rec := recover(); rec != nil {
			c.Errors = append(c.Errors, fmt.Sprintf("panic: %v", rec))
			r.log.Error("trade_close_processing_panic", zap.Int64("ticket", int64(e.Ticket)), zap.Any("panic", rec))
		}
	}()

	r.resolveExit(ctx, &c)
	c.NetProfit = decimal.NewFromFloat(c.Profit).
		Sub(decimal.NewFromFloat(c.Commission)).
		Sub(decimal.NewFromFloat(c.Swap))
	c.Won = c.NetProfit.IsPositive()
	net, _ := c.NetProfit.Float64()

	if r.cfg.Store != nil {
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.cfg.Store.CloseTrade(ctx, e.TradeID, db.TradeClose{
				ExitPrice:  c.ExitPrice,
				Profit:     c.Profit,
				Commission: c.Commission,
				Swap:       c.Swap,
				NetProfit:  c.NetProfit,
				ClosedAt:   time.Now(),
			})
		}); err != nil {
			c.Errors = append(c.Errors, "close trade: "+err.Error())
			r.log.Warn("trade_close_persist_failed", zap.Int64("ticket", int64(e.Ticket)), zap.String("trade_id", e.TradeID), zap.Error(err))
		}
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.cfg.Store.UpdateStrategyPerformance(ctx, string(e.Code), e.Symbol, c.NetProfit)
		}); err != nil {
			c.Errors = append(c.Errors, "strategy performance: "+err.Error())
			r.log.Warn("strategy_perf_update_failed", zap.String("strategy", string(e.Code)), zap.Error(err))
		}
	}

	if r.cfg.Risk != nil {
		if err := r.call(ctx, func(ctx context.Context) error { return r.cfg.Risk.RecordClose(ctx, net) }); err != nil {
			c.Errors = append(c.Errors, "risk metrics: "+err.Error())
			r.log.Warn("risk_record_close_failed", zap.Error(err))
		}
	}

	if err := r.notifyAnalytics(c); err != nil {
		c.Errors = append(c.Errors, "analytics: "+err.Error())
		r.log.Warn("brain_close_notify_error", zap.Int64("ticket", int64(e.Ticket)), zap.Error(err))
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(events.New(events.TradeClosed, "engine.reconciliation", events.SeverityInfo, map[string]any{
			"ticket":     int64(e.Ticket),
			"trade_id":   e.TradeID,
			"strategy":   strategy.BindingKey{Symbol: e.Symbol, Code: e.Code}.String(),
			"symbol":     e.Symbol,
			"direction":  string(e.Direction),
			"exit_price": c.ExitPrice,
			"net_profit": net,
			"won":        c.Won,
			"estimated":  c.Estimated,
		}))
	}

	r.log.Info("trade_closed_detected",
		zap.Int64("ticket", int64(e.Ticket)),
		zap.String("strategy", string(e.Code)),
		zap.String("symbol", e.Symbol),
		zap.Float64("exit_price", c.ExitPrice),
		zap.String("net_profit", c.NetProfit.String()),
		zap.Bool("estimated", c.Estimated))
	return c
}

// resolveExit prefers the broker's deal record; without one the exit is the
// side of the current quote the position closes against and profit stays 0.
func (r *Reconciler) resolveExit(ctx context.Context, c *Closure) {
	e := c.Entry
	var deal *broker.Deal
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		deal, err = r.cfg.Bridge.Deal(ctx, e.Ticket)
		return err
	})
	if err == nil && deal != nil {
		c.ExitPrice = deal.ExitPrice
		c.Profit = deal.Profit
		c.Commission = deal.Commission
		c.Swap = deal.Swap
		return
	}
	if err != nil && !errors.Is(err, broker.ErrNotFound) {
		r.log.Debug("deal_lookup_failed", zap.Int64("ticket", int64(e.Ticket)), zap.Error(err))
	}

	c.Estimated = true
	var tick market.Tick
	if err := r.call(ctx, func(ctx context.Context) error {
		var err error
		tick, err = r.cfg.Bridge.Tick(ctx, e.Symbol)
		return err
	}); err != nil {
		r.log.Warn("exit_estimate_unavailable", zap.Int64("ticket", int64(e.Ticket)), zap.Error(err))
		return
	}
	if e.Direction == market.Buy {
		c.ExitPrice = tick.Bid
	} else {
		c.ExitPrice = tick.Ask
	}
}

// notifyAnalytics queues the result when a notifier is wired, otherwise
// delivers it inline.
func (r *Reconciler) notifyAnalytics(c Closure) error {
	if r.cfg.Analytics == nil {
		return nil
	}
	res := brain.TradeResult{
		Strategy:   strategy.BindingKey{Symbol: c.Entry.Symbol, Code: c.Entry.Code}.String(),
		Symbol:     c.Entry.Symbol,
		Direction:  string(c.Entry.Direction),
		Lots:       c.Entry.Lots,
		EntryPrice: c.Entry.EntryPrice,
		ExitPrice:  c.ExitPrice,
		NetProfit:  c.NetProfit,
		Won:        c.Won,
		Ticket:     int64(c.Entry.Ticket),
		Closed:     true,
	}
	task := func(ctx context.Context) error { return r.cfg.Analytics.ProcessTradeResult(ctx, res) }
	if r.cfg.Notifier != nil {
		if !r.cfg.Notifier.Submit("brain_trade_closed", task) {
			r.log.Warn("brain_notify_dropped", zap.Int64("ticket", int64(c.Entry.Ticket)))
		}
		return nil
	}
	return r.call(context.Background(), task)
}

// call bounds fn by the per-call timeout and converts a panic into an error.
func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
