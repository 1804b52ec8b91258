package engine

import (
	"errors"
	"time"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/regime"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// Per-binding outcomes recorded in the cycle summary. Evaluation failures
// are recorded as "error: <message>".
const (
	StatusWaitingForCandle = "waiting_for_candle"
	StatusInactive         = "inactive"
	StatusNoSignal         = "no_signal"
	StatusSkippedNoStops   = "skipped_no_sl_tp"
	StatusInvalidStops     = "invalid_sl_tp"
	StatusRejected         = "rejected"
	StatusOrderFailed      = "order_failed"
	StatusOpened           = "opened"
)

var (
	ErrNoATR          = errors.New("no ATR to derive stops")
	ErrInvalidStops   = errors.New("stop-loss and take-profit must be positive")
	ErrInvalidState   = errors.New("invalid engine state")
	ErrUnknownBinding = errors.New("unknown strategy binding")
)

// CommentPrefix tags every order placed by the orchestrator.
const (
	CommentPrefix    = "JSR_"
	maxCommentLength = 31
)

// SymbolSnapshot is the market view of one symbol in one cycle.
type SymbolSnapshot struct {
	Tick       *market.Tick              `json:"tick,omitempty"`
	Indicators *indicators.Snapshot      `json:"indicators,omitempty"`
	Regime     regime.Regime             `json:"regime"`
	NewCandles map[market.Timeframe]bool `json:"new_candles"`
}

// RiskCheckInfo records one pre-trade check.
type RiskCheckInfo struct {
	Strategy     string  `json:"strategy"`
	Approved     bool    `json:"approved"`
	Reason       string  `json:"reason"`
	PositionSize float64 `json:"position_size"`
	RiskScore    float64 `json:"risk_score"`
}

// TradeInfo is an order placed during a cycle.
type TradeInfo struct {
	Strategy   string           `json:"strategy"`
	TradeID    string           `json:"trade_id"`
	Ticket     int64            `json:"ticket"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Lots       float64          `json:"lots"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"sl"`
	TakeProfit float64          `json:"tp"`
}

// ClosureInfo is a broker-side closure settled during a cycle.
type ClosureInfo struct {
	Strategy  string  `json:"strategy"`
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	ExitPrice float64 `json:"exit_price"`
	NetProfit string  `json:"net_profit"`
	Won       bool    `json:"won"`
	Estimated bool    `json:"estimated"`
}

// AccountSummary is the end-of-cycle account state; nil fields were unavailable.
type AccountSummary struct {
	Balance     *float64 `json:"balance"`
	Equity      *float64 `json:"equity"`
	DrawdownPct *float64 `json:"drawdown"`
}

// CycleSummary is emitted once per completed cycle.
type CycleSummary struct {
	Cycle           int64                     `json:"cycle"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      time.Time                 `json:"finished_at"`
	DurationMs      float64                   `json:"duration_ms"`
	Symbols         []string                  `json:"symbols"`
	Market          map[string]SymbolSnapshot `json:"market"`
	Signals         map[string]string         `json:"signals"`
	RiskChecks      []RiskCheckInfo           `json:"risk_checks"`
	Trades          []TradeInfo               `json:"trades"`
	TradesThisCycle int                       `json:"trades_this_cycle"`
	Closures        []ClosureInfo             `json:"closures"`
	Account         AccountSummary            `json:"account"`
}

// Status is the orchestrator runtime status.
type Status struct {
	State       State      `json:"state"`
	DryRun      bool       `json:"dry_run"`
	Symbols     []string   `json:"symbols"`
	Bindings    int        `json:"bindings"`
	OpenTrades  int        `json:"open_trades"`
	Cycles      int64      `json:"cycles"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UptimeSec   float64    `json:"uptime_seconds"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	Version     string     `json:"version"`
	ServerTime  time.Time  `json:"server_time"`
}

// BindingInfo describes a registered strategy binding.
type BindingInfo struct {
	Key        string           `json:"key"`
	Symbol     string           `json:"symbol"`
	Code       string           `json:"strategy_code"`
	Name       string           `json:"name"`
	Timeframe  market.Timeframe `json:"timeframe"`
	Lookback   int              `json:"lookback"`
	Lots       float64          `json:"lots"`
	Active     bool             `json:"is_active"`
	Parameters map[string]any   `json:"parameters"`
	LastStatus string           `json:"last_status,omitempty"`
}
