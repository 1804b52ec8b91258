package events

import "time"

// Type enumerates the topics published by the orchestrator.
type Type string

const (
	EngineStarted       Type = "ENGINE_STARTED"
	EngineStopped       Type = "ENGINE_STOPPED"
	BridgeConnected     Type = "BRIDGE_CONNECTED"
	TradeOpened         Type = "TRADE_OPENED"
	TradeClosed         Type = "TRADE_CLOSED"
	TradeRejected       Type = "TRADE_REJECTED"
	StrategyError       Type = "STRATEGY_ERROR"
	SystemError         Type = "SYSTEM_ERROR"
	CycleCompleted      Type = "CYCLE_COMPLETED"
	KillSwitchTriggered Type = "KILL_SWITCH_TRIGGERED"
	KillSwitchReset     Type = "KILL_SWITCH_RESET"
)

// Severity orders events for alerting.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns a comparable weight; unknown severities rank as INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Event is the payload delivered to subscribers.
type Event struct {
	Type     Type           `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Source   string         `json:"source"`
	Severity Severity       `json:"severity"`
	Time     time.Time      `json:"time"`
}

// New stamps an event with the current time.
func New(t Type, source string, severity Severity, data map[string]any) Event {
	return Event{Type: t, Data: data, Source: source, Severity: severity, Time: time.Now().UTC()}
}
