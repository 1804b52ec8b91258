// Package engine is the trading orchestrator: it drives the fixed-interval
// cycle that fetches market data, evaluates strategy bindings on candle
// closes, routes signals through stop enforcement and the risk gate to the
// broker, and settles closures.
package engine

import (
	"context"

	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/strategy"
)

// Service is the surface the API layer uses. The API never reaches past it
// into the cycle.
type Service interface {
	State() State
	Status() Status
	LatestCycle() (*CycleSummary, bool)
	Bindings() []BindingInfo
	SetBindingActive(ctx context.Context, key strategy.BindingKey, active bool) error
	OpenTrades() []position.Entry
}

var _ Service = (*Engine)(nil)
