package strategy

import (
	"fmt"
	"math"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/session"
)

// BreakoutParams configures SessionBreakout.
type BreakoutParams struct {
	LookbackBars    int      `yaml:"lookback_bars"`
	BreakoutATRMult float64  `yaml:"breakout_atr_mult"`
	ATRPeriod       int      `yaml:"atr_period"`
	Sessions        []string `yaml:"sessions"`
}

func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{LookbackBars: 12, BreakoutATRMult: 0.5, ATRPeriod: 14}
}

// SessionBreakout trades closes beyond the recent range by a volatility buffer.
type SessionBreakout struct {
	p BreakoutParams
}

func NewSessionBreakout(p BreakoutParams) *SessionBreakout {
	return &SessionBreakout{p: p}
}

func (s *SessionBreakout) Code() Code   { return SessionBreakoutCode }
func (s *SessionBreakout) Name() string { return "Session Breakout" }

func (s *SessionBreakout) MinBars() int {
	return maxInt(s.p.LookbackBars+1, s.p.ATRPeriod+1)
}

func (s *SessionBreakout) GenerateSignal(w market.Series) (*Signal, error) {
	if w.Len() < s.MinBars() {
		return nil, nil
	}
	last, _ := w.Last()
	if len(s.p.Sessions) > 0 && !session.InAny(last.Time, s.p.Sessions) {
		return nil, nil
	}
	atr, ok := indicators.Last(indicators.ATR(w.Highs(), w.Lows(), w.Closes(), s.p.ATRPeriod))
	if !ok {
		return nil, nil
	}

	rng := w[w.Len()-1-s.p.LookbackBars : w.Len()-1]
	high, low := math.Inf(-1), math.Inf(1)
	for _, c := range rng {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	height := high - low
	buffer := s.p.BreakoutATRMult * atr

	var dir market.Direction
	var edge float64
	switch {
	case last.Close > high+buffer:
		dir, edge = market.Buy, high
	case last.Close < low-buffer:
		dir, edge = market.Sell, low
	default:
		return nil, nil
	}

	stop := (high + low) / 2
	target := last.Close + dir.Sign()*height
	if stop <= 0 || target <= 0 || height <= 0 {
		return nil, nil
	}
	return &Signal{
		Direction:  dir,
		Confidence: clamp01(math.Abs(last.Close-edge) / atr),
		EntryPrice: last.Close,
		StopLoss:   stop,
		TakeProfit: target,
		Reason:     fmt.Sprintf("Breakout: close %.5f beyond %d-bar range [%.5f, %.5f]", last.Close, s.p.LookbackBars, low, high),
	}, nil
}
