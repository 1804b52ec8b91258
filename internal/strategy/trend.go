package strategy

import (
	"fmt"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
)

// TrendParams configures TrendFollowing.
type TrendParams struct {
	EMAFast           int     `yaml:"ema_fast"`
	EMASlow           int     `yaml:"ema_slow"`
	ADXPeriod         int     `yaml:"adx_period"`
	ADXThreshold      float64 `yaml:"adx_threshold"`
	ATRPeriod         int     `yaml:"atr_period"`
	SLATRMult         float64 `yaml:"sl_atr_mult"`
	TPATRMult         float64 `yaml:"tp_atr_mult"`
	AllowContinuation bool    `yaml:"allow_continuation"`
}

// DefaultTrendParams returns the stand-alone defaults.
func DefaultTrendParams() TrendParams {
	return TrendParams{
		EMAFast:      9,
		EMASlow:      21,
		ADXPeriod:    14,
		ADXThreshold: 25,
		ATRPeriod:    14,
		SLATRMult:    2.0,
		TPATRMult:    3.0,
	}
}

// TrendFollowing trades EMA crossovers confirmed by ADX trend strength.
// With AllowContinuation it also enters when price reclaims the fast EMA
// inside an established trend.
type TrendFollowing struct {
	p TrendParams
}

func NewTrendFollowing(p TrendParams) *TrendFollowing {
	return &TrendFollowing{p: p}
}

func (s *TrendFollowing) Code() Code   { return TrendFollowingCode }
func (s *TrendFollowing) Name() string { return fmt.Sprintf("Trend Following (EMA %d/%d + ADX)", s.p.EMAFast, s.p.EMASlow) }

func (s *TrendFollowing) MinBars() int {
	return maxInt(s.p.EMASlow+1, 2*s.p.ADXPeriod, s.p.ATRPeriod) + 1
}

func (s *TrendFollowing) GenerateSignal(w market.Series) (*Signal, error) {
	if w.Len() < s.MinBars() {
		return nil, nil
	}
	closes, highs, lows := w.Closes(), w.Highs(), w.Lows()
	fast := indicators.EMA(closes, s.p.EMAFast)
	slow := indicators.EMA(closes, s.p.EMASlow)
	n := len(closes)

	f, okF := indicators.Last(fast)
	sv, okS := indicators.Last(slow)
	fPrev, okFP := indicators.Last(fast[:n-1])
	sPrev, okSP := indicators.Last(slow[:n-1])
	adx, okA := indicators.Last(indicators.ADX(highs, lows, closes, s.p.ADXPeriod).ADX)
	atr, okT := indicators.Last(indicators.ATR(highs, lows, closes, s.p.ATRPeriod))
	if !okF || !okS || !okFP || !okSP || !okA || !okT {
		return nil, nil
	}
	// confluence: no entry without trend strength
	if adx < s.p.ADXThreshold {
		return nil, nil
	}

	c, cPrev := closes[n-1], closes[n-2]
	var dir market.Direction
	var why string
	switch {
	case fPrev <= sPrev && f > sv:
		dir, why = market.Buy, "bullish EMA cross"
	case fPrev >= sPrev && f < sv:
		dir, why = market.Sell, "bearish EMA cross"
	case s.p.AllowContinuation && f > sv && cPrev <= fPrev && c > f:
		dir, why = market.Buy, "uptrend continuation"
	case s.p.AllowContinuation && f < sv && cPrev >= fPrev && c < f:
		dir, why = market.Sell, "downtrend continuation"
	default:
		return nil, nil
	}

	stop := c - dir.Sign()*s.p.SLATRMult*atr
	target := c + dir.Sign()*s.p.TPATRMult*atr
	if stop <= 0 || target <= 0 {
		return nil, nil
	}
	return &Signal{
		Direction:  dir,
		Confidence: clamp01(adx / 50),
		EntryPrice: c,
		StopLoss:   stop,
		TakeProfit: target,
		Reason:     fmt.Sprintf("Trend: %s EMA%d %.5f / EMA%d %.5f, ADX %.1f", why, s.p.EMAFast, f, s.p.EMASlow, sv, adx),
	}, nil
}
