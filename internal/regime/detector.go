package regime

import (
	"math"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
)

// Regime is a coarse classification of recent market behaviour.
type Regime string

const (
	TrendingUp   Regime = "TRENDING_UP"
	TrendingDown Regime = "TRENDING_DOWN"
	Ranging      Regime = "RANGING"
	Volatile     Regime = "VOLATILE"
	Unknown      Regime = "UNKNOWN"
)

// Trending reports whether r is either trending regime.
func (r Regime) Trending() bool {
	return r == TrendingUp || r == TrendingDown
}

// Detector classifies a candle window using ADX trend strength, the
// EMA20/EMA50 stack and ATR expansion.
type Detector struct {
	ADXThreshold       float64
	ADXPeriod          int
	ATRPeriod          int
	VolatilityMult     float64 // latest ATR vs its mean over VolatilityLookback
	VolatilityLookback int
}

// NewDetector returns a detector with the given ADX threshold and default periods.
func NewDetector(adxThreshold float64) *Detector {
	if adxThreshold <= 0 {
		adxThreshold = 25
	}
	return &Detector{
		ADXThreshold:       adxThreshold,
		ADXPeriod:          14,
		ATRPeriod:          14,
		VolatilityMult:     1.5,
		VolatilityLookback: 50,
	}
}

// Detect classifies the series. Windows too short for ADX, ATR or, in a
// trend, the EMA20/EMA50 pair yield Unknown.
func (d *Detector) Detect(s market.Series) Regime {
	closes, highs, lows := s.Closes(), s.Highs(), s.Lows()

	adx, ok := indicators.Last(indicators.ADX(highs, lows, closes, d.ADXPeriod).ADX)
	if !ok {
		return Unknown
	}
	atr := indicators.ATR(highs, lows, closes, d.ATRPeriod)
	lastATR, ok := indicators.Last(atr)
	if !ok {
		return Unknown
	}
	if mean, ok := trailingMean(atr, d.VolatilityLookback); ok && mean > 0 && lastATR >= d.VolatilityMult*mean {
		return Volatile
	}

	if adx >= d.ADXThreshold {
		fast, okFast := indicators.Last(indicators.EMA(closes, 20))
		slow, okSlow := indicators.Last(indicators.EMA(closes, 50))
		if !okFast || !okSlow {
			return Unknown
		}
		if fast >= slow {
			return TrendingUp
		}
		return TrendingDown
	}
	return Ranging
}

// trailingMean averages the defined values among the last n entries.
func trailingMean(x []float64, n int) (float64, bool) {
	if n <= 0 || len(x) == 0 {
		return 0, false
	}
	start := len(x) - n
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for _, v := range x[start:] {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
