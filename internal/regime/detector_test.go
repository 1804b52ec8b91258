package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trading-orchestrator/internal/market"
)

func series(n int, f func(i int) (o, h, l, c float64)) market.Series {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	for i := range s {
		o, h, l, c := f(i)
		s[i] = market.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c}
	}
	return s
}

func TestDetectTrendingUp(t *testing.T) {
	s := series(120, func(i int) (float64, float64, float64, float64) {
		base := 100 + float64(i)
		return base, base + 1, base - 0.2, base + 0.8
	})
	assert.Equal(t, TrendingUp, NewDetector(25).Detect(s))
}

func TestDetectTrendingDown(t *testing.T) {
	s := series(120, func(i int) (float64, float64, float64, float64) {
		base := 300 - float64(i)
		return base, base + 0.2, base - 1, base - 0.8
	})
	r := NewDetector(25).Detect(s)
	assert.Equal(t, TrendingDown, r)
	assert.True(t, r.Trending())
}

func TestDetectRanging(t *testing.T) {
	s := series(120, func(i int) (float64, float64, float64, float64) {
		if i%2 == 0 {
			return 100, 101, 99, 100.5
		}
		return 100.5, 101, 99, 100
	})
	assert.Equal(t, Ranging, NewDetector(25).Detect(s))
}

func TestDetectVolatile(t *testing.T) {
	s := series(120, func(i int) (float64, float64, float64, float64) {
		if i >= 115 {
			return 100, 110, 90, 100
		}
		if i%2 == 0 {
			return 100, 100.5, 99.5, 100.2
		}
		return 100.2, 100.5, 99.5, 100
	})
	assert.Equal(t, Volatile, NewDetector(25).Detect(s))
}

func TestDetectUnknownOnShortWindow(t *testing.T) {
	s := series(10, func(i int) (float64, float64, float64, float64) { return 1, 2, 0.5, 1.5 })
	assert.Equal(t, Unknown, NewDetector(0).Detect(s))
}

func TestDetectUnknownWithoutSlowEMA(t *testing.T) {
	// enough bars for ADX, too few for EMA50
	s := series(40, func(i int) (float64, float64, float64, float64) {
		base := 100 + float64(i)
		return base, base + 1, base - 0.2, base + 0.8
	})
	assert.Equal(t, Unknown, NewDetector(25).Detect(s))
}
