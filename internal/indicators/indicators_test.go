package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-orchestrator/internal/market"
)

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, []float64{2, 3, 4}, out[2:])
}

func TestEMASeededWithSMA(t *testing.T) {
	out := EMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)

	short := EMA([]float64{1, 2}, 3)
	_, ok := Last(short)
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	flat := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(i)
		flat[i] = 7
	}
	v, ok := Last(RSI(rising, 14))
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, ok = Last(RSI(flat, 14))
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	out := RSI(rising, 14)
	assert.True(t, math.IsNaN(out[13]))
	assert.False(t, math.IsNaN(out[14]))

	// equal up and down moves balance out
	zigzag := []float64{1, 2, 1, 2, 1}
	v, ok = Last(RSI(zigzag, 2))
	require.True(t, ok)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 100.0)
}

func TestATRConstantRange(t *testing.T) {
	n := 30
	h, l, c := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		h[i], l[i], c[i] = 102, 100, 101
	}
	out := ATR(h, l, c, 14)
	assert.True(t, math.IsNaN(out[12]))
	assert.InDelta(t, 2.0, out[13], 1e-12)
	v, ok := Last(out)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12)
}

func TestTrueRangeUsesGaps(t *testing.T) {
	tr := TrueRange([]float64{10, 15}, []float64{9, 14}, []float64{9.5, 14.5})
	assert.Equal(t, 1.0, tr[0])
	assert.Equal(t, 5.5, tr[1])
}

func TestADXStrongTrend(t *testing.T) {
	n := 40
	h, l, c := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		l[i] = float64(i)
		h[i] = float64(i) + 1
		c[i] = float64(i) + 0.5
	}
	di := ADX(h, l, c, 14)
	assert.True(t, math.IsNaN(di.ADX[26]))
	v, ok := Last(di.ADX)
	require.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9)
	pdi, _ := Last(di.PlusDI)
	mdi, _ := Last(di.MinusDI)
	assert.Greater(t, pdi, mdi)

	short := ADX(h[:20], l[:20], c[:20], 14)
	_, ok = Last(short.ADX)
	assert.False(t, ok)
}

func TestBollingerFlatSeries(t *testing.T) {
	closes := []float64{5, 5, 5, 5, 5}
	b := Bollinger(closes, 3, 2)
	assert.Equal(t, 5.0, b.Upper[4])
	assert.Equal(t, 5.0, b.Lower[4])
	assert.True(t, math.IsNaN(b.Upper[1]))
}

func TestBollingerWidth(t *testing.T) {
	b := Bollinger([]float64{1, 3}, 2, 2)
	assert.InDelta(t, 2.0, b.Middle[1], 1e-12)
	assert.InDelta(t, 4.0, b.Upper[1], 1e-12)
	assert.InDelta(t, 0.0, b.Lower[1], 1e-12)
}

func TestComputeSnapshot(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	build := func(n int) market.Series {
		s := make(market.Series, n)
		for i := range s {
			base := 1.1 + 0.001*math.Sin(float64(i)/3)
			s[i] = market.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: base, High: base + 0.002, Low: base - 0.002, Close: base + 0.0005}
		}
		return s
	}

	_, ok := ComputeSnapshot(build(49))
	assert.False(t, ok)

	snap, ok := ComputeSnapshot(build(80))
	require.True(t, ok)
	require.NotNil(t, snap.RSI)
	require.NotNil(t, snap.ADX)
	require.NotNil(t, snap.EMA20)
	require.NotNil(t, snap.EMA50)
	atr, ok := snap.ATRValue()
	require.True(t, ok)
	assert.Greater(t, atr, 0.0)
}
