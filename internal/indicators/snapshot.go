package indicators

import "trading-orchestrator/internal/market"

// MinSnapshotBars is the smallest series the engine computes indicators from.
const MinSnapshotBars = 50

// Snapshot is the per-symbol indicator set reported each cycle. Nil fields
// were not computable.
type Snapshot struct {
	RSI   *float64 `json:"rsi"`
	ADX   *float64 `json:"adx"`
	ATR   *float64 `json:"atr"`
	EMA20 *float64 `json:"ema_20"`
	EMA50 *float64 `json:"ema_50"`
}

// ComputeSnapshot returns RSI14, ADX14, ATR14, EMA20 and EMA50 of the series,
// and false when it is shorter than MinSnapshotBars.
func ComputeSnapshot(s market.Series) (Snapshot, bool) {
	if s.Len() < MinSnapshotBars {
		return Snapshot{}, false
	}
	closes, highs, lows := s.Closes(), s.Highs(), s.Lows()
	return Snapshot{
		RSI:   lastPtr(RSI(closes, 14)),
		ADX:   lastPtr(ADX(highs, lows, closes, 14).ADX),
		ATR:   lastPtr(ATR(highs, lows, closes, 14)),
		EMA20: lastPtr(EMA(closes, 20)),
		EMA50: lastPtr(EMA(closes, 50)),
	}, true
}

// ATRValue returns the snapshot ATR when it is defined and positive.
func (s Snapshot) ATRValue() (float64, bool) {
	if s.ATR == nil || *s.ATR <= 0 {
		return 0, false
	}
	return *s.ATR, true
}

func lastPtr(x []float64) *float64 {
	v, ok := Last(x)
	if !ok {
		return nil
	}
	return &v
}
