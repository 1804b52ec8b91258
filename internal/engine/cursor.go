package engine

import (
	"time"

	"trading-orchestrator/internal/market"
)

type cursorKey struct {
	symbol    string
	timeframe market.Timeframe
}

// CandleCursor remembers the newest candle seen per (symbol, timeframe). It
// is owned by the cycle goroutine and is not safe for concurrent use.
type CandleCursor struct {
	last map[cursorKey]time.Time
}

func NewCandleCursor() *CandleCursor {
	return &CandleCursor{last: make(map[cursorKey]time.Time)}
}

// Observe reports whether series ends in a candle newer than the stored
// cursor. The first observation of a key is always new (first=true). An
// empty series is never new and leaves the cursor untouched.
func (c *CandleCursor) Observe(symbol string, tf market.Timeframe, series market.Series) (isNew, first bool) {
	latest, ok := series.Last()
	if !ok {
		return false, false
	}
	k := cursorKey{symbol: symbol, timeframe: tf}
	prev, seen := c.last[k]
	switch {
	case !seen:
		c.last[k] = latest.Time
		return true, true
	case latest.Time.After(prev):
		c.last[k] = latest.Time
		return true, false
	default:
		return false, false
	}
}

// Last returns the stored cursor for a key.
func (c *CandleCursor) Last(symbol string, tf market.Timeframe) (time.Time, bool) {
	t, ok := c.last[cursorKey{symbol: symbol, timeframe: tf}]
	return t, ok
}
