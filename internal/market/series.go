package market

import (
	"fmt"
	"sort"
)

// Series is an ordered candle sequence for one (symbol, timeframe).
type Series []Candle

// Len is the number of candles.
func (s Series) Len() int { return len(s) }

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Tail returns the newest n candles (all of them when n exceeds the length).
func (s Series) Tail(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func (s Series) Closes() []float64 { return s.column(func(c Candle) float64 { return c.Close }) }
func (s Series) Opens() []float64  { return s.column(func(c Candle) float64 { return c.Open }) }
func (s Series) Highs() []float64  { return s.column(func(c Candle) float64 { return c.High }) }
func (s Series) Lows() []float64   { return s.column(func(c Candle) float64 { return c.Low }) }

func (s Series) column(f func(Candle) float64) []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = f(c)
	}
	return out
}

// Validate checks that timestamps strictly increase.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return fmt.Errorf("candle %d at %s not after %s", i, s[i].Time, s[i-1].Time)
		}
	}
	return nil
}

// Normalize sorts by time and drops duplicate timestamps, keeping the later entry.
func Normalize(candles []Candle) Series {
	out := make(Series, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Time.Equal(c.Time) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
