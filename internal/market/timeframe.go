package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle bucket in MT5 notation.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// Duration returns the bucket length, zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe accepts MT5 names ("M15") and common aliases ("15m", "1h").
func ParseTimeframe(s string) (Timeframe, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := timeframeDurations[Timeframe(v)]; ok {
		return Timeframe(v), nil
	}
	switch v {
	case "1M":
		return M1, nil
	case "5M":
		return M5, nil
	case "15M":
		return M15, nil
	case "30M":
		return M30, nil
	case "1H", "60M":
		return H1, nil
	case "4H":
		return H4, nil
	case "1D", "D":
		return D1, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}
