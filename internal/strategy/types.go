package strategy

import (
	"fmt"
	"strings"

	"trading-orchestrator/internal/market"
)

// Code identifies a strategy variant.
type Code string

const (
	TrendFollowingCode    Code = "A"
	MeanReversionGridCode Code = "B"
	SessionBreakoutCode   Code = "C"
	MomentumScalperCode   Code = "D"
)

var codeNames = map[Code]string{
	TrendFollowingCode:    "TrendFollowing",
	MeanReversionGridCode: "MeanReversionGrid",
	SessionBreakoutCode:   "SessionBreakout",
	MomentumScalperCode:   "MomentumScalper",
}

// Name returns the variant name, or the raw code when unknown.
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return string(c)
}

// ParseCode accepts a letter code ("D") or a variant name ("MomentumScalper").
func ParseCode(s string) (Code, error) {
	v := strings.TrimSpace(s)
	if _, ok := codeNames[Code(strings.ToUpper(v))]; ok {
		return Code(strings.ToUpper(v)), nil
	}
	for c, n := range codeNames {
		if strings.EqualFold(n, v) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown strategy code %q", s)
}

// BindingKey identifies one strategy instance on one symbol.
type BindingKey struct {
	Symbol string
	Code   Code
}

// String renders the key as SYMBOL_CODE, the form used in logs and order comments.
func (k BindingKey) String() string {
	return k.Symbol + "_" + string(k.Code)
}

// ParseBindingKey reverses String.
func ParseBindingKey(s string) (BindingKey, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return BindingKey{}, fmt.Errorf("malformed binding key %q", s)
	}
	code, err := ParseCode(s[i+1:])
	if err != nil {
		return BindingKey{}, err
	}
	return BindingKey{Symbol: strings.ToUpper(s[:i]), Code: code}, nil
}

// Signal is a directional proposal produced by one evaluation. Zero
// StopLoss or TakeProfit means the strategy left it to the caller.
type Signal struct {
	Code       Code             `json:"strategy_code"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss,omitempty"`
	TakeProfit float64          `json:"take_profit,omitempty"`
	Reason     string           `json:"reason"`
}

// HasStops reports whether both protective prices are set.
func (s Signal) HasStops() bool {
	return s.StopLoss > 0 && s.TakeProfit > 0
}

// Evaluator is implemented by every strategy variant. GenerateSignal must be a
// pure function of the window and the evaluator's parameters; a nil signal
// with a nil error means no trade, including when the window is too short.
type Evaluator interface {
	Code() Code
	Name() string
	MinBars() int
	GenerateSignal(window market.Series) (*Signal, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
