package strategy

import (
	"fmt"
	"math"
	"strings"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
)

// ScalperParams configures MomentumScalper.
type ScalperParams struct {
	BBPeriod      int     `yaml:"bb_period"`
	BBStd         float64 `yaml:"bb_std"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	ATRPeriod     int     `yaml:"atr_period"`
	SLATRMult     float64 `yaml:"sl_atr_mult"`
	TPATRMult     float64 `yaml:"tp_atr_mult"`
}

// DefaultScalperParams returns the stand-alone defaults.
func DefaultScalperParams() ScalperParams {
	return ScalperParams{
		BBPeriod:      20,
		BBStd:         2.0,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		ATRPeriod:     14,
		SLATRMult:     1.0,
		TPATRMult:     1.5,
	}
}

const (
	burstLookback  = 5
	burstBodyMult  = 1.5
	burstBodyRatio = 0.6
)

// MomentumScalper fires on ANY of: close outside the Bollinger Bands, RSI
// beyond its thresholds, or a momentum burst candle. Triggers in both
// directions cancel out.
type MomentumScalper struct {
	p ScalperParams
}

// NewMomentumScalper builds the scalper.
func NewMomentumScalper(p ScalperParams) *MomentumScalper {
	return &MomentumScalper{p: p}
}

func (s *MomentumScalper) Code() Code   { return MomentumScalperCode }
func (s *MomentumScalper) Name() string { return "Momentum Scalper (BB | RSI)" }

// MinBars is max(bb_period, rsi_period) plus a five bar buffer.
func (s *MomentumScalper) MinBars() int {
	return maxInt(s.p.BBPeriod, s.p.RSIPeriod) + 5
}

func (s *MomentumScalper) GenerateSignal(w market.Series) (*Signal, error) {
	if w.Len() < s.MinBars() {
		return nil, nil
	}
	closes, highs, lows := w.Closes(), w.Highs(), w.Lows()

	bands := indicators.Bollinger(closes, s.p.BBPeriod, s.p.BBStd)
	upper, ok1 := indicators.Last(bands.Upper)
	lower, ok2 := indicators.Last(bands.Lower)
	rsi, ok3 := indicators.Last(indicators.RSI(closes, s.p.RSIPeriod))
	atr, ok4 := indicators.Last(indicators.ATR(highs, lows, closes, s.p.ATRPeriod))
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}

	last, _ := w.Last()
	var buys, sells []string

	if last.Close < lower {
		buys = append(buys, fmt.Sprintf("price %.5f < lower BB %.5f", last.Close, lower))
	}
	if rsi < s.p.RSIOversold {
		buys = append(buys, fmt.Sprintf("RSI %.1f < %g", rsi, s.p.RSIOversold))
	}
	if last.Close > upper {
		sells = append(sells, fmt.Sprintf("price %.5f > upper BB %.5f", last.Close, upper))
	}
	if rsi > s.p.RSIOverbought {
		sells = append(sells, fmt.Sprintf("RSI %.1f > %g", rsi, s.p.RSIOverbought))
	}
	switch momentumBurst(w) {
	case market.Buy:
		buys = append(buys, "momentum burst (bullish)")
	case market.Sell:
		sells = append(sells, "momentum burst (bearish)")
	}

	var dir market.Direction
	var triggers []string
	switch {
	case len(buys) > 0 && len(sells) == 0:
		dir, triggers = market.Buy, buys
	case len(sells) > 0 && len(buys) == 0:
		dir, triggers = market.Sell, sells
	default:
		return nil, nil
	}

	sl := last.Close - dir.Sign()*s.p.SLATRMult*atr
	tp := last.Close + dir.Sign()*s.p.TPATRMult*atr
	if sl <= 0 || tp <= 0 {
		return nil, nil
	}

	return &Signal{
		Direction:  dir,
		Confidence: clamp01(math.Abs(rsi-50) / 50),
		EntryPrice: last.Close,
		StopLoss:   sl,
		TakeProfit: tp,
		Reason:     "Momentum scalp: " + strings.Join(triggers, ", "),
	}, nil
}

// momentumBurst returns the burst direction of the newest candle, or "" when
// its body is not large and decisive enough versus the previous five.
func momentumBurst(w market.Series) market.Direction {
	if w.Len() < burstLookback+1 {
		return ""
	}
	last, _ := w.Last()
	body := last.Body()
	ratio := 0.0
	if r := last.Range(); r > 0 {
		ratio = body / r
	}
	var avg float64
	for _, c := range w[w.Len()-burstLookback-1 : w.Len()-1] {
		avg += c.Body()
	}
	avg /= burstLookback

	if body > burstBodyMult*avg && ratio > burstBodyRatio {
		if last.Close > last.Open {
			return market.Buy
		}
		return market.Sell
	}
	return ""
}
