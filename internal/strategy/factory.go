package strategy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// New builds an evaluator for code, overlaying params on the variant defaults.
func New(code Code, params map[string]any) (Evaluator, error) {
	switch code {
	case TrendFollowingCode:
		p := DefaultTrendParams()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.EMAFast <= 0 || p.EMASlow <= p.EMAFast {
			return nil, fmt.Errorf("invalid EMA periods %d/%d", p.EMAFast, p.EMASlow)
		}
		return NewTrendFollowing(p), nil

	case MeanReversionGridCode:
		p := DefaultGridParams()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.MAPeriod < 2 || p.ZScoreThreshold <= 0 || p.GridLevels <= 0 {
			return nil, fmt.Errorf("invalid grid parameters %+v", p)
		}
		return NewMeanReversionGrid(p), nil

	case SessionBreakoutCode:
		p := DefaultBreakoutParams()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.LookbackBars <= 0 || p.ATRPeriod <= 0 {
			return nil, fmt.Errorf("invalid breakout parameters %+v", p)
		}
		return NewSessionBreakout(p), nil

	case MomentumScalperCode:
		p := DefaultScalperParams()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.BBPeriod <= 1 || p.RSIPeriod <= 0 || p.ATRPeriod <= 0 || p.RSIOversold >= p.RSIOverbought {
			return nil, fmt.Errorf("invalid scalper parameters %+v", p)
		}
		return NewMomentumScalper(p), nil
	}
	return nil, fmt.Errorf("unknown strategy code %q", code)
}

// decodeParams round-trips the loose YAML map through typed struct tags.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return nil
}
