package strategy

import (
	"fmt"
	"math"

	"trading-orchestrator/internal/indicators"
	"trading-orchestrator/internal/market"
)

// GridParams configures MeanReversionGrid.
type GridParams struct {
	MAPeriod        int     `yaml:"ma_period"`
	ZScoreThreshold float64 `yaml:"z_score_threshold"`
	GridLevels      int     `yaml:"grid_levels"`
	GridSpacingPips float64 `yaml:"grid_spacing_pips"`
	GridZStep       float64 `yaml:"grid_z_step"`
	PipSize         float64 `yaml:"pip_size"` // 0 infers from price
}

func DefaultGridParams() GridParams {
	return GridParams{
		MAPeriod:        20,
		ZScoreThreshold: 2.0,
		GridLevels:      5,
		GridSpacingPips: 50,
		GridZStep:       0.5,
	}
}

// MeanReversionGrid fades stretched prices back to their moving average.
// How far past the threshold z has run picks the grid level, which maps to a
// price on a grid of fixed pip spacing around the mean. The target is the
// mean itself and the stop is left to the caller.
type MeanReversionGrid struct {
	p GridParams
}

func NewMeanReversionGrid(p GridParams) *MeanReversionGrid {
	return &MeanReversionGrid{p: p}
}

func (s *MeanReversionGrid) Code() Code   { return MeanReversionGridCode }
func (s *MeanReversionGrid) Name() string { return "Mean Reversion Grid" }
func (s *MeanReversionGrid) MinBars() int { return s.p.MAPeriod + 1 }

func (s *MeanReversionGrid) GenerateSignal(w market.Series) (*Signal, error) {
	if w.Len() < s.MinBars() {
		return nil, nil
	}
	closes := w.Closes()
	mean, ok1 := indicators.Last(indicators.SMA(closes, s.p.MAPeriod))
	std, ok2 := indicators.Last(indicators.StdDev(closes, s.p.MAPeriod))
	if !ok1 || !ok2 || std == 0 {
		return nil, nil
	}
	c := closes[len(closes)-1]
	z := (c - mean) / std
	if math.Abs(z) < s.p.ZScoreThreshold {
		return nil, nil
	}

	dir := market.Buy
	if z > 0 {
		dir = market.Sell
	}
	level := s.gridLevel(math.Abs(z))

	return &Signal{
		Direction:  dir,
		Confidence: clamp01(math.Abs(z) / (2 * s.p.ZScoreThreshold)),
		EntryPrice: c,
		TakeProfit: mean,
		Reason: fmt.Sprintf("Grid L%d/%d: z=%.2f, mean %.5f, grid %.5f",
			level, s.p.GridLevels, z, mean, s.gridPrice(mean, dir, level, c)),
	}, nil
}

// gridLevel is min(levels, ceil((|z|-threshold)/step)+1), never below 1.
func (s *MeanReversionGrid) gridLevel(absZ float64) int {
	level := 1
	if s.p.GridZStep > 0 {
		level = int(math.Ceil((absZ-s.p.ZScoreThreshold)/s.p.GridZStep)) + 1
	}
	if s.p.GridLevels > 0 && level > s.p.GridLevels {
		level = s.p.GridLevels
	}
	if level < 1 {
		level = 1
	}
	return level
}

// gridPrice is the grid line for level, level steps away from the mean on
// the stretched side.
func (s *MeanReversionGrid) gridPrice(mean float64, dir market.Direction, level int, price float64) float64 {
	pip := s.p.PipSize
	if pip <= 0 {
		pip = inferPipSize(price)
	}
	return mean - dir.Sign()*float64(level)*s.p.GridSpacingPips*pip
}

// inferPipSize guesses the pip from the quote magnitude: 0.0001 for majors,
// 0.01 for yen crosses, 0.1 for metals.
func inferPipSize(price float64) float64 {
	switch {
	case price >= 500:
		return 0.1
	case price >= 20:
		return 0.01
	default:
		return 0.0001
	}
}
