package risk

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Limit levels reported with each check.
const (
	LevelNormal  = "NORMAL"
	LevelWarning = "WARNING"
	LevelCaution = "CAUTION"
	LevelLimit   = "LIMIT"
)

// Config defines risk management parameters.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Account
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`

	// Exposure
	MaxOpenPositions      int `yaml:"max_open_positions" json:"max_open_positions"`
	MaxPositionsPerSymbol int `yaml:"max_positions_per_symbol" json:"max_positions_per_symbol"`

	// Daily limits; zero disables
	MaxDailyTrades int     `yaml:"max_daily_trades" json:"max_daily_trades"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss" json:"max_daily_loss"`

	// Sizing
	MinLots float64 `yaml:"min_lots" json:"min_lots"`
	MaxLots float64 `yaml:"max_lots" json:"max_lots"`
	LotStep float64 `yaml:"lot_step" json:"lot_step"`

	// Soft limits
	WarningThreshold float64 `yaml:"warning_threshold" json:"warning_threshold"`   // 0.8 = 80%
	CautionThreshold float64 `yaml:"caution_threshold" json:"caution_threshold"`   // 0.9 = 90%
	CautionSizeRatio float64 `yaml:"caution_size_ratio" json:"caution_size_ratio"` // 0.5 = shrink to 50%
}

// DefaultConfig returns default risk configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		MaxDrawdownPct:        10,
		RiskPerTradePct:       1,
		MaxOpenPositions:      10,
		MaxPositionsPerSymbol: 3,
		MaxDailyTrades:        50,
		MinLots:               0.01,
		MaxLots:               1.0,
		LotStep:               0.01,
		WarningThreshold:      0.8,
		CautionThreshold:      0.9,
		CautionSizeRatio:      0.5,
	}
}

// LoadConfig reads the `risk:` section of the trading configuration file.
// Missing keys keep their defaults; an empty path yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read risk config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes the `risk:` section from YAML bytes.
func ParseConfig(data []byte) (Config, error) {
	doc := struct {
		Risk Config `yaml:"risk"`
	}{Risk: DefaultConfig()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse risk config: %w", err)
	}
	if err := doc.Risk.Validate(); err != nil {
		return Config{}, err
	}
	return doc.Risk, nil
}

// Validate rejects settings that would make sizing meaningless.
func (c Config) Validate() error {
	switch {
	case c.LotStep <= 0:
		return fmt.Errorf("risk: lot_step must be positive")
	case c.MinLots <= 0 || c.MaxLots < c.MinLots:
		return fmt.Errorf("risk: need 0 < min_lots <= max_lots, got %g/%g", c.MinLots, c.MaxLots)
	case c.RiskPerTradePct <= 0:
		return fmt.Errorf("risk: risk_per_trade_pct must be positive")
	}
	return nil
}

// CheckResult is the verdict on one candidate trade.
type CheckResult struct {
	Approved     bool    `json:"approved"`
	Reason       string  `json:"reason"`
	PositionSize float64 `json:"position_size"`
	RiskScore    float64 `json:"risk_score"`
	LimitLevel   string  `json:"limit_level"`
}

// Metrics tracks current risk status.
type Metrics struct {
	Date string `json:"date"`

	// Daily statistics
	DailyTrades       int     `json:"daily_trades"`
	DailyPnL          float64 `json:"daily_pnl"`
	DailyLosses       float64 `json:"daily_losses"`
	ConsecutiveLosses int     `json:"consecutive_losses"`

	// Cumulative since start
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`

	ChecksTotal     uint64    `json:"checks_total"`
	RejectionsTotal uint64    `json:"rejections_total"`
	LastCheck       time.Time `json:"last_check"`
}
