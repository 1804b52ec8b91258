package strategy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trading-orchestrator/internal/market"
)

// Config is one strategy entry in the trading YAML. Empty Symbols binds the
// strategy to every traded symbol.
type Config struct {
	Code       string         `yaml:"code"`
	Symbols    []string       `yaml:"symbols"`
	Timeframe  string         `yaml:"timeframe"`
	Lookback   int            `yaml:"lookback"`
	Lots       float64        `yaml:"lots"`
	Active     *bool          `yaml:"active"`
	Parameters map[string]any `yaml:"parameters"`
}

// RegimeConfig configures the regime detector.
type RegimeConfig struct {
	ADXThreshold float64 `yaml:"adx_threshold"`
}

// ConfigFile represents the strategy-related sections of the trading YAML.
type ConfigFile struct {
	Symbols    market.SymbolTable `yaml:"symbols"`
	Strategies []Config           `yaml:"strategies"`
	Regime     RegimeConfig       `yaml:"regime"`
}

// LoadConfig reads the trading YAML. Missing sections fall back to DefaultConfigFile.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes trading YAML bytes.
func ParseConfig(data []byte) (*ConfigFile, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse trading config: %w", err)
	}
	def := DefaultConfigFile()
	if len(file.Symbols) == 0 {
		file.Symbols = def.Symbols
	} else {
		upper := make(market.SymbolTable, len(file.Symbols))
		for k, v := range file.Symbols {
			upper[strings.ToUpper(k)] = v
		}
		file.Symbols = upper
	}
	if len(file.Strategies) == 0 {
		file.Strategies = def.Strategies
	}
	if file.Regime.ADXThreshold <= 0 {
		file.Regime.ADXThreshold = def.Regime.ADXThreshold
	}
	return &file, nil
}

// DefaultConfigFile is the production registration: four strategies on every symbol.
func DefaultConfigFile() *ConfigFile {
	return &ConfigFile{
		Symbols: market.DefaultSymbolTable(),
		Strategies: []Config{
			{
				Code: "A", Timeframe: "M15", Lookback: 200,
				Parameters: map[string]any{"ema_fast": 9, "ema_slow": 21, "adx_threshold": 15.0, "allow_continuation": true},
			},
			{
				Code: "B", Timeframe: "H1", Lookback: 100,
				Parameters: map[string]any{"grid_levels": 5, "grid_spacing_pips": 50.0, "z_score_threshold": 1.3},
			},
			{
				Code: "C", Timeframe: "H1", Lookback: 100,
				Parameters: map[string]any{"lookback_bars": 12, "breakout_atr_mult": 0.5},
			},
			{
				Code: "D", Timeframe: "M15", Lookback: 100,
				Parameters: map[string]any{"bb_period": 14, "bb_std": 1.5, "rsi_oversold": 38.0, "rsi_overbought": 62.0},
			},
		},
		Regime: RegimeConfig{ADXThreshold: 25},
	}
}

// BuildRegistry instantiates one binding per (symbol, strategy) pair.
// Bindings start inactive unless Active is unset or true; callers start them.
func BuildRegistry(cfg *ConfigFile, symbols []string) (*Registry, error) {
	reg := NewRegistry()
	for _, symbol := range symbols {
		symCfg := cfg.Symbols.Lookup(symbol)
		for _, sc := range cfg.Strategies {
			if !appliesTo(sc.Symbols, symbol) {
				continue
			}
			code, err := ParseCode(sc.Code)
			if err != nil {
				return nil, err
			}
			ev, err := New(code, sc.Parameters)
			if err != nil {
				return nil, fmt.Errorf("%s_%s: %w", symbol, code, err)
			}
			tf := market.H1
			if sc.Timeframe != "" {
				if tf, err = market.ParseTimeframe(sc.Timeframe); err != nil {
					return nil, fmt.Errorf("%s_%s: %w", symbol, code, err)
				}
			}
			lookback := sc.Lookback
			if lookback < ev.MinBars() {
				lookback = maxInt(ev.MinBars(), 50)
			}
			lots := sc.Lots
			if lots <= 0 {
				lots = symCfg.LotSize
			}
			b := &Binding{
				Key:       BindingKey{Symbol: symbol, Code: code},
				Evaluator: ev,
				Timeframe: tf,
				Lookback:  lookback,
				Lots:      lots,
				Params:    sc.Parameters,
			}
			if sc.Active == nil || *sc.Active {
				b.Start()
			}
			if err := reg.Register(b); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func appliesTo(symbols []string, symbol string) bool {
	if len(symbols) == 0 {
		return true
	}
	for _, s := range symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
