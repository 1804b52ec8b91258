package market

import (
	"sort"
	"strings"
)

// SymbolConfig is the static per-instrument trading table entry.
type SymbolConfig struct {
	LotSize       float64 `yaml:"lot_size" json:"lot_size"`
	SLATRMultiple float64 `yaml:"sl_atr_multiple" json:"sl_atr_multiple"`
	TPATRMultiple float64 `yaml:"tp_atr_multiple" json:"tp_atr_multiple"`
	ContractSize  float64 `yaml:"contract_size" json:"contract_size"`
}

// FallbackSymbol is used for instruments missing from the table.
const FallbackSymbol = "EURUSD"

// SymbolTable maps instrument names to their configuration.
type SymbolTable map[string]SymbolConfig

// DefaultSymbolTable is the production instrument set.
func DefaultSymbolTable() SymbolTable {
	return SymbolTable{
		"EURUSD": {LotSize: 0.02, SLATRMultiple: 1.5, TPATRMultiple: 2.0, ContractSize: 100000},
		"GBPUSD": {LotSize: 0.01, SLATRMultiple: 1.5, TPATRMultiple: 2.0, ContractSize: 100000},
		"USDJPY": {LotSize: 0.01, SLATRMultiple: 1.5, TPATRMultiple: 2.0, ContractSize: 100000},
		"XAUUSD": {LotSize: 0.01, SLATRMultiple: 2.0, TPATRMultiple: 2.5, ContractSize: 100},
	}
}

// Lookup returns the entry for symbol, falling back to EURUSD and then to the
// built-in EURUSD entry.
func (t SymbolTable) Lookup(symbol string) SymbolConfig {
	if c, ok := t[strings.ToUpper(symbol)]; ok {
		return c
	}
	if c, ok := t[FallbackSymbol]; ok {
		return c
	}
	return DefaultSymbolTable()[FallbackSymbol]
}

// Names lists the configured symbols in the production order first, then the rest sorted.
func (t SymbolTable) Names() []string {
	order := []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"}
	out := make([]string, 0, len(t))
	seen := map[string]bool{}
	for _, s := range order {
		if _, ok := t[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	rest := make([]string, 0)
	for s := range t {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
