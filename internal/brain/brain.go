// Package brain is the analytics layer fed by the orchestrator: it scores
// strategy bindings from closed trades, follows regime changes per symbol
// and keeps a rolling log of observations for the dashboard.
package brain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-orchestrator/internal/regime"
)

const (
	defaultMaxThoughts = 200
	xpPerWin           = 20
	xpPerLoss          = 5
	xpPerLevel         = 100
	drawdownNoticePct  = 5.0
)

// Thought kinds.
const (
	ThoughtRegimeChange = "regime_change"
	ThoughtTradeOpened  = "trade_opened"
	ThoughtTradeClosed  = "trade_closed"
	ThoughtDrawdown     = "drawdown"
	ThoughtCycle        = "cycle"
)

// Cycle is what the orchestrator reports after every cycle.
type Cycle struct {
	Number       int64                    `json:"number"`
	At           time.Time                `json:"at"`
	Regimes      map[string]regime.Regime `json:"regimes"`
	Signals      map[string]string        `json:"signals"`
	TradesOpened int                      `json:"trades_opened"`
	Closures     int                      `json:"closures"`
	Equity       float64                  `json:"equity"`
	DrawdownPct  float64                  `json:"drawdown_pct"`
}

// TradeResult reports an opened (Closed=false) or closed trade.
type TradeResult struct {
	Strategy   string          `json:"strategy"` // binding key, e.g. EURUSD_D
	Symbol     string          `json:"symbol"`
	Direction  string          `json:"direction"`
	Lots       float64         `json:"lots"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price,omitempty"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	Won        bool            `json:"won"`
	Ticket     int64           `json:"ticket"`
	Closed     bool            `json:"closed"`
	Regime     regime.Regime   `json:"regime_at_entry,omitempty"`
}

// Thought is one observation in the rolling log.
type Thought struct {
	Time       time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StrategyScore is the running record of one binding.
type StrategyScore struct {
	Strategy  string          `json:"strategy"`
	Trades    int             `json:"trades"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`
	NetProfit decimal.Decimal `json:"net_profit"`
	WinRate   float64         `json:"win_rate"`
	XP        int             `json:"xp"`
	Level     int             `json:"level"`
	LastTrade time.Time       `json:"last_trade"`
}

// State summarises the brain for the API.
type State struct {
	Cycles      int64                    `json:"cycles"`
	LastCycleAt time.Time                `json:"last_cycle_at"`
	Regimes     map[string]regime.Regime `json:"regimes"`
	OpenedSeen  int                      `json:"opened_seen"`
	ClosedSeen  int                      `json:"closed_seen"`
	TopStrategy string                   `json:"top_strategy,omitempty"`
	Thoughts    int                      `json:"thoughts"`
	Scores      []StrategyScore          `json:"scores"`
}

// Brain is safe for concurrent use; notifications arrive from the notify
// worker pool while the API reads.
type Brain struct {
	log         *zap.Logger
	maxThoughts int
	now         func() time.Time

	mu           sync.RWMutex
	cycles       int64
	lastCycleAt  time.Time
	regimes      map[string]regime.Regime
	scores       map[string]*StrategyScore
	thoughts     []Thought
	openedSeen   int
	closedSeen   int
	lastDrawdown float64
}

func New(log *zap.Logger) *Brain {
	return &Brain{
		log:         log.Named("brain"),
		maxThoughts: defaultMaxThoughts,
		now:         time.Now,
		regimes:     make(map[string]regime.Regime),
		scores:      make(map[string]*StrategyScore),
	}
}

// ProcessCycle ingests a cycle summary.
func (b *Brain) ProcessCycle(ctx context.Context, c Cycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cycles++
	b.lastCycleAt = c.At

	symbols := make([]string, 0, len(c.Regimes))
	for s := range c.Regimes {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		next := c.Regimes[sym]
		prev, seen := b.regimes[sym]
		b.regimes[sym] = next
		if !seen || prev == next || next == regime.Unknown {
			continue
		}
		b.thinkLocked(ThoughtRegimeChange, fmt.Sprintf("%s regime shifted %s -> %s", sym, prev, next), 0.7,
			map[string]any{"symbol": sym, "from": string(prev), "to": string(next), "cycle": c.Number})
	}

	if c.DrawdownPct >= drawdownNoticePct && c.DrawdownPct > b.lastDrawdown {
		b.thinkLocked(ThoughtDrawdown, fmt.Sprintf("drawdown deepened to %.2f%%", c.DrawdownPct), 0.9,
			map[string]any{"drawdown_pct": c.DrawdownPct, "equity": c.Equity})
	}
	b.lastDrawdown = c.DrawdownPct

	if c.TradesOpened > 0 || c.Closures > 0 {
		b.thinkLocked(ThoughtCycle, fmt.Sprintf("cycle %d: %d opened, %d closed", c.Number, c.TradesOpened, c.Closures), 0.5,
			map[string]any{"cycle": c.Number})
	}
	return nil
}

// ProcessTradeResult ingests an opened or closed trade. Only closed trades
// move scores.
func (b *Brain) ProcessTradeResult(ctx context.Context, r TradeResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Strategy == "" {
		return fmt.Errorf("trade result without strategy")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !r.Closed {
		b.openedSeen++
		b.thinkLocked(ThoughtTradeOpened,
			fmt.Sprintf("%s opened %s %s %.2f lots @ %.5f", r.Strategy, r.Direction, r.Symbol, r.Lots, r.EntryPrice), 0.6,
			map[string]any{"ticket": r.Ticket, "regime": string(r.Regime)})
		return nil
	}

	b.closedSeen++
	s, ok := b.scores[r.Strategy]
	if !ok {
		s = &StrategyScore{Strategy: r.Strategy, Level: 1}
		b.scores[r.Strategy] = s
	}
	s.Trades++
	s.NetProfit = s.NetProfit.Add(r.NetProfit)
	if r.Won {
		s.Wins++
		s.XP += xpPerWin
	} else {
		s.Losses++
		s.XP += xpPerLoss
	}
	s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	s.Level = 1 + s.XP/xpPerLevel
	s.LastTrade = b.now().UTC()

	outcome := "lost"
	if r.Won {
		outcome = "won"
	}
	b.thinkLocked(ThoughtTradeClosed,
		fmt.Sprintf("%s %s %s on %s (win rate %.0f%%)", r.Strategy, outcome, r.NetProfit.StringFixed(2), r.Symbol, s.WinRate), 0.8,
		map[string]any{"ticket": r.Ticket, "exit_price": r.ExitPrice})
	return nil
}

// Thoughts returns up to limit thoughts, newest first.
func (b *Brain) Thoughts(limit int) []Thought {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.thoughts) {
		limit = len(b.thoughts)
	}
	out := make([]Thought, 0, limit)
	for i := len(b.thoughts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.thoughts[i])
	}
	return out
}

// Scores returns strategy scores ordered by XP, then key.
func (b *Brain) Scores() []StrategyScore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scoresLocked()
}

func (b *Brain) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	regimes := make(map[string]regime.Regime, len(b.regimes))
	for k, v := range b.regimes {
		regimes[k] = v
	}
	scores := b.scoresLocked()
	st := State{
		Cycles:      b.cycles,
		LastCycleAt: b.lastCycleAt,
		Regimes:     regimes,
		OpenedSeen:  b.openedSeen,
		ClosedSeen:  b.closedSeen,
		Thoughts:    len(b.thoughts),
		Scores:      scores,
	}
	if len(scores) > 0 {
		st.TopStrategy = scores[0].Strategy
	}
	return st
}

func (b *Brain) scoresLocked() []StrategyScore {
	out := make([]StrategyScore, 0, len(b.scores))
	for _, s := range b.scores {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

func (b *Brain) thinkLocked(kind, content string, confidence float64, meta map[string]any) {
	b.thoughts = append(b.thoughts, Thought{
		Time:       b.now().UTC(),
		Type:       kind,
		Content:    content,
		Confidence: confidence,
		Metadata:   meta,
	})
	if over := len(b.thoughts) - b.maxThoughts; over > 0 {
		b.thoughts = append(b.thoughts[:0:0], b.thoughts[over:]...)
	}
	b.log.Debug("brain_thought", zap.String("type", kind), zap.String("content", content))
}
