// Package position keeps the open-trade record: broker ticket to internal
// trade. The bridge remains the source of truth; Sweep is how closures
// the broker performed on its own (stop or target hit) are discovered.
package position

import (
	"sort"
	"sync"
	"time"

	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

// Entry is what the orchestrator remembers about a live ticket.
type Entry struct {
	Ticket     broker.Ticket    `json:"ticket"`
	TradeID    string           `json:"trade_id"`
	Code       strategy.Code    `json:"strategy_code"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Lots       float64          `json:"lots"`
	EntryPrice float64          `json:"entry_price"`
	OpenedAt   time.Time        `json:"opened_at"`
}

// Tracker maps tickets to entries. Safe for concurrent readers; the
// orchestrator is the only writer.
type Tracker struct {
	mu      sync.RWMutex
	entries map[broker.Ticket]Entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[broker.Ticket]Entry)}
}

// Add records a ticket, replacing any previous entry for it.
func (t *Tracker) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Ticket] = e
}

func (t *Tracker) Get(ticket broker.Ticket) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[ticket]
	return e, ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns all entries ordered by ticket.
func (t *Tracker) Snapshot() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sortByTicket(out)
	return out
}

// Sweep removes and returns every tracked ticket absent from open. Each
// ticket is returned at most once: it is gone from the tracker before the
// caller sees it.
func (t *Tracker) Sweep(open map[broker.Ticket]struct{}) []Entry {
	t.mu.Lock()
	var closed []Entry
	for ticket, e := range t.entries {
		if _, ok := open[ticket]; ok {
			continue
		}
		closed = append(closed, e)
		delete(t.entries, ticket)
	}
	t.mu.Unlock()
	sortByTicket(closed)
	return closed
}

// Restore seeds the tracker from stored open trades. Rows with unusable
// direction or code are skipped; the count of restored entries is returned.
func (t *Tracker) Restore(trades []db.Trade) int {
	n := 0
	for _, tr := range trades {
		dir, err := market.ParseDirection(tr.Direction)
		if err != nil {
			continue
		}
		code, err := strategy.ParseCode(tr.StrategyCode)
		if err != nil {
			continue
		}
		t.Add(Entry{
			Ticket:     broker.Ticket(tr.Ticket),
			TradeID:    tr.ID,
			Code:       code,
			Symbol:     tr.Symbol,
			Direction:  dir,
			Lots:       tr.Lots,
			EntryPrice: tr.EntryPrice,
			OpenedAt:   tr.OpenedAt,
		})
		n++
	}
	return n
}

func sortByTicket(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Ticket < es[j].Ticket })
}
