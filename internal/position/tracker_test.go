package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
)

func openSet(tickets ...broker.Ticket) map[broker.Ticket]struct{} {
	m := make(map[broker.Ticket]struct{}, len(tickets))
	for _, t := range tickets {
		m[t] = struct{}{}
	}
	return m
}

func TestSweepRemovesExactlyOnce(t *testing.T) {
	tr := NewTracker()
	tr.Add(Entry{Ticket: 3, TradeID: "c", Code: strategy.TrendFollowingCode, Symbol: "EURUSD", Direction: market.Buy})
	tr.Add(Entry{Ticket: 1, TradeID: "a", Code: strategy.MomentumScalperCode, Symbol: "EURUSD", Direction: market.Sell})
	tr.Add(Entry{Ticket: 2, TradeID: "b", Code: strategy.MeanReversionGridCode, Symbol: "XAUUSD", Direction: market.Buy})

	closed := tr.Sweep(openSet(2))
	require.Len(t, closed, 2)
	assert.Equal(t, broker.Ticket(1), closed[0].Ticket)
	assert.Equal(t, broker.Ticket(3), closed[1].Ticket)
	assert.Equal(t, 1, tr.Len())

	for i := 0; i < 3; i++ {
		assert.Empty(t, tr.Sweep(openSet(2)), "repeated sweep with no change")
	}

	_, ok := tr.Get(2)
	assert.True(t, ok)
	closed = tr.Sweep(openSet())
	require.Len(t, closed, 1)
	assert.Equal(t, "b", closed[0].TradeID)
	assert.Zero(t, tr.Len())
}

func TestSnapshotIsOrderedCopy(t *testing.T) {
	tr := NewTracker()
	tr.Add(Entry{Ticket: 9})
	tr.Add(Entry{Ticket: 4})
	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, broker.Ticket(4), snap[0].Ticket)
	snap[0].Symbol = "mutated"
	e, _ := tr.Get(4)
	assert.Empty(t, e.Symbol)
}

func TestRestoreSkipsBadRows(t *testing.T) {
	tr := NewTracker()
	n := tr.Restore([]db.Trade{
		{ID: "x", Ticket: 10, StrategyCode: "D", Symbol: "EURUSD", Direction: "BUY", Lots: 0.02},
		{ID: "y", Ticket: 11, StrategyCode: "Z", Symbol: "EURUSD", Direction: "BUY"},
		{ID: "z", Ticket: 12, StrategyCode: "A", Symbol: "EURUSD", Direction: "FLAT"},
	})
	assert.Equal(t, 1, n)
	e, ok := tr.Get(10)
	require.True(t, ok)
	assert.Equal(t, strategy.MomentumScalperCode, e.Code)
	assert.Equal(t, market.Buy, e.Direction)
}
