package brain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/internal/regime"
)

func TestRegimeChangeProducesThought(t *testing.T) {
	b := New(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.ProcessCycle(ctx, Cycle{Number: 1, Regimes: map[string]regime.Regime{"EURUSD": regime.Ranging}}))
	assert.Empty(t, b.Thoughts(10), "first observation is not a change")

	require.NoError(t, b.ProcessCycle(ctx, Cycle{Number: 2, Regimes: map[string]regime.Regime{"EURUSD": regime.Ranging}}))
	require.NoError(t, b.ProcessCycle(ctx, Cycle{Number: 3, Regimes: map[string]regime.Regime{"EURUSD": regime.TrendingUp}}))

	th := b.Thoughts(10)
	require.Len(t, th, 1)
	assert.Equal(t, ThoughtRegimeChange, th[0].Type)
	assert.Equal(t, "EURUSD regime shifted RANGING -> TRENDING_UP", th[0].Content)

	st := b.State()
	assert.Equal(t, int64(3), st.Cycles)
	assert.Equal(t, regime.TrendingUp, st.Regimes["EURUSD"])
}

func TestClosedTradesMoveScores(t *testing.T) {
	b := New(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.ProcessTradeResult(ctx, TradeResult{Strategy: "EURUSD_D", Symbol: "EURUSD", Direction: "BUY", Ticket: 1}))
	assert.Empty(t, b.Scores(), "opened trades do not score")

	for i, net := range []string{"12.5", "-3", "4"} {
		v := decimal.RequireFromString(net)
		require.NoError(t, b.ProcessTradeResult(ctx, TradeResult{
			Strategy: "EURUSD_D", Symbol: "EURUSD", Ticket: int64(i + 1), Closed: true,
			NetProfit: v, Won: v.IsPositive(),
		}))
	}
	require.NoError(t, b.ProcessTradeResult(ctx, TradeResult{Strategy: "XAUUSD_A", Closed: true, NetProfit: decimal.NewFromInt(-1)}))

	scores := b.Scores()
	require.Len(t, scores, 2)
	d := scores[0]
	assert.Equal(t, "EURUSD_D", d.Strategy)
	assert.Equal(t, 3, d.Trades)
	assert.Equal(t, 2, d.Wins)
	assert.Equal(t, 45, d.XP)
	assert.Equal(t, 1, d.Level)
	assert.Equal(t, "13.5", d.NetProfit.String())
	assert.InDelta(t, 66.666, d.WinRate, 0.01)

	st := b.State()
	assert.Equal(t, "EURUSD_D", st.TopStrategy)
	assert.Equal(t, 1, st.OpenedSeen)
	assert.Equal(t, 4, st.ClosedSeen)

	assert.Error(t, b.ProcessTradeResult(ctx, TradeResult{}))
}

func TestThoughtLogIsBounded(t *testing.T) {
	b := New(zap.NewNop())
	b.maxThoughts = 5
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, b.ProcessTradeResult(ctx, TradeResult{Strategy: fmt.Sprintf("S%d", i), Ticket: int64(i)}))
	}
	th := b.Thoughts(0)
	require.Len(t, th, 5)
	assert.Equal(t, int64(11), th[0].Metadata["ticket"])
	assert.Equal(t, int64(7), th[4].Metadata["ticket"])
	assert.Len(t, b.Thoughts(2), 2)
}

func TestDrawdownNotice(t *testing.T) {
	b := New(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, b.ProcessCycle(ctx, Cycle{DrawdownPct: 6}))
	require.NoError(t, b.ProcessCycle(ctx, Cycle{DrawdownPct: 6}))
	require.NoError(t, b.ProcessCycle(ctx, Cycle{DrawdownPct: 7.5}))
	th := b.Thoughts(0)
	require.Len(t, th, 2)
	assert.Equal(t, ThoughtDrawdown, th[0].Type)
}

func TestCancelledContext(t *testing.T) {
	b := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.ProcessCycle(ctx, Cycle{At: time.Now()}), context.Canceled)
}
