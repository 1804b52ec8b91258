package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-orchestrator/pkg/db"
)

type fakeInfo struct {
	balance, equity float64
	calls           int
	err             error
}

func (f *fakeInfo) Balance(ctx context.Context) (float64, error) {
	f.calls++
	return f.balance, f.err
}

func (f *fakeInfo) Equity(ctx context.Context) (float64, error) { return f.equity, f.err }

type sink struct{ got []db.AccountSnapshot }

func (s *sink) RecordSnapshot(a db.AccountSnapshot) { s.got = append(s.got, a) }

func TestDrawdownPct(t *testing.T) {
	tests := []struct {
		name            string
		balance, equity float64
		want            float64
	}{
		{"five percent", 10000, 9500, 5.0},
		{"flat", 10000, 10000, 0},
		{"equity above balance", 10000, 10250, -2.5},
		{"zero balance", 0, 100, 0},
		{"negative balance", -5, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DrawdownPct(tt.balance, tt.equity))
		})
	}
}

func TestSnapshotRecordsAndCaches(t *testing.T) {
	info := &fakeInfo{balance: 10000, equity: 9500}
	rec := &sink{}
	m := NewManager(info, time.Minute, rec, zap.NewNop())
	ctx := context.Background()

	_, ok := m.Last()
	assert.False(t, ok)

	s, err := m.Snapshot(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, s.DrawdownPct)
	assert.Equal(t, 3, s.OpenPositions)
	require.Len(t, rec.got, 1)
	assert.Equal(t, 9500.0, rec.got[0].Equity)
	assert.Equal(t, 3, rec.got[0].OpenPositions)

	info.equity = 9000
	eq, err := m.Equity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9500.0, eq, "served from cache within ttl")
	assert.Equal(t, 1, info.calls)

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.OpenPositions)
}

func TestStaleCacheRefreshes(t *testing.T) {
	info := &fakeInfo{balance: 10000, equity: 9500}
	m := NewManager(info, time.Second, nil, zap.NewNop())
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Balance(ctx)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	info.equity = 9000
	eq, err := m.Equity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, eq)
	assert.Equal(t, 2, info.calls)
}

func TestRefreshError(t *testing.T) {
	info := &fakeInfo{err: errors.New("bridge down")}
	m := NewManager(info, time.Second, nil, zap.NewNop())
	_, err := m.Snapshot(context.Background(), 0)
	assert.ErrorContains(t, err, "bridge down")
}
