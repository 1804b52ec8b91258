package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"trading-orchestrator/internal/market"
)

// SyntheticFeed generates deterministic random-walk candles and ticks for
// local development without a bridge. A given (symbol, timeframe, bucket)
// always produces the same candle.
type SyntheticFeed struct {
	Base     map[string]float64
	Universe []string
	Now      func() time.Time
}

// NewSyntheticFeed covers the given symbols with typical price levels.
func NewSyntheticFeed(symbols []string) *SyntheticFeed {
	return &SyntheticFeed{
		Base: map[string]float64{
			"EURUSD": 1.08,
			"GBPUSD": 1.27,
			"USDJPY": 150.0,
			"XAUUSD": 2300.0,
		},
		Universe: symbols,
		Now:      time.Now,
	}
}

func (f *SyntheticFeed) Symbols(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.Universe...), nil
}

func (f *SyntheticFeed) Tick(ctx context.Context, symbol string) (market.Tick, error) {
	base, err := f.base(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	now := f.Now().UTC()
	// sample at one-minute granularity so ticks move between cycles
	mid := f.price(symbol, market.M1, now.Unix()/60, base)
	half := base * 0.00005
	return market.Tick{Symbol: symbol, Bid: mid - half, Ask: mid + half, Spread: 2 * half, Time: now}, nil
}

func (f *SyntheticFeed) Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) (market.Series, error) {
	base, err := f.base(symbol)
	if err != nil {
		return nil, err
	}
	step := int64(tf.Duration() / time.Second)
	if step == 0 {
		return nil, fmt.Errorf("synthetic feed: unsupported timeframe %q", tf)
	}
	last := f.Now().UTC().Unix()/step - 1 // newest closed bucket
	out := make(market.Series, 0, count)
	for idx := last - int64(count) + 1; idx <= last; idx++ {
		open := f.price(symbol, tf, idx-1, base)
		cl := f.price(symbol, tf, idx, base)
		wick := base * 0.0004 * f.noise(symbol, tf, idx*7+3)
		out = append(out, market.Candle{
			Time:   time.Unix(idx*step, 0).UTC(),
			Open:   open,
			High:   math.Max(open, cl) + wick,
			Low:    math.Min(open, cl) - wick,
			Close:  cl,
			Volume: 100 + 900*f.noise(symbol, tf, idx*11+5),
		})
	}
	return out, nil
}

func (f *SyntheticFeed) base(symbol string) (float64, error) {
	b, ok := f.Base[symbol]
	if !ok {
		return 0, fmt.Errorf("synthetic feed: unknown symbol %q", symbol)
	}
	return b, nil
}

func (f *SyntheticFeed) price(symbol string, tf market.Timeframe, idx int64, base float64) float64 {
	x := float64(idx)
	wave := 0.004*math.Sin(x/23) + 0.002*math.Sin(x/7.3)
	return base * (1 + wave + 0.0008*(f.noise(symbol, tf, idx)-0.5))
}

// noise is a uniform [0,1) draw keyed by (symbol, timeframe, idx).
func (f *SyntheticFeed) noise(symbol string, tf market.Timeframe, idx int64) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", symbol, tf, idx)
	return rand.New(rand.NewSource(int64(h.Sum64()))).Float64()
}
