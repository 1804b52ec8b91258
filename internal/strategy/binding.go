package strategy

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"trading-orchestrator/internal/market"
)

// Binding is a registered evaluator on one symbol with its data requirements.
type Binding struct {
	Key       BindingKey
	Evaluator Evaluator
	Timeframe market.Timeframe
	Lookback  int
	Lots      float64
	Params    map[string]any

	active atomic.Bool
}

// Start marks the binding active.
func (b *Binding) Start() { b.active.Store(true) }

// Stop marks the binding inactive; it keeps its registration.
func (b *Binding) Stop() { b.active.Store(false) }

// Active reports the lifecycle flag.
func (b *Binding) Active() bool { return b.active.Load() }

// Evaluate runs the evaluator on the newest Lookback candles and stamps the
// signal with the binding's identity. Panics are returned as errors.
func (b *Binding) Evaluate(series market.Series) (sig *Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()

	sig, err = b.Evaluator.GenerateSignal(series.Tail(b.Lookback))
	if err != nil || sig == nil {
		return nil, err
	}
	sig.Code = b.Key.Code
	sig.Symbol = b.Key.Symbol
	return sig, nil
}

// Registry holds bindings in registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []*Binding
	bindings map[BindingKey]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[BindingKey]*Binding)}
}

// Register adds a binding; keys must be unique.
func (r *Registry) Register(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.bindings[b.Key]; dup {
		return fmt.Errorf("binding %s already registered", b.Key)
	}
	r.bindings[b.Key] = b
	r.order = append(r.order, b)
	return nil
}

// Get looks up a binding by key.
func (r *Registry) Get(key BindingKey) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[key]
	return b, ok
}

// All returns the bindings in registration order.
func (r *Registry) All() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Binding, len(r.order))
	copy(out, r.order)
	return out
}

// Len is the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ForSymbol returns the bindings on symbol in registration order.
func (r *Registry) ForSymbol(symbol string) []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Binding
	for _, b := range r.order {
		if b.Key.Symbol == symbol {
			out = append(out, b)
		}
	}
	return out
}

// FetchPlan lists, for one symbol, each timeframe its bindings use and the
// largest lookback among them, sorted by timeframe duration.
func (r *Registry) FetchPlan(symbol string) []TimeframeDemand {
	need := map[market.Timeframe]int{}
	for _, b := range r.ForSymbol(symbol) {
		if b.Lookback > need[b.Timeframe] {
			need[b.Timeframe] = b.Lookback
		}
	}
	out := make([]TimeframeDemand, 0, len(need))
	for tf, n := range need {
		out = append(out, TimeframeDemand{Timeframe: tf, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timeframe.Duration() < out[j].Timeframe.Duration() })
	return out
}

// TimeframeDemand is how many candles of a timeframe must be fetched.
type TimeframeDemand struct {
	Timeframe market.Timeframe
	Count     int
}

// StartAll activates every binding.
func (r *Registry) StartAll() {
	for _, b := range r.All() {
		b.Start()
	}
}

// StopAll deactivates every binding.
func (r *Registry) StopAll() {
	for _, b := range r.All() {
		b.Stop()
	}
}
