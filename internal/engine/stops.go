package engine

import (
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/strategy"
)

// EnforceStops returns the protective prices an order for sig must carry.
// Missing values are derived from atr with the symbol's multipliers in the
// signal's direction. ErrNoATR when a value is missing and atr is not
// positive; ErrInvalidStops when either final price is not positive.
func EnforceStops(sig strategy.Signal, atr float64, cfg market.SymbolConfig) (sl, tp float64, err error) {
	sl, tp = sig.StopLoss, sig.TakeProfit
	if sl <= 0 || tp <= 0 {
		if atr <= 0 {
			return 0, 0, ErrNoATR
		}
		sign := sig.Direction.Sign()
		if sl <= 0 {
			sl = sig.EntryPrice - sign*atr*cfg.SLATRMultiple
		}
		if tp <= 0 {
			tp = sig.EntryPrice + sign*atr*cfg.TPATRMultiple
		}
	}
	if sl <= 0 || tp <= 0 {
		return sl, tp, ErrInvalidStops
	}
	return sl, tp, nil
}

// OrderComment tags an order with its binding key, capped at the broker's
// comment length.
func OrderComment(key strategy.BindingKey) string {
	c := CommentPrefix + key.String()
	if len(c) > maxCommentLength {
		c = c[:maxCommentLength]
	}
	return c
}
