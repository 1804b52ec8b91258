package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/events"
)

// PositionLister reports broker-side open positions.
type PositionLister interface {
	OpenPositions(ctx context.Context) ([]broker.Position, error)
}

// KillSwitchStatus is the externally visible state.
type KillSwitchStatus struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// KillSwitch blocks new trade approval while active and can flatten the
// account on activation.
type KillSwitch struct {
	positions PositionLister
	closer    broker.PositionCloser
	bus       events.Publisher
	log       *zap.Logger

	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time
}

func NewKillSwitch(positions PositionLister, closer broker.PositionCloser, bus events.Publisher, log *zap.Logger) *KillSwitch {
	return &KillSwitch{
		positions: positions,
		closer:    closer,
		bus:       bus,
		log:       log.Named("kill_switch"),
	}
}

// Activate arms the switch. With closeAll every open broker position is
// closed; the count of closed positions is returned along with any close
// failures joined together. Activating an armed switch only closes.
func (k *KillSwitch) Activate(ctx context.Context, reason string, closeAll bool) (int, error) {
	k.mu.Lock()
	already := k.active
	if !already {
		k.active = true
		k.reason = reason
		k.activatedAt = time.Now().UTC()
	}
	k.mu.Unlock()

	if !already {
		k.log.Error("kill_switch_triggered", zap.String("reason", reason), zap.Bool("close_all", closeAll))
		if k.bus != nil {
			k.bus.Publish(events.New(events.KillSwitchTriggered, "risk", events.SeverityCritical,
				map[string]any{"reason": reason, "close_all": closeAll}))
		}
	}
	if !closeAll {
		return 0, nil
	}
	return k.closeAll(ctx)
}

func (k *KillSwitch) closeAll(ctx context.Context) (int, error) {
	if k.positions == nil || k.closer == nil {
		return 0, errors.New("kill switch: no broker to close positions")
	}
	open, err := k.positions.OpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("kill switch: list positions: %w", err)
	}
	var (
		closed int
		errs   []error
	)
	for _, p := range open {
		if err := k.closer.ClosePosition(ctx, p.Ticket); err != nil {
			k.log.Error("kill_switch_close_failed", zap.Int64("ticket", int64(p.Ticket)), zap.Error(err))
			errs = append(errs, fmt.Errorf("ticket %d: %w", p.Ticket, err))
			continue
		}
		closed++
	}
	k.log.Warn("kill_switch_flattened", zap.Int("closed", closed), zap.Int("failed", len(errs)))
	return closed, errors.Join(errs...)
}

// Reset disarms the switch. Reports whether it was active.
func (k *KillSwitch) Reset(note string) bool {
	k.mu.Lock()
	was := k.active
	k.active = false
	k.reason = ""
	k.activatedAt = time.Time{}
	k.mu.Unlock()

	if was {
		k.log.Info("kill_switch_reset", zap.String("note", note))
		if k.bus != nil {
			k.bus.Publish(events.New(events.KillSwitchReset, "risk", events.SeverityWarning,
				map[string]any{"note": note}))
		}
	}
	return was
}

func (k *KillSwitch) Active() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *KillSwitch) Status() KillSwitchStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	st := KillSwitchStatus{Active: k.active, Reason: k.reason}
	if k.active {
		at := k.activatedAt
		st.ActivatedAt = &at
	}
	return st
}
