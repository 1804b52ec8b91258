package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AccountSnapshot is one per-cycle balance/equity sample.
type AccountSnapshot struct {
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	OpenPositions int       `json:"open_positions"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertAccountSnapshotSQL is exported for batched writers.
const InsertAccountSnapshotSQL = `INSERT INTO account_snapshots (balance, equity, drawdown_pct, open_positions, created_at) VALUES (?, ?, ?, ?, ?)`

// AccountSnapshotArgs returns the positional arguments for InsertAccountSnapshotSQL.
func AccountSnapshotArgs(s AccountSnapshot) []any {
	return []any{s.Balance, s.Equity, s.DrawdownPct, s.OpenPositions, toMillis(s.CreatedAt)}
}

func (d *Database) InsertAccountSnapshot(ctx context.Context, s AccountSnapshot) error {
	_, err := d.DB.ExecContext(ctx, InsertAccountSnapshotSQL, AccountSnapshotArgs(s)...)
	return err
}

// ListAccountSnapshots returns the newest snapshots first.
func (d *Database) ListAccountSnapshots(ctx context.Context, limit int) ([]AccountSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT balance, equity, drawdown_pct, open_positions, created_at
		FROM account_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AccountSnapshot
	for rows.Next() {
		var (
			s  AccountSnapshot
			ts int64
		)
		if err := rows.Scan(&s.Balance, &s.Equity, &s.DrawdownPct, &s.OpenPositions, &ts); err != nil {
			return nil, err
		}
		s.CreatedAt = fromMillis(ts)
		res = append(res, s)
	}
	return res, rows.Err()
}

// RiskMetrics are the daily counters owned by the risk manager.
type RiskMetrics struct {
	Date              string    `json:"date"` // YYYY-MM-DD, UTC
	TradesToday       int       `json:"trades_today"`
	RealizedPnL       float64   `json:"realized_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	KillSwitch        bool      `json:"kill_switch"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (d *Database) SaveRiskMetrics(ctx context.Context, m RiskMetrics) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, trades_today, realized_pnl, consecutive_losses, kill_switch, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades_today = excluded.trades_today,
			realized_pnl = excluded.realized_pnl,
			consecutive_losses = excluded.consecutive_losses,
			kill_switch = excluded.kill_switch,
			updated_at = excluded.updated_at
	`, m.Date, m.TradesToday, m.RealizedPnL, m.ConsecutiveLosses, m.KillSwitch, toMillis(m.UpdatedAt))
	return err
}

// GetRiskMetrics returns the counters for date, or nil when none were saved.
func (d *Database) GetRiskMetrics(ctx context.Context, date string) (*RiskMetrics, error) {
	var (
		m  RiskMetrics
		ts int64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, trades_today, realized_pnl, consecutive_losses, kill_switch, updated_at
		FROM risk_metrics WHERE date = ?`, date).
		Scan(&m.Date, &m.TradesToday, &m.RealizedPnL, &m.ConsecutiveLosses, &m.KillSwitch, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.UpdatedAt = fromMillis(ts)
	return &m, nil
}

// Binding is the catalog row of a registered strategy binding.
type Binding struct {
	Key          string  `json:"key"`
	Symbol       string  `json:"symbol"`
	StrategyCode string  `json:"strategy_code"`
	StrategyName string  `json:"strategy_name"`
	Timeframe    string  `json:"timeframe"`
	Lookback     int     `json:"lookback"`
	Lots         float64 `json:"lots"`
	IsActive     bool    `json:"is_active"`
	Params       string  `json:"params"`
}

func (d *Database) UpsertBinding(ctx context.Context, b Binding) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_bindings (
			binding_key, symbol, strategy_code, strategy_name, timeframe, lookback, lots, is_active, params, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(binding_key) DO UPDATE SET
			strategy_name = excluded.strategy_name,
			timeframe = excluded.timeframe,
			lookback = excluded.lookback,
			lots = excluded.lots,
			is_active = excluded.is_active,
			params = excluded.params,
			updated_at = excluded.updated_at
	`, b.Key, b.Symbol, b.StrategyCode, b.StrategyName, b.Timeframe, b.Lookback, b.Lots, b.IsActive, b.Params, toMillis(time.Now()))
	return err
}

func (d *Database) ListBindings(ctx context.Context) ([]Binding, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT binding_key, symbol, strategy_code, strategy_name, timeframe, lookback, lots, is_active, params
		FROM strategy_bindings ORDER BY binding_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Binding
	for rows.Next() {
		var (
			b      Binding
			params sql.NullString
		)
		if err := rows.Scan(&b.Key, &b.Symbol, &b.StrategyCode, &b.StrategyName, &b.Timeframe, &b.Lookback, &b.Lots, &b.IsActive, &params); err != nil {
			return nil, err
		}
		b.Params = params.String
		res = append(res, b)
	}
	return res, rows.Err()
}
