package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyPerformance aggregates closed trades per (strategy, symbol).
type StrategyPerformance struct {
	StrategyCode string          `json:"strategy_code"`
	Symbol       string          `json:"symbol"`
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// WinRate is wins over trades in percent.
func (p StrategyPerformance) WinRate() float64 {
	if p.Trades == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Trades) * 100
}

// UpdateStrategyPerformance folds one closed trade into the aggregate row.
// A trade counts as a win when net is strictly positive.
func (d *Database) UpdateStrategyPerformance(ctx context.Context, code, symbol string, net decimal.Decimal) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := scanPerformance(tx.QueryRowContext(ctx, `
		SELECT strategy_code, symbol, trades, wins, losses, net_profit, gross_profit, gross_loss, updated_at
		FROM strategy_performance WHERE strategy_code = ? AND symbol = ?`, code, symbol))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = &StrategyPerformance{StrategyCode: code, Symbol: symbol}
	case err != nil:
		return fmt.Errorf("load performance %s/%s: %w", code, symbol, err)
	}

	cur.Trades++
	cur.NetProfit = cur.NetProfit.Add(net)
	if net.IsPositive() {
		cur.Wins++
		cur.GrossProfit = cur.GrossProfit.Add(net)
	} else {
		cur.Losses++
		cur.GrossLoss = cur.GrossLoss.Add(net.Abs())
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_performance (
			strategy_code, symbol, trades, wins, losses, net_profit, gross_profit, gross_loss, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_code, symbol) DO UPDATE SET
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			net_profit = excluded.net_profit,
			gross_profit = excluded.gross_profit,
			gross_loss = excluded.gross_loss,
			updated_at = excluded.updated_at
	`, code, symbol, cur.Trades, cur.Wins, cur.Losses, cur.NetProfit.String(),
		cur.GrossProfit.String(), cur.GrossLoss.String(), toMillis(time.Now())); err != nil {
		return fmt.Errorf("save performance %s/%s: %w", code, symbol, err)
	}
	return tx.Commit()
}

// GetStrategyPerformance returns every aggregate row ordered by strategy then symbol.
func (d *Database) GetStrategyPerformance(ctx context.Context) ([]StrategyPerformance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT strategy_code, symbol, trades, wins, losses, net_profit, gross_profit, gross_loss, updated_at
		FROM strategy_performance ORDER BY strategy_code, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StrategyPerformance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func scanPerformance(s scanner) (*StrategyPerformance, error) {
	var (
		p                   StrategyPerformance
		net, gross, grossLo string
		updated             int64
	)
	if err := s.Scan(&p.StrategyCode, &p.Symbol, &p.Trades, &p.Wins, &p.Losses, &net, &gross, &grossLo, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.NetProfit, err = decimal.NewFromString(net); err != nil {
		return nil, err
	}
	if p.GrossProfit, err = decimal.NewFromString(gross); err != nil {
		return nil, err
	}
	if p.GrossLoss, err = decimal.NewFromString(grossLo); err != nil {
		return nil, err
	}
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}
