package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade statuses.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

// Trade is one broker position opened by a strategy binding.
type Trade struct {
	ID           string          `json:"id"`
	Ticket       int64           `json:"ticket"`
	StrategyCode string          `json:"strategy_code"`
	Symbol       string          `json:"symbol"`
	Direction    string          `json:"direction"`
	Lots         float64         `json:"lots"`
	EntryPrice   float64         `json:"entry_price"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	Confidence   float64         `json:"confidence"`
	Reason       string          `json:"reason"`
	Status       string          `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ExitPrice    float64         `json:"exit_price,omitempty"`
	Profit       float64         `json:"profit,omitempty"`
	Commission   float64         `json:"commission,omitempty"`
	Swap         float64         `json:"swap,omitempty"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// TradeClose carries the realised figures of a closed position.
type TradeClose struct {
	ExitPrice  float64
	Profit     float64
	Commission float64
	Swap       float64
	NetProfit  decimal.Decimal
	ClosedAt   time.Time
}

// CreateTrade inserts an open trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, ticket, strategy_code, symbol, direction, lots, entry_price,
			stop_loss, take_profit, confidence, reason, status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Ticket, t.StrategyCode, t.Symbol, t.Direction, t.Lots, t.EntryPrice,
		t.StopLoss, t.TakeProfit, t.Confidence, t.Reason, t.Status, toMillis(t.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// CloseTrade marks an open trade closed with its realised figures.
func (d *Database) CloseTrade(ctx context.Context, id string, c TradeClose) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, exit_price = ?, profit = ?, commission = ?, swap = ?, net_profit = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, TradeClosed, c.ExitPrice, c.Profit, c.Commission, c.Swap, c.NetProfit.String(), toMillis(c.ClosedAt), id, TradeOpen)
	if err != nil {
		return fmt.Errorf("close trade %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close trade %s: %w", id, ErrTradeNotFound)
	}
	return nil
}

const tradeColumns = `id, ticket, strategy_code, symbol, direction, lots, entry_price, stop_loss,
	take_profit, confidence, reason, status, opened_at, exit_price, profit, commission, swap,
	net_profit, closed_at`

// GetTrade returns one trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrTradeNotFound)
	}
	return t, err
}

// ListOpenTrades returns every trade still marked open, oldest first.
func (d *Database) ListOpenTrades(ctx context.Context) ([]Trade, error) {
	return d.listTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY opened_at`, TradeOpen)
}

// ListRecentTrades returns the latest trades regardless of status.
func (d *Database) ListRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.listTrades(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY opened_at DESC LIMIT ?`, limit)
}

func (d *Database) listTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (*Trade, error) {
	var (
		t          Trade
		openedAt   int64
		exit       sql.NullFloat64
		profit     sql.NullFloat64
		commission sql.NullFloat64
		swap       sql.NullFloat64
		net        sql.NullString
		closedAt   sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.Ticket, &t.StrategyCode, &t.Symbol, &t.Direction, &t.Lots, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit, &t.Confidence, &t.Reason, &t.Status, &openedAt,
		&exit, &profit, &commission, &swap, &net, &closedAt); err != nil {
		return nil, err
	}
	t.OpenedAt = fromMillis(openedAt)
	t.ExitPrice = exit.Float64
	t.Profit = profit.Float64
	t.Commission = commission.Float64
	t.Swap = swap.Float64
	if net.Valid {
		v, err := decimal.NewFromString(net.String)
		if err != nil {
			return nil, fmt.Errorf("trade %s net_profit: %w", t.ID, err)
		}
		t.NetProfit = v
	}
	if closedAt.Valid {
		ts := fromMillis(closedAt.Int64)
		t.ClosedAt = &ts
	}
	return &t, nil
}
