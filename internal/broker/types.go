package broker

import (
	"context"
	"errors"
	"time"

	"trading-orchestrator/internal/market"
)

var (
	ErrNotConnected = errors.New("bridge not connected")
	ErrNotFound     = errors.New("not found")
)

// RetcodeDone is the MT5 trade server code for a completed request.
const RetcodeDone = 10009

// Ticket is the broker-assigned position identifier.
type Ticket int64

// OrderRequest is a market order with mandatory protective prices.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"type"`
	Lots       float64          `json:"volume"`
	StopLoss   float64          `json:"sl"`
	TakeProfit float64          `json:"tp"`
	Comment    string           `json:"comment"`
}

// OrderResult confirms a filled order.
type OrderResult struct {
	Ticket Ticket    `json:"ticket"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Position is an open broker position.
type Position struct {
	Ticket     Ticket           `json:"ticket"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Lots       float64          `json:"lots"`
	OpenPrice  float64          `json:"open_price"`
	StopLoss   float64          `json:"sl"`
	TakeProfit float64          `json:"tp"`
	Profit     float64          `json:"profit"`
	OpenTime   time.Time        `json:"open_time"`
	Comment    string           `json:"comment"`
}

// Deal is the realised outcome of a closed position.
type Deal struct {
	Ticket     Ticket    `json:"ticket"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
}

// DataFeed supplies quotes and candles.
type DataFeed interface {
	Tick(ctx context.Context, symbol string) (market.Tick, error)
	Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) (market.Series, error)
	Symbols(ctx context.Context) ([]string, error)
}

// OrderManager places orders and lists open positions. A nil result with a
// nil error is treated by callers as a failed placement.
type OrderManager interface {
	OpenPosition(ctx context.Context, req OrderRequest) (*OrderResult, error)
	OpenPositions(ctx context.Context) ([]Position, error)
}

// PositionCloser closes a position at market.
type PositionCloser interface {
	ClosePosition(ctx context.Context, ticket Ticket) error
}

// AccountInfo reports account balances.
type AccountInfo interface {
	Balance(ctx context.Context) (float64, error)
	Equity(ctx context.Context) (float64, error)
}

// DealHistory looks up the realised result of a closed ticket; ErrNotFound
// when the broker has no record.
type DealHistory interface {
	Deal(ctx context.Context, ticket Ticket) (*Deal, error)
}

// Connector manages the bridge session.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Bridge is the full broker surface used by the orchestrator.
type Bridge interface {
	Connector
	DataFeed
	OrderManager
	PositionCloser
	AccountInfo
	DealHistory
}
