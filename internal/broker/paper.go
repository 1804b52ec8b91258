package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/market"
)

// PaperConfig tunes the dry-run simulation.
type PaperConfig struct {
	InitialBalance   float64
	CommissionPerLot float64 // charged once on close
	Symbols          market.SymbolTable
}

type paperPosition struct {
	Position
	contract float64
}

// Paper is a dry-run bridge: market data comes from the wrapped feed, fills
// and stop/target exits are simulated against its ticks.
type Paper struct {
	feed DataFeed
	cfg  PaperConfig
	log  *zap.Logger

	mu         sync.Mutex
	balance    float64
	positions  map[Ticket]*paperPosition
	deals      map[Ticket]Deal
	lastTick   map[string]market.Tick
	nextTicket Ticket
	connected  bool
}

// NewPaper wraps feed with simulated execution.
func NewPaper(feed DataFeed, cfg PaperConfig, log *zap.Logger) *Paper {
	if cfg.Symbols == nil {
		cfg.Symbols = market.DefaultSymbolTable()
	}
	return &Paper{
		feed:       feed,
		cfg:        cfg,
		log:        log.Named("paper"),
		balance:    cfg.InitialBalance,
		positions:  make(map[Ticket]*paperPosition),
		deals:      make(map[Ticket]Deal),
		lastTick:   make(map[string]market.Tick),
		nextTicket: 100000,
	}
}

func (p *Paper) Connect(ctx context.Context) error {
	if c, ok := p.feed.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *Paper) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	if c, ok := p.feed.(Connector); ok {
		return c.Disconnect(ctx)
	}
	return nil
}

func (p *Paper) Symbols(ctx context.Context) ([]string, error) { return p.feed.Symbols(ctx) }

func (p *Paper) Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) (market.Series, error) {
	return p.feed.Candles(ctx, symbol, tf, count)
}

// Tick fetches a quote and settles any position whose stop or target it crosses.
func (p *Paper) Tick(ctx context.Context, symbol string) (market.Tick, error) {
	t, err := p.feed.Tick(ctx, symbol)
	if err != nil {
		return t, err
	}
	p.mu.Lock()
	p.lastTick[symbol] = t
	p.settleLocked(t)
	p.mu.Unlock()
	return t, nil
}

func (p *Paper) OpenPosition(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}
	if req.Lots <= 0 {
		return nil, fmt.Errorf("invalid volume %.4f", req.Lots)
	}
	t, err := p.Tick(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper fill %s: %w", req.Symbol, err)
	}
	price := t.Ask
	if req.Direction == market.Sell {
		price = t.Bid
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTicket++
	ticket := p.nextTicket
	now := time.Now().UTC()
	p.positions[ticket] = &paperPosition{
		Position: Position{
			Ticket:     ticket,
			Symbol:     req.Symbol,
			Direction:  req.Direction,
			Lots:       req.Lots,
			OpenPrice:  price,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			OpenTime:   now,
			Comment:    req.Comment,
		},
		contract: p.contractSize(req.Symbol),
	}
	p.log.Info("paper_fill",
		zap.Int64("ticket", int64(ticket)),
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(req.Direction)),
		zap.Float64("lots", req.Lots),
		zap.Float64("price", price))
	return &OrderResult{Ticket: ticket, Price: price, Time: now}, nil
}

// OpenPositions refreshes quotes for held symbols, settles crossed stops and
// returns what remains open.
func (p *Paper) OpenPositions(ctx context.Context) ([]Position, error) {
	for _, sym := range p.heldSymbols() {
		if _, err := p.Tick(ctx, sym); err != nil {
			p.log.Debug("paper_tick_refresh_failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := pos.Position
		if t, ok := p.lastTick[pos.Symbol]; ok {
			cp.Profit = pos.pnl(closePrice(pos.Direction, t))
		}
		out = append(out, cp)
	}
	return out, nil
}

func (p *Paper) ClosePosition(ctx context.Context, ticket Ticket) error {
	p.mu.Lock()
	pos, ok := p.positions[ticket]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ticket %d: %w", ticket, ErrNotFound)
	}
	t, err := p.feed.Tick(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, still := p.positions[ticket]; !still {
		return nil
	}
	p.closeLocked(pos, closePrice(pos.Direction, t))
	return nil
}

func (p *Paper) Deal(ctx context.Context, ticket Ticket) (*Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deals[ticket]
	if !ok {
		return nil, fmt.Errorf("deal %d: %w", ticket, ErrNotFound)
	}
	return &d, nil
}

func (p *Paper) Balance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Equity is balance plus floating P&L at the last seen quotes.
func (p *Paper) Equity(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	eq := p.balance
	for _, pos := range p.positions {
		if t, ok := p.lastTick[pos.Symbol]; ok {
			eq += pos.pnl(closePrice(pos.Direction, t))
		}
	}
	return eq, nil
}

func (p *Paper) heldSymbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, pos := range p.positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			out = append(out, pos.Symbol)
		}
	}
	return out
}

func (p *Paper) settleLocked(t market.Tick) {
	for _, pos := range p.positions {
		if pos.Symbol != t.Symbol {
			continue
		}
		px := closePrice(pos.Direction, t)
		switch pos.Direction {
		case market.Buy:
			if pos.StopLoss > 0 && px <= pos.StopLoss {
				p.closeLocked(pos, pos.StopLoss)
			} else if pos.TakeProfit > 0 && px >= pos.TakeProfit {
				p.closeLocked(pos, pos.TakeProfit)
			}
		case market.Sell:
			if pos.StopLoss > 0 && px >= pos.StopLoss {
				p.closeLocked(pos, pos.StopLoss)
			} else if pos.TakeProfit > 0 && px <= pos.TakeProfit {
				p.closeLocked(pos, pos.TakeProfit)
			}
		}
	}
}

func (p *Paper) closeLocked(pos *paperPosition, exit float64) {
	profit := pos.pnl(exit)
	commission := p.cfg.CommissionPerLot * pos.Lots
	p.balance += profit - commission
	p.deals[pos.Ticket] = Deal{
		Ticket:     pos.Ticket,
		ExitPrice:  exit,
		Profit:     profit,
		Commission: commission,
		Time:       time.Now().UTC(),
	}
	delete(p.positions, pos.Ticket)
	p.log.Info("paper_close",
		zap.Int64("ticket", int64(pos.Ticket)),
		zap.String("symbol", pos.Symbol),
		zap.Float64("exit", exit),
		zap.Float64("profit", profit))
}

func (p *Paper) contractSize(symbol string) float64 {
	if c := p.cfg.Symbols.Lookup(symbol).ContractSize; c > 0 {
		return c
	}
	return 100000
}

func (pp *paperPosition) pnl(exit float64) float64 {
	return (exit - pp.OpenPrice) * pp.Direction.Sign() * pp.Lots * pp.contract
}

// closePrice is the side of the book a position closes against.
func closePrice(d market.Direction, t market.Tick) float64 {
	if d == market.Buy {
		return t.Bid
	}
	return t.Ask
}
