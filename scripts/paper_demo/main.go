package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/account"
	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/engine"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/reconciliation"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/db"
	"trading-orchestrator/pkg/logger"
)

// paper_demo runs a handful of orchestrator cycles against generated prices
// and a paper account, printing each cycle summary. Nothing leaves the
// process; the database is in memory.
//
// Usage (from the module root):
//
//	go run ./scripts/paper_demo -cycles 5 -symbols EURUSD,XAUUSD
func main() {
	cycles := flag.Int("cycles", 5, "number of cycles to run")
	interval := flag.Duration("interval", time.Second, "pause between cycles")
	balance := flag.Float64("balance", 10000, "paper starting balance")
	logLevel := flag.String("log", "warn", "log level")
	flag.Parse()

	log, err := logger.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(*cycles, *interval, *balance, log); err != nil {
		log.Fatal("paper_demo_failed", zap.Error(err))
	}
}

func run(cycles int, interval time.Duration, balance float64, log *zap.Logger) error {
	ctx := context.Background()
	trading := strategy.DefaultConfigFile()

	database, err := db.New(":memory:")
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	symbols := make([]string, 0, len(trading.Symbols))
	for s := range trading.Symbols {
		symbols = append(symbols, s)
	}
	paper := broker.NewPaper(broker.NewSyntheticFeed(symbols), broker.PaperConfig{
		InitialBalance: balance,
		Symbols:        trading.Symbols,
	}, log)

	bus := events.NewBus()
	stream, unsub := bus.Subscribe(256, events.TradeOpened, events.TradeClosed, events.TradeRejected)
	defer unsub()

	analytics := brain.New(log)
	killSwitch := risk.NewKillSwitch(paper, paper, bus, log)
	riskMgr := risk.NewManager(risk.DefaultConfig(), risk.Deps{
		Account:    paper,
		Positions:  paper,
		Symbols:    trading.Symbols,
		Store:      database,
		KillSwitch: killSwitch,
	}, log)
	tracker := position.NewTracker()

	eng := engine.New(engine.Config{
		Interval: interval,
		DryRun:   true,
		Trading:  trading,
		Version:  "paper-demo",
	}, engine.Deps{
		Bridge:  paper,
		Risk:    riskMgr,
		Store:   database,
		Tracker: tracker,
		Reconciler: reconciliation.New(reconciliation.Config{
			Tracker:   tracker,
			Bridge:    paper,
			Store:     database,
			Risk:      riskMgr,
			Analytics: analytics,
			Bus:       bus,
		}, log),
		Account:   account.NewManager(paper, time.Second, nil, log),
		Analytics: analytics,
		Bus:       bus,
	}, log)

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for i := 0; i < cycles; i++ {
		summary := eng.RunCycle(ctx)
		if summary == nil {
			fmt.Println("market closed; no cycle ran")
		} else if err := enc.Encode(summary); err != nil {
			return err
		}
		drain(stream)
		if i < cycles-1 {
			time.Sleep(interval)
		}
	}

	fmt.Printf("\nopen trades: %d\n", len(eng.OpenTrades()))
	state := analytics.State()
	fmt.Printf("analytics: cycles=%d opened=%d closed=%d\n", state.Cycles, state.OpenedSeen, state.ClosedSeen)
	return nil
}

func drain(stream <-chan events.Event) {
	for {
		select {
		case ev := <-stream:
			fmt.Printf("event %s %v\n", ev.Type, ev.Data)
		default:
			return
		}
	}
}
