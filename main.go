package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/account"
	"trading-orchestrator/internal/api"
	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/engine"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/monitor"
	"trading-orchestrator/internal/notify"
	"trading-orchestrator/internal/persistence"
	"trading-orchestrator/internal/position"
	"trading-orchestrator/internal/reconciliation"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/internal/strategy"
	"trading-orchestrator/pkg/cache"
	"trading-orchestrator/pkg/config"
	"trading-orchestrator/pkg/db"
	"trading-orchestrator/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("orchestrator_failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	trading, err := loadTradingConfig(cfg.TradingConfigPath)
	if err != nil {
		return err
	}
	riskCfg, err := risk.LoadConfig(cfg.TradingConfigPath)
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}

	// Database
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	snapshots := persistence.NewBatchWriter(database.DB, 50, 2*time.Second, log)

	bridge := newBridge(cfg, trading, log)

	bus := events.NewBus()
	dispatcher := notify.NewDispatcher(cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.CallTimeout, log)
	analytics := brain.New(log)
	metrics := monitor.NewSystemMetrics()
	ticks := cache.New[market.Tick]()

	killSwitch := risk.NewKillSwitch(bridge, bridge, bus, log)
	riskMgr := risk.NewManager(riskCfg, risk.Deps{
		Account:    bridge,
		Positions:  bridge,
		Symbols:    trading.Symbols,
		Store:      database,
		KillSwitch: killSwitch,
	}, log)

	tracker := position.NewTracker()
	accounts := account.NewManager(bridge, 2*time.Second, snapshots, log)
	reconciler := reconciliation.New(reconciliation.Config{
		Tracker:     tracker,
		Bridge:      bridge,
		Store:       database,
		Risk:        riskMgr,
		Analytics:   analytics,
		Notifier:    dispatcher,
		Bus:         bus,
		CallTimeout: cfg.CallTimeout,
	}, log)

	sinks := []monitor.AlertSink{monitor.LogSink{Log: log.Named("alerts")}}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, monitor.NewWebhookSink(cfg.AlertWebhookURL, cfg.CallTimeout))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	(&monitor.Monitor{
		Bus:         bus,
		Sinks:       sinks,
		MinSeverity: events.SeverityWarning,
		Submitter:   dispatcher,
		Metrics:     metrics,
		Log:         log.Named("monitor"),
	}).Start(ctx)

	eng := engine.New(engine.Config{
		Interval:    cfg.LoopInterval,
		CallTimeout: cfg.CallTimeout,
		DryRun:      cfg.DryRun,
		Symbols:     cfg.Symbols,
		Trading:     trading,
		Version:     buildVersion,
	}, engine.Deps{
		Bridge:     bridge,
		Risk:       riskMgr,
		Store:      database,
		Tracker:    tracker,
		Reconciler: reconciler,
		Account:    accounts,
		Analytics:  analytics,
		Notifier:   dispatcher,
		Bus:        bus,
		Ticks:      ticks,
		Metrics:    metrics,
	}, log)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	loopErr := make(chan error, 1)
	go func() { loopErr <- eng.Run(ctx) }()

	server := api.NewServer(api.Options{
		Engine:      eng,
		Bus:         bus,
		Store:       database,
		Analytics:   analytics,
		Risk:        riskMgr,
		KillSwitch:  killSwitch,
		Market:      bridge,
		Ticks:       ticks,
		Metrics:     metrics,
		Notifier:    dispatcher,
		Symbols:     trading.Symbols,
		RateLimit:   cfg.APIRateLimit,
		Burst:       cfg.APIBurst,
		CallTimeout: cfg.CallTimeout,
		TickMaxAge:  2 * cfg.LoopInterval,
	}, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(":" + cfg.Port) }()

	log.Info("orchestrator_started",
		zap.String("version", buildVersion),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("port", cfg.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutting_down", zap.String("signal", sig.String()))
	case err := <-loopErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("engine loop: %w", err)
		}
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api_shutdown_failed", zap.Error(err))
	}
	eng.Stop(shutdownCtx)
	cancel()
	dispatcher.Close()
	if err := snapshots.Close(); err != nil {
		log.Warn("snapshot_flush_failed", zap.Error(err))
	}
	log.Info("shutdown_complete")
	return runErr
}

func loadTradingConfig(path string) (*strategy.ConfigFile, error) {
	if path == "" {
		return strategy.DefaultConfigFile(), nil
	}
	trading, err := strategy.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load trading config: %w", err)
	}
	return trading, nil
}

// newBridge selects the broker: the REST bridge when live, otherwise a paper
// account fed by the bridge or by generated prices.
func newBridge(cfg *config.Config, trading *strategy.ConfigFile, log *zap.Logger) broker.Bridge {
	client := broker.NewClient(cfg.BridgeURL, cfg.BridgeTimeout, cfg.BridgeRateLimit, log)
	if !cfg.DryRun {
		return client
	}
	var feed broker.DataFeed = client
	if cfg.SyntheticFeed {
		symbols := cfg.Symbols
		if len(symbols) == 0 {
			for s := range trading.Symbols {
				symbols = append(symbols, s)
			}
		}
		feed = broker.NewSyntheticFeed(symbols)
	}
	return broker.NewPaper(feed, broker.PaperConfig{
		InitialBalance: cfg.PaperBalance,
		Symbols:        trading.Symbols,
	}, log)
}
