// Package api is the operations HTTP surface of the orchestrator: status,
// cycle summaries, strategy bindings, trades, analytics, the kill switch and
// a websocket stream of bus events. It has no authentication.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-orchestrator/internal/brain"
	"trading-orchestrator/internal/broker"
	"trading-orchestrator/internal/engine"
	"trading-orchestrator/internal/events"
	"trading-orchestrator/internal/market"
	"trading-orchestrator/internal/monitor"
	"trading-orchestrator/internal/notify"
	"trading-orchestrator/internal/risk"
	"trading-orchestrator/pkg/db"
)

// Store is the read side of storage used by the API.
type Store interface {
	GetStrategyPerformance(ctx context.Context) ([]db.StrategyPerformance, error)
	ListRecentTrades(ctx context.Context, limit int) ([]db.Trade, error)
	ListAccountSnapshots(ctx context.Context, limit int) ([]db.AccountSnapshot, error)
}

// Analytics exposes the analytics service state.
type Analytics interface {
	State() brain.State
	Thoughts(limit int) []brain.Thought
}

// RiskView exposes risk counters and limits.
type RiskView interface {
	Metrics() risk.Metrics
	Config() risk.Config
}

// KillSwitch is the emergency halt control.
type KillSwitch interface {
	Activate(ctx context.Context, reason string, closeAll bool) (int, error)
	Reset(note string) bool
	Status() risk.KillSwitchStatus
}

// Market is the live broker view.
type Market interface {
	Tick(ctx context.Context, symbol string) (market.Tick, error)
	OpenPositions(ctx context.Context) ([]broker.Position, error)
}

// TickCache holds the ticks fetched by the latest cycles.
type TickCache interface {
	GetWithAge(symbol string) (market.Tick, time.Duration, bool)
}

// QueueStats reports the notification queue.
type QueueStats interface {
	Stats() notify.Stats
}

// Options wires a Server. Every collaborator except Engine may be nil; the
// matching routes answer 503.
type Options struct {
	Engine      engine.Service
	Bus         *events.Bus
	Store       Store
	Analytics   Analytics
	Risk        RiskView
	KillSwitch  KillSwitch
	Market      Market
	Ticks       TickCache
	Metrics     *monitor.SystemMetrics
	Notifier    QueueStats
	Symbols     market.SymbolTable // nil serves the default table
	RateLimit   float64
	Burst       int
	CallTimeout time.Duration
	TickMaxAge  time.Duration // older cached ticks are refetched from Market
}

// Server wires HTTP endpoints around the orchestrator.
type Server struct {
	Router *gin.Engine
	opts   Options
	log    *zap.Logger
	http   *http.Server

	// done is closed by Shutdown; hijacked websocket connections watch it.
	done      chan struct{}
	closeOnce sync.Once
}

func NewServer(opts Options, log *zap.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.TickMaxAge <= 0 {
		opts.TickMaxAge = 10 * time.Second
	}
	if opts.Symbols == nil {
		opts.Symbols = market.DefaultSymbolTable()
	}
	log = log.Named("api")

	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Metrics)) // needs the request id
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.Burst), log))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, opts: opts, log: log, done: make(chan struct{})}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/version", s.getVersion)
		api.GET("/settings/trading-symbols", s.getTradingSymbols)
		api.GET("/cycles/latest", s.getLatestCycle)
		api.GET("/metrics", s.getMetrics)

		api.GET("/strategies", s.getStrategies)
		api.POST("/strategies/:symbol/:code/start", s.startStrategy)
		api.POST("/strategies/:symbol/:code/stop", s.stopStrategy)

		api.GET("/trades/open", s.getOpenTrades)
		api.GET("/trades/recent", s.getRecentTrades)
		api.GET("/performance", s.getPerformance)
		api.GET("/account/snapshots", s.getAccountSnapshots)

		api.GET("/brain/state", s.getBrainState)
		api.GET("/brain/thoughts", s.getBrainThoughts)

		api.GET("/tick/:symbol", s.getTick)
		api.GET("/positions", s.getPositions)

		api.GET("/risk", s.getRisk)
		api.GET("/kill-switch", s.getKillSwitch)
		api.POST("/kill-switch", s.activateKillSwitch)
		api.POST("/kill-switch/reset", s.resetKillSwitch)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.opts.Engine.State()})
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("api_listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes websocket streams, stops accepting requests and waits for
// in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
