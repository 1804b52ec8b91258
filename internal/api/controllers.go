package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-orchestrator/internal/engine"
	"trading-orchestrator/internal/strategy"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q listQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultListLimit
	case q.Limit > maxListLimit:
		return maxListLimit
	default:
		return q.Limit
	}
}

type killSwitchRequest struct {
	Reason   string `json:"reason" binding:"required,min=1,max=200"`
	CloseAll bool   `json:"close_all"`
}

type resetRequest struct {
	Note string `json:"note"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func unavailable(c *gin.Context, what string) {
	respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", what+" not configured")
}

func (s *Server) callCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.CallTimeout)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Engine.Status())
}

func (s *Server) getVersion(c *gin.Context) {
	st := s.opts.Engine.Status()
	c.JSON(http.StatusOK, gin.H{"version": st.Version, "server_time": st.ServerTime})
}

// getTradingSymbols lists the symbols the engine trades, every configured
// symbol, and the per-symbol sizing and stop table.
func (s *Server) getTradingSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_symbols":    s.opts.Engine.Status().Symbols,
		"supported_symbols": s.opts.Symbols.Names(),
		"symbols":           s.opts.Symbols,
	})
}

func (s *Server) getLatestCycle(c *gin.Context) {
	summary, ok := s.opts.Engine.LatestCycle()
	if !ok {
		respondError(c, http.StatusNotFound, "NO_CYCLE", "no cycle has completed yet")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getMetrics(c *gin.Context) {
	out := gin.H{}
	if s.opts.Metrics != nil {
		out["system"] = s.opts.Metrics.Snapshot()
	}
	if s.opts.Notifier != nil {
		out["notify"] = s.opts.Notifier.Stats()
	}
	if s.opts.Bus != nil {
		out["events_dropped"] = s.opts.Bus.Dropped()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.opts.Engine.Bindings()})
}

func (s *Server) startStrategy(c *gin.Context) { s.setStrategyActive(c, true) }

func (s *Server) stopStrategy(c *gin.Context) { s.setStrategyActive(c, false) }

func (s *Server) setStrategyActive(c *gin.Context, active bool) {
	code, err := strategy.ParseCode(c.Param("code"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_STRATEGY", err.Error())
		return
	}
	key := strategy.BindingKey{Symbol: strings.ToUpper(c.Param("symbol")), Code: code}

	ctx, cancel := s.callCtx(c)
	defer cancel()
	if err := s.opts.Engine.SetBindingActive(ctx, key, active); err != nil {
		if errors.Is(err, engine.ErrUnknownBinding) {
			respondError(c, http.StatusNotFound, "UNKNOWN_STRATEGY", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": key.String(), "active": active})
}

func (s *Server) getOpenTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.opts.Engine.OpenTrades()})
}

func (s *Server) getRecentTrades(c *gin.Context) {
	if s.opts.Store == nil {
		unavailable(c, "store")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	ctx, cancel := s.callCtx(c)
	defer cancel()
	trades, err := s.opts.Store.ListRecentTrades(ctx, q.limit())
	if err != nil {
		s.log.Error("list_recent_trades_failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getPerformance(c *gin.Context) {
	if s.opts.Store == nil {
		unavailable(c, "store")
		return
	}
	ctx, cancel := s.callCtx(c)
	defer cancel()
	perf, err := s.opts.Store.GetStrategyPerformance(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(perf))
	for _, p := range perf {
		out = append(out, gin.H{"performance": p, "win_rate": p.WinRate()})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) getAccountSnapshots(c *gin.Context) {
	if s.opts.Store == nil {
		unavailable(c, "store")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	ctx, cancel := s.callCtx(c)
	defer cancel()
	snaps, err := s.opts.Store.ListAccountSnapshots(ctx, q.limit())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) getBrainState(c *gin.Context) {
	if s.opts.Analytics == nil {
		unavailable(c, "analytics")
		return
	}
	c.JSON(http.StatusOK, s.opts.Analytics.State())
}

func (s *Server) getBrainThoughts(c *gin.Context) {
	if s.opts.Analytics == nil {
		unavailable(c, "analytics")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	c.JSON(http.StatusOK, gin.H{"thoughts": s.opts.Analytics.Thoughts(q.limit())})
}

func (s *Server) getTick(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if s.opts.Ticks != nil {
		if tick, age, ok := s.opts.Ticks.GetWithAge(symbol); ok && age <= s.opts.TickMaxAge {
			c.Header("X-Tick-Source", "cache")
			c.JSON(http.StatusOK, tick)
			return
		}
	}
	if s.opts.Market == nil {
		unavailable(c, "market")
		return
	}
	ctx, cancel := s.callCtx(c)
	defer cancel()
	tick, err := s.opts.Market.Tick(ctx, symbol)
	if err != nil {
		respondError(c, http.StatusBadGateway, "BRIDGE_ERROR", err.Error())
		return
	}
	c.Header("X-Tick-Source", "bridge")
	c.JSON(http.StatusOK, tick)
}

func (s *Server) getPositions(c *gin.Context) {
	if s.opts.Market == nil {
		unavailable(c, "market")
		return
	}
	ctx, cancel := s.callCtx(c)
	defer cancel()
	positions, err := s.opts.Market.OpenPositions(ctx)
	if err != nil {
		respondError(c, http.StatusBadGateway, "BRIDGE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getRisk(c *gin.Context) {
	if s.opts.Risk == nil {
		unavailable(c, "risk manager")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.opts.Risk.Metrics(),
		"limits":  s.opts.Risk.Config(),
	})
}

func (s *Server) getKillSwitch(c *gin.Context) {
	if s.opts.KillSwitch == nil {
		unavailable(c, "kill switch")
		return
	}
	c.JSON(http.StatusOK, s.opts.KillSwitch.Status())
}

func (s *Server) activateKillSwitch(c *gin.Context) {
	if s.opts.KillSwitch == nil {
		unavailable(c, "kill switch")
		return
	}
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	// Closing every position can outlast one call timeout.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 4*s.opts.CallTimeout)
	defer cancel()
	closed, err := s.opts.KillSwitch.Activate(ctx, req.Reason, req.CloseAll)
	resp := gin.H{"status": s.opts.KillSwitch.Status(), "closed": closed}
	if err != nil {
		s.log.Error("kill_switch_close_failed", zap.Error(err))
		resp["error"] = err.Error()
		c.JSON(http.StatusMultiStatus, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) resetKillSwitch(c *gin.Context) {
	if s.opts.KillSwitch == nil {
		unavailable(c, "kill switch")
		return
	}
	var req resetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	if !s.opts.KillSwitch.Reset(req.Note) {
		respondError(c, http.StatusConflict, "NOT_ACTIVE", "kill switch is not active")
		return
	}
	c.JSON(http.StatusOK, s.opts.KillSwitch.Status())
}
