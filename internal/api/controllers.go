package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/perpcore/trading-core/internal/monitor"
	"github.com/perpcore/trading-core/internal/recovery"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/db"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// health reports the process's own liveness plus its two internal
// dependencies' connectivity: the event bus and the in-process cache. Both
// are local, in-memory structures with no network failure mode, so they
// report connected whenever the process is up; the field exists for a
// future networked deployment to populate honestly.
func (s *Server) health(c *gin.Context) {
	summary := "HEALTHY"
	if s.Breakers != nil {
		summary = s.Breakers.HealthSummary()
	}

	status := "ok"
	if summary == "CRITICAL" {
		status = "degraded"
	}

	busConnected := false
	subs := 0
	if s.Bus != nil {
		busConnected = s.Bus.Connected()
		subs = s.Bus.SubscriptionCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"summary": summary,
		"messageBus": gin.H{
			"connected":     busConnected,
			"subscriptions": subs,
		},
		"cache": gin.H{
			"connected": true,
		},
	})
}

// getCircuitBreakers returns every registered breaker's point-in-time
// status. Never fails: an unconfigured registry just returns an empty list.
func (s *Server) getCircuitBreakers(c *gin.Context) {
	statuses := []interface{}{}
	if s.Breakers != nil {
		for _, st := range s.Breakers.AllStatuses() {
			statuses = append(statuses, st)
		}
	}
	c.JSON(http.StatusOK, gin.H{"breakers": statuses})
}

// resetCircuitBreaker forces the named breaker back to CLOSED.
func (s *Server) resetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")
	if s.Breakers == nil {
		respondError(c, http.StatusServiceUnavailable, "BREAKERS_UNAVAILABLE", "circuit breaker registry not available")
		return
	}
	if err := s.Breakers.Reset(name); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("breaker %q reset", name)})
}

// getPositionRecovery returns the issues found on the monitor's most recent
// scan. Never fails: an unconfigured monitor just returns an empty list.
func (s *Server) getPositionRecovery(c *gin.Context) {
	issues := []recovery.PositionIssue{}
	if s.Recovery != nil {
		issues = s.Recovery.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

type recoverPositionRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Side   string `json:"side" binding:"required"`
	Action string `json:"action"`
}

// recoverPosition is the manual POST /api/position-recovery/recover
// operation: CLOSE or REDUCE one named position right away.
func (s *Server) recoverPosition(c *gin.Context) {
	var req recoverPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.Recovery == nil {
		respondError(c, http.StatusServiceUnavailable, "RECOVERY_UNAVAILABLE", "position recovery monitor not available")
		return
	}

	action := recovery.Action(strings.ToUpper(req.Action))
	if action == "" {
		action = recovery.ActionClose
	}
	if action != recovery.ActionClose && action != recovery.ActionReduce {
		respondError(c, http.StatusBadRequest, "INVALID_ACTION", "action must be CLOSE or REDUCE")
		return
	}

	if err := s.Recovery.RecoverPosition(c.Request.Context(), req.Symbol, strings.ToUpper(req.Side), action); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	s.Recovery.ResetRecoveryAttempts(req.Symbol, strings.ToUpper(req.Side))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("%s requested for %s/%s", action, req.Symbol, req.Side)})
}

// emergencyStop cancels every order and closes every position, then
// publishes the EMERGENCY_STOP event (handled inside Execution.EmergencyStop).
func (s *Server) emergencyStop(c *gin.Context) {
	if s.Execution == nil {
		respondError(c, http.StatusServiceUnavailable, "EXECUTION_UNAVAILABLE", "execution engine not available")
		return
	}
	if err := s.Execution.EmergencyStop(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "all positions closed and orders cancelled"})
}

// getPortfolio returns the current equity/margin/positions snapshot,
// realized PnL, and recent trade history. Falls back to empty collections
// on any read failure rather than a 500, since this is a dashboard
// read path, not a trading decision.
func (s *Server) getPortfolio(c *gin.Context) {
	if s.Execution == nil {
		c.JSON(http.StatusOK, gin.H{
			"portfolio":    nil,
			"positions":    []interface{}{},
			"realizedPnL":  0.0,
			"recentTrades": []db.Trade{},
			"environment":  s.Meta.Environment(),
		})
		return
	}

	ctx := c.Request.Context()
	portfolio, err := s.Execution.GetPortfolio(ctx)
	positions := portfolio.Positions
	if err != nil || positions == nil {
		positions = []tradestate.Position{}
	}

	realizedPnL, err := s.Execution.GetRealizedPnL(ctx)
	if err != nil {
		realizedPnL = 0
	}

	trades, err := s.Execution.GetRecentTrades(ctx, 50)
	if err != nil || trades == nil {
		trades = []db.Trade{}
	}

	c.JSON(http.StatusOK, gin.H{
		"portfolio":    portfolio,
		"positions":    positions,
		"realizedPnL":  realizedPnL,
		"recentTrades": trades,
		"environment":  s.Meta.Environment(),
	})
}

// getMetrics returns the raw system performance snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	if s.Breakers != nil {
		open := 0
		for _, st := range s.Breakers.AllStatuses() {
			if st.State == "OPEN" {
				open++
			}
		}
		recoveryActions := 0
		if s.Recovery != nil {
			recoveryActions = len(s.Recovery.Snapshot())
		}
		s.Metrics.SetBreakerState(open, recoveryActions)
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "perpcore_api_requests_total %d\n", snapshot.APIRequests)
	fmt.Fprintf(&b, "perpcore_api_errors_total %d\n", snapshot.APIErrors)
	fmt.Fprintf(&b, "perpcore_cycles_completed_total %d\n", snapshot.CyclesCompleted)
	fmt.Fprintf(&b, "perpcore_cycles_failed_total %d\n", snapshot.CyclesFailed)
	fmt.Fprintf(&b, "perpcore_signals_generated_total %d\n", snapshot.SignalsGenerated)
	fmt.Fprintf(&b, "perpcore_trades_executed_total %d\n", snapshot.TradesExecuted)
	fmt.Fprintf(&b, "perpcore_errors_total %d\n", snapshot.ErrorsCount)
	fmt.Fprintf(&b, "perpcore_breakers_open %d\n", snapshot.BreakersOpen)
	fmt.Fprintf(&b, "perpcore_recovery_actions %d\n", snapshot.RecoveryActions)

	writeLatency := func(prefix string, ls monitor.LatencyStats) {
		if ls.Count == 0 {
			return
		}
		fmt.Fprintf(&b, "perpcore_%s_latency_ms_avg %f\n", prefix, ls.Avg)
		fmt.Fprintf(&b, "perpcore_%s_latency_ms_p50 %f\n", prefix, ls.P50)
		fmt.Fprintf(&b, "perpcore_%s_latency_ms_p95 %f\n", prefix, ls.P95)
		fmt.Fprintf(&b, "perpcore_%s_latency_ms_p99 %f\n", prefix, ls.P99)
	}
	writeLatency("api", snapshot.APILatency)
	writeLatency("cycle", snapshot.CycleLatency)
	writeLatency("db", snapshot.DBLatency)

	fmt.Fprintf(&b, "perpcore_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "perpcore_heap_alloc_bytes %d\n", snapshot.HeapAlloc)
	fmt.Fprintf(&b, "perpcore_heap_sys_bytes %d\n", snapshot.HeapSys)

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, b.String())
}
