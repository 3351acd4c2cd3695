package api

import (
	"time"

	"github.com/perpcore/trading-core/internal/breaker"
	"github.com/perpcore/trading-core/internal/events"
	"github.com/perpcore/trading-core/internal/execution"
	"github.com/perpcore/trading-core/internal/monitor"
	"github.com/perpcore/trading-core/internal/recovery"
	"github.com/perpcore/trading-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires the operator-facing HTTP surface around the trading core:
// health, circuit breakers, position recovery, the emergency stop, and a
// read-only portfolio view, plus a Prometheus-style metrics endpoint.
type Server struct {
	Router *gin.Engine

	Bus       *events.Bus
	DB        *db.Database
	Breakers  *breaker.Registry
	Execution *execution.Engine
	Recovery  *recovery.Monitor
	Metrics   *monitor.SystemMetrics

	Meta SystemMeta
}

// SystemMeta describes static runtime status exposed to the UI.
type SystemMeta struct {
	Venue     string
	Symbols   []string
	Timeframe string
	DryRun    bool
	Version   string
}

// Environment reports TESTNET or LIVE per DryRun, for the /api/portfolio
// response.
func (m SystemMeta) Environment() string {
	if m.DryRun {
		return "TESTNET"
	}
	return "LIVE"
}

// NewServer builds the HTTP API around the already-constructed trading
// core components.
func NewServer(
	bus *events.Bus,
	database *db.Database,
	breakers *breaker.Registry,
	exec *execution.Engine,
	rec *recovery.Monitor,
	metrics *monitor.SystemMetrics,
	meta SystemMeta,
) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Breakers:  breakers,
		Execution: exec,
		Recovery:  rec,
		Metrics:   metrics,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/health", s.health)

		api.GET("/circuit-breakers", s.getCircuitBreakers)
		api.POST("/circuit-breakers/:name/reset", s.resetCircuitBreaker)

		api.GET("/position-recovery", s.getPositionRecovery)
		api.POST("/position-recovery/recover", s.recoverPosition)

		api.POST("/emergency-stop", s.emergencyStop)

		api.GET("/portfolio", s.getPortfolio)

		api.GET("/metrics", s.getMetrics)
		api.GET("/metrics/prom", s.getPromMetrics)
	}
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
