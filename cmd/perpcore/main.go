package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perpcore/trading-core/internal/api"
	"github.com/perpcore/trading-core/internal/breaker"
	"github.com/perpcore/trading-core/internal/events"
	"github.com/perpcore/trading-core/internal/exchange"
	"github.com/perpcore/trading-core/internal/execution"
	"github.com/perpcore/trading-core/internal/indicators"
	"github.com/perpcore/trading-core/internal/ledger"
	"github.com/perpcore/trading-core/internal/limiter"
	"github.com/perpcore/trading-core/internal/market"
	"github.com/perpcore/trading-core/internal/monitor"
	"github.com/perpcore/trading-core/internal/orchestrator"
	"github.com/perpcore/trading-core/internal/persistence"
	"github.com/perpcore/trading-core/internal/recovery"
	"github.com/perpcore/trading-core/internal/risk"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/config"
	"github.com/perpcore/trading-core/pkg/db"
	"github.com/perpcore/trading-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v2.0-dev"
	}

	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	if cfg.DryRun {
		log.Println(i18n.Get("DryRunMode"))
	}

	bus := events.NewBus()
	breakers := breaker.New()
	metrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	lim := limiter.NewRegistry(
		limiter.BucketConfig{Name: "info", RefillPerSecond: cfg.InfoBucketRefillPerSecond, Capacity: cfg.InfoBucketCapacity},
		limiter.BucketConfig{Name: "exchange", RefillPerSecond: cfg.ExchangeBucketRefillPerSecond, Capacity: cfg.ExchangeBucketCapacity},
	)
	led := ledger.New()

	exCfg := exchange.DefaultConfig()
	exCfg.BaseURL = cfg.VenueBaseURL
	exCfg.PrivateKeyHex = cfg.VenuePrivateKey
	exCfg.Testnet = cfg.VenueTestnet
	exCfg.MinOrderInterval = cfg.MinOrderInterval
	exCfg.StandardCooldown = cfg.StandardCooldown
	exCfg.ExtendedCooldownCap = cfg.ExtendedCooldownCap
	exCfg.ChurnFailureThreshold = cfg.ChurnFailureThreshold
	exCfg.MinSignalConfidence = cfg.MinSignalConfidence
	exCfg.FillRateWarmup = cfg.FillRateWarmup
	exCfg.MinFillRate = cfg.MinFillRate
	exCfg.DepthLevels = cfg.DepthLevels
	exCfg.MinNotionalDepth = cfg.MinNotionalDepth
	exCfg.MaxSpread = cfg.MaxSpread
	exCfg.EntryMaxAttempts = cfg.EntryMaxAttempts
	exCfg.ExitMaxAttempts = cfg.ExitMaxAttempts
	exCfg.SlippageBuffer = cfg.SlippageBuffer
	exCfg.BackoffCap = cfg.BackoffCap
	exCfg.StaleOrderWarnAge = cfg.StaleOrderWarnAge
	exCfg.StaleOrderCancelAge = cfg.StaleOrderCancelAge

	client, err := exchange.New(exCfg, lim, led)
	if err != nil {
		log.Fatalf(i18n.Get("ExchangeClientInitFailed"), err)
	}

	execCfg := execution.DefaultConfig()
	execCfg.MinSignalConfidence = cfg.MinSignalConfidence
	execCfg.SignalDedupWindow = cfg.SignalDedupWindow
	execCfg.MaxSignalsPerMinute = cfg.MaxSignalsPerMinute
	execCfg.MinOrderInterval = cfg.MinOrderInterval
	execCfg.StandardCooldown = cfg.StandardCooldown
	execCfg.PositionSizeMultiplier = cfg.PositionSizeMultiplier
	execCfg.ManagedExitInterval = cfg.ManagedExitInterval
	execCfg.MinStopLossPct = cfg.MinStopLossPct
	execCfg.SLTriggerFactor = cfg.SLTriggerFactor
	execCfg.TPTriggerFactor = cfg.TPTriggerFactor

	execEngine := execution.New(execCfg, client, database, bus)

	recCfg := recovery.DefaultConfig()
	recCfg.ScanInterval = cfg.RecoveryScanInterval
	recCfg.CacheTTL = cfg.RecoveryCacheTTL
	recCfg.BatchInterval = cfg.RecoveryBatchInterval
	recCfg.AlertDedupWindow = cfg.RecoveryAlertDedupWindow
	recCfg.MaxRecoveryAttempts = cfg.MaxRecoveryAttempts
	recCfg.ExcessiveLossPct = cfg.ExcessiveLossPct
	recCfg.StuckTradeCount = cfg.StuckTradeCount
	recCfg.StuckRangePct = cfg.StuckRangePct
	recCfg.ExcessiveLeverageMax = cfg.ExcessiveLeverageMax
	recCfg.StaleAge = cfg.RecoveryStaleAge

	recoveryMonitor := recovery.New(recCfg, execEngine, database, bus)

	riskMgr, err := risk.NewManager(database.DB)
	if err != nil {
		log.Printf(i18n.Get("RiskManagerInitFailed"), err)
		riskMgr = risk.NewInMemory(risk.DefaultConfig())
	} else {
		rc := riskMgr.GetConfig()
		log.Printf(i18n.Get("RiskManagerInit"), rc.DefaultStopLoss*100, rc.DefaultTakeProfit*100)
	}

	indicatorEngine := indicators.NewEngine(9, 21, 14, 200)

	batchWriter := persistence.NewBatchWriter(database.DB, 50, 2*time.Second)
	defer batchWriter.Close()
	traceWriter := tradestate.NewTraceWriter(batchWriter)

	orchCfg := orchestrator.Config{
		MinCandles:           cfg.MinCandles,
		CandleLimit:          cfg.CandleLimit,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		CycleTimeout:         cfg.CycleTimeout,
	}
	orch := orchestrator.New(orchCfg, client, indicatorEngine, riskMgr, execEngine, breakers, bus, database, traceWriter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMockFeed {
		mock := &market.MockFeed{Bus: bus, Symbols: cfg.Symbols}
		mock.Start(ctx)
		log.Println(i18n.Get("MockFeedStarted"))
	} else {
		feed := &market.Feed{Source: exchangeCandleSource{client}, Bus: bus, Symbols: cfg.Symbols, Timeframe: cfg.Timeframe}
		feed.Start(ctx)
		log.Printf(i18n.Get("MarketFeedStarted"), cfg.Symbols)
	}

	for _, symbol := range cfg.Symbols {
		runOrchestratorWorker(ctx, orch, metrics, symbol, cfg.Timeframe, cfg.CycleInterval)
		log.Printf(i18n.Get("OrchestratorWorkerStarted"), symbol, cfg.Timeframe, cfg.CycleInterval)
	}

	go recoveryMonitor.Run(ctx)
	log.Println(i18n.Get("RecoveryMonitorStarted"))

	go execEngine.RunManagedExitMonitor(ctx)
	log.Println(i18n.Get("ManagedExitMonitorStarted"))

	go client.StaleOrderWatchdog(ctx)

	server := api.NewServer(bus, database, breakers, execEngine, recoveryMonitor, metrics, api.SystemMeta{
		Venue:     cfg.VenueBaseURL,
		Symbols:   cfg.Symbols,
		Timeframe: cfg.Timeframe,
		DryRun:    cfg.DryRun,
		Version:   buildVersion,
	})
	go func() {
		if err := server.Start(":" + cfg.DashboardPort); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
	cancel()
}

// exchangeCandleSource adapts the exchange client's own exchange.Candle
// return type to market.CandleSource's market.Candle, since the two
// packages keep independent (identically-shaped) Candle types rather than
// cross-import each other.
type exchangeCandleSource struct {
	client *exchange.Client
}

func (s exchangeCandleSource) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	raw, err := s.client.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, len(raw))
	for i, c := range raw {
		out[i] = market.Candle{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
	}
	return out, nil
}

// runOrchestratorWorker drives one (symbol, timeframe) pair through the
// orchestrator on its own ticker, recording cycle outcomes into metrics.
func runOrchestratorWorker(ctx context.Context, orch *orchestrator.Orchestrator, metrics *monitor.SystemMetrics, symbol, timeframe string, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				timer := monitor.NewTimer(metrics.CycleLatency)
				state := orch.RunCycle(ctx, symbol, timeframe)
				timer.Stop()
				if state.CurrentStep == tradestate.StepError {
					metrics.IncrementCyclesFailed()
				} else {
					metrics.IncrementCyclesCompleted()
				}
				if state.Signal != nil {
					metrics.IncrementSignals()
				}
				if state.ExecutionResult != nil {
					metrics.IncrementTrades()
				}
			}
		}
	}()
}
