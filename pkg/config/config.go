package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	// Dashboard / operator API
	DashboardPort      string
	NewsDashboardPollMs int

	// Venue connectivity
	VenueBaseURL     string
	VenuePrivateKey  string
	VenueTestnet     bool
	Symbols          []string
	Timeframe        string
	UseMockFeed      bool

	// Execution toggle
	DryRun bool

	// Limiter buckets
	InfoBucketRefillPerSecond     float64
	InfoBucketCapacity            int
	ExchangeBucketRefillPerSecond float64
	ExchangeBucketCapacity        int

	// Churn guard knobs (internal/exchange.Config)
	MinOrderInterval      time.Duration
	StandardCooldown      time.Duration
	ExtendedCooldownCap   time.Duration
	ChurnFailureThreshold int
	MinSignalConfidence   float64
	FillRateWarmup        int
	MinFillRate           float64

	// Depth/spread validation
	DepthLevels      int
	MinNotionalDepth float64
	MaxSpread        float64

	// Order placement
	EntryMaxAttempts    int
	ExitMaxAttempts     int
	SlippageBuffer      float64
	BackoffCap          time.Duration
	StaleOrderWarnAge   time.Duration
	StaleOrderCancelAge time.Duration

	// Execution engine signal admission
	SignalDedupWindow     time.Duration
	MaxSignalsPerMinute   int
	PositionSizeMultiplier float64
	ManagedExitInterval   time.Duration
	MinStopLossPct        float64
	SLTriggerFactor        float64
	TPTriggerFactor        float64

	// Position-recovery monitor
	RecoveryScanInterval    time.Duration
	RecoveryCacheTTL        time.Duration
	RecoveryBatchInterval   time.Duration
	RecoveryAlertDedupWindow time.Duration
	MaxRecoveryAttempts     int
	ExcessiveLossPct        float64
	StuckTradeCount         int
	StuckRangePct           float64
	ExcessiveLeverageMax    float64
	RecoveryStaleAge        time.Duration

	// Orchestrator cycle tuning
	MinCandles           int
	CandleLimit          int
	MaxConsecutiveErrors int
	CycleTimeout         time.Duration
	CycleInterval        time.Duration

	// Database
	DBPath string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/perpcore.db")
	}

	return &Config{
		DashboardPort:       getEnv("DASHBOARD_PORT", "3001"),
		NewsDashboardPollMs: getEnvInt("NEWS_DASHBOARD_POLL_MS", 10000),

		VenueBaseURL:    getEnv("VENUE_BASE_URL", ""),
		VenuePrivateKey: os.Getenv("VENUE_PRIVATE_KEY"),
		VenueTestnet:    getEnv("VENUE_TESTNET", "true") == "true",
		Symbols:         splitAndTrim(getEnv("SYMBOLS", "BTC,ETH")),
		Timeframe:       getEnv("TIMEFRAME", "1m"),
		UseMockFeed:     getEnv("USE_MOCK_FEED", "false") == "true",

		DryRun: getEnv("DRY_RUN", "true") == "true",

		InfoBucketRefillPerSecond:     getEnvFloat("INFO_BUCKET_REFILL_PER_SECOND", 20),
		InfoBucketCapacity:            getEnvInt("INFO_BUCKET_CAPACITY", 40),
		ExchangeBucketRefillPerSecond: getEnvFloat("EXCHANGE_BUCKET_REFILL_PER_SECOND", 5),
		ExchangeBucketCapacity:        getEnvInt("EXCHANGE_BUCKET_CAPACITY", 10),

		MinOrderInterval:      getEnvDuration("MIN_ORDER_INTERVAL", 30*time.Second),
		StandardCooldown:      getEnvDuration("STANDARD_COOLDOWN", 10*time.Minute),
		ExtendedCooldownCap:   getEnvDuration("EXTENDED_COOLDOWN_CAP", 5*time.Minute),
		ChurnFailureThreshold: getEnvInt("CHURN_FAILURE_THRESHOLD", 3),
		MinSignalConfidence:   getEnvFloat("MIN_SIGNAL_CONFIDENCE", 0.80),
		FillRateWarmup:        getEnvInt("FILL_RATE_WARMUP", 5),
		MinFillRate:           getEnvFloat("MIN_FILL_RATE", 0.05),

		DepthLevels:      getEnvInt("DEPTH_LEVELS", 5),
		MinNotionalDepth: getEnvFloat("MIN_NOTIONAL_DEPTH", 0),
		MaxSpread:        getEnvFloat("MAX_SPREAD", 0.001),

		EntryMaxAttempts:    getEnvInt("ENTRY_MAX_ATTEMPTS", 1),
		ExitMaxAttempts:     getEnvInt("EXIT_MAX_ATTEMPTS", 3),
		SlippageBuffer:      getEnvFloat("SLIPPAGE_BUFFER", 0.005),
		BackoffCap:          getEnvDuration("BACKOFF_CAP", 30*time.Second),
		StaleOrderWarnAge:   getEnvDuration("STALE_ORDER_WARN_AGE", 30*time.Second),
		StaleOrderCancelAge: getEnvDuration("STALE_ORDER_CANCEL_AGE", 60*time.Second),

		SignalDedupWindow:      getEnvDuration("SIGNAL_DEDUP_WINDOW", 60*time.Second),
		MaxSignalsPerMinute:    getEnvInt("MAX_SIGNALS_PER_MINUTE", 6),
		PositionSizeMultiplier: getEnvFloat("POSITION_SIZE_MULTIPLIER", 1.0),
		ManagedExitInterval:    getEnvDuration("MANAGED_EXIT_INTERVAL", 5*time.Second),
		MinStopLossPct:         getEnvFloat("MIN_STOP_LOSS_PCT", 0.005),
		SLTriggerFactor:        getEnvFloat("SL_TRIGGER_FACTOR", 0.9),
		TPTriggerFactor:        getEnvFloat("TP_TRIGGER_FACTOR", 1.15),

		RecoveryScanInterval:     getEnvDuration("RECOVERY_SCAN_INTERVAL", 30*time.Second),
		RecoveryCacheTTL:         getEnvDuration("RECOVERY_CACHE_TTL", 2*time.Second),
		RecoveryBatchInterval:    getEnvDuration("RECOVERY_BATCH_INTERVAL", 10*time.Second),
		RecoveryAlertDedupWindow: getEnvDuration("RECOVERY_ALERT_DEDUP_WINDOW", 5*time.Minute),
		MaxRecoveryAttempts:      getEnvInt("MAX_RECOVERY_ATTEMPTS", 3),
		ExcessiveLossPct:         getEnvFloat("EXCESSIVE_LOSS_PCT", -0.15),
		StuckTradeCount:          getEnvInt("STUCK_TRADE_COUNT", 5),
		StuckRangePct:            getEnvFloat("STUCK_RANGE_PCT", 0.01),
		ExcessiveLeverageMax:     getEnvFloat("EXCESSIVE_LEVERAGE_MAX", 20),
		RecoveryStaleAge:         getEnvDuration("RECOVERY_STALE_AGE", 24*time.Hour),

		MinCandles:           getEnvInt("MIN_CANDLES", 50),
		CandleLimit:          getEnvInt("CANDLE_LIMIT", 200),
		MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 5),
		CycleTimeout:         getEnvDuration("CYCLE_TIMEOUT", 30*time.Second),
		CycleInterval:        getEnvDuration("CYCLE_INTERVAL", 15*time.Second),

		DBPath: dbPath,

		Language: getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
