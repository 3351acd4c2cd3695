package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall system performance: HTTP traffic, cycle
// throughput, and process health.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	APILatency      *LatencyHistogram
	CycleLatency    *LatencyHistogram
	DBLatency       *LatencyHistogram

	// Counters
	apiRequests      uint64
	apiErrors        uint64
	cyclesCompleted  uint64
	cyclesFailed     uint64
	signalsGenerated uint64
	tradesExecuted   uint64
	errorsCount      uint64

	// Breaker/recovery state, refreshed by the API's metrics handler from
	// the breaker registry and recovery monitor on each request.
	breakersOpen    int
	recoveryActions int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and lazy
// stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:   NewLatencyHistogram(1000),
		CycleLatency: NewLatencyHistogram(1000),
		DBLatency:    NewLatencyHistogram(1000),
		lastUpdate:   time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI increments the processed API request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the API error counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementCyclesCompleted increments the completed-cycle counter.
func (m *SystemMetrics) IncrementCyclesCompleted() {
	atomic.AddUint64(&m.cyclesCompleted, 1)
}

// IncrementCyclesFailed increments the failed-cycle counter.
func (m *SystemMetrics) IncrementCyclesFailed() {
	atomic.AddUint64(&m.cyclesFailed, 1)
}

// IncrementSignals increments the generated-signal counter.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementTrades increments the executed-trade counter.
func (m *SystemMetrics) IncrementTrades() {
	atomic.AddUint64(&m.tradesExecuted, 1)
}

// IncrementErrors increments the generic error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// SetBreakerState records how many breakers are currently open and how
// many recovery actions the position-recovery monitor has queued, for the
// next snapshot.
func (m *SystemMetrics) SetBreakerState(breakersOpen, recoveryActions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakersOpen = breakersOpen
	m.recoveryActions = recoveryActions
}

// MetricsSnapshot is a point-in-time read of SystemMetrics.
type MetricsSnapshot struct {
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	APILatency       LatencyStats `json:"api_latency"`
	CyclesCompleted  uint64       `json:"cycles_completed"`
	CyclesFailed     uint64       `json:"cycles_failed"`
	CycleLatency     LatencyStats `json:"cycle_latency"`
	SignalsGenerated uint64       `json:"signals_generated"`
	TradesExecuted   uint64       `json:"trades_executed"`
	ErrorsCount      uint64       `json:"errors_count"`
	DBLatency        LatencyStats `json:"db_latency"`
	BreakersOpen     int          `json:"breakers_open"`
	RecoveryActions  int          `json:"recovery_actions"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	breakersOpen := m.breakersOpen
	recoveryActions := m.recoveryActions
	m.mu.RUnlock()

	return MetricsSnapshot{
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		APILatency:       m.APILatency.Stats(),
		CyclesCompleted:  atomic.LoadUint64(&m.cyclesCompleted),
		CyclesFailed:     atomic.LoadUint64(&m.cyclesFailed),
		CycleLatency:     m.CycleLatency.Stats(),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		TradesExecuted:   atomic.LoadUint64(&m.tradesExecuted),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		DBLatency:        m.DBLatency.Stats(),
		BreakersOpen:     breakersOpen,
		RecoveryActions:  recoveryActions,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
