package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter names
const (
	CounterBatchesReceived  = "ingest_batches_total"
	CounterMessagesReceived = "ingest_messages_total"
	CounterEventsAccepted   = "ingest_accepted_total"
	CounterDuplicates       = "ingest_duplicates_total"
	CounterMalformed        = "ingest_malformed_total"
	CounterIngestFailures   = "ingest_failures_total"
	CounterEventsApplied    = "projector_applied_total"
	CounterApplyFailures    = "projector_apply_failures_total"
	CounterPolls            = "projector_polls_total"
	CounterTransportMsgs    = "transport_messages_total"
)

// Gauge names
const (
	GaugePendingEvents = "pending_events"
	GaugeTotalEvents   = "total_events"
	GaugeHeadStuckRuns = "head_stuck_runs"
	GaugeGoroutines    = "goroutines"
)

// Timer and error rate names
const (
	TimerIngestBatch    = "ingest_batch"
	TimerProjectorBatch = "projector_batch"
	RateApply           = "projector_apply"
)

// Health components
const (
	HealthProjector = "projector"
	HealthTransport = "transport"
	HealthStore     = "store"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timer struct {
	count   atomic.Int64
	totalMs atomic.Int64
	minMs   atomic.Int64
	maxMs   atomic.Int64
}

type errorRate struct {
	total  atomic.Int64
	errors atomic.Int64
}

// Metrics collects in-process counters, gauges, timers, error rates and component health.
// Values are created on first use and updated atomically.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]*atomic.Int64
	gauges     map[string]*atomic.Int64
	health     map[string]*atomic.Int64
	timers     map[string]*timer
	errorRates map[string]*errorRate
	startTime  time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]*atomic.Int64),
		gauges:     make(map[string]*atomic.Int64),
		health:     make(map[string]*atomic.Int64),
		timers:     make(map[string]*timer),
		errorRates: make(map[string]*errorRate),
		startTime:  time.Now(),
	}
}

// lookup returns the entry for name, creating it with create under the write lock
func lookup[T any](m *Metrics, entries map[string]*T, name string, create func() *T) *T {
	m.mu.RLock()
	entry, ok := entries[name]
	m.mu.RUnlock()
	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok = entries[name]; !ok {
		entry = create()
		entries[name] = entry
	}
	return entry
}

func newInt64() *atomic.Int64 { return new(atomic.Int64) }

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	lookup(m, m.counters, name, newInt64).Add(value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	lookup(m, m.gauges, name, newInt64).Store(value)
}

// RecordTimer records a timing measurement in milliseconds
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	t := lookup(m, m.timers, name, func() *timer {
		t := &timer{}
		t.minMs.Store(math.MaxInt64)
		return t
	})

	t.count.Add(1)
	t.totalMs.Add(durationMs)

	for cur := t.minMs.Load(); durationMs < cur; cur = t.minMs.Load() {
		if t.minMs.CompareAndSwap(cur, durationMs) {
			break
		}
	}
	for cur := t.maxMs.Load(); durationMs > cur; cur = t.maxMs.Load() {
		if t.maxMs.CompareAndSwap(cur, durationMs) {
			break
		}
	}
}

// RecordDuration records a timing measurement from a duration
func (m *Metrics) RecordDuration(name string, d time.Duration) {
	m.RecordTimer(name, d.Milliseconds())
}

// RecordSuccess records a successful operation for error rate tracking
func (m *Metrics) RecordSuccess(name string) {
	m.recordOutcome(name, false)
}

// RecordError records an error for error rate tracking
func (m *Metrics) RecordError(name string) {
	m.recordOutcome(name, true)
}

func (m *Metrics) recordOutcome(name string, failed bool) {
	rate := lookup(m, m.errorRates, name, func() *errorRate { return &errorRate{} })
	rate.total.Add(1)
	if failed {
		rate.errors.Add(1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	var value int64
	if isHealthy {
		value = 1
	}
	lookup(m, m.health, component, newInt64).Store(value)
}

func (m *Metrics) snapshot(entries map[string]*atomic.Int64) map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(entries))
	for name, v := range entries {
		out[name] = v.Load()
	}
	return out
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	return m.snapshot(m.counters)
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	return m.snapshot(m.gauges)
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		count, total := t.count.Load(), t.totalMs.Load()

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		out[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     t.minMs.Load(),
			MaxTimeMs:     t.maxMs.Load(),
		}
	}
	return out
}

// GetErrorRates returns all error rates as percentages
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ErrorRateMetric, len(m.errorRates))
	for name, r := range m.errorRates {
		total, errs := r.total.Load(), r.errors.Load()

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}

		out[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
	}
	return out
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, v := range m.health {
		out[name] = v.Load() > 0
	}
	return out
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}
