package infra

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics provides lightweight in-process observability with no external
// metrics backend.
// Uses atomic operations for thread-safety since goroutines outside the
// sequencer (the stream reader, the REST client) record into it directly.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	ordersFilled    atomic.Uint64
	errorsTotal     atomic.Uint64

	// REST call outcomes, feeding the API-error-rate circuit breaker.
	restSuccess atomic.Uint64
	restErrors  atomic.Uint64

	// walDropped counts WAL write failures that were logged and skipped
	// rather than allowed to block trading.
	walDropped atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records a generic error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordRESTCall records the outcome of a REST call, used to compute the
// trailing API error rate the risk engine's breaker checks against.
func (m *Metrics) RecordRESTCall(success bool) {
	if success {
		m.restSuccess.Add(1)
	} else {
		m.restErrors.Add(1)
	}
}

// RESTErrorRate returns the lifetime REST error rate (0-1). The risk
// engine's breaker evaluates this as the trailing-error-rate proxy.
func (m *Metrics) RESTErrorRate() float64 {
	success := m.restSuccess.Load()
	errs := m.restErrors.Load()
	total := success + errs
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

// FillRate returns the ratio of filled orders to processed events as a
// decimal percentage. A diagnostic figure only, never used on an
// accounting path; decimal keeps the reported percentage exact without
// float64.
func (m *Metrics) FillRate() decimal.Decimal {
	processed := m.eventsProcessed.Load()
	if processed == 0 {
		return decimal.Zero
	}
	filled := decimal.NewFromInt(int64(m.ordersFilled.Load()))
	total := decimal.NewFromInt(int64(processed))
	return filled.Div(total).Mul(decimal.NewFromInt(100))
}

// RecordWALDrop records a persistence-layer write that was logged and
// dropped rather than allowed to block the trading hot path.
func (m *Metrics) RecordWALDrop() {
	m.walDropped.Add(1)
}

// SetActiveConnections sets the current active connection count.
func (m *Metrics) SetActiveConnections(count int32) {
	m.activeConnections.Store(count)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64
	OrdersFilled      uint64
	ErrorsTotal       uint64
	RESTErrorRate     float64
	WALDropped        uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	CircuitOpen       bool
	FillRatePct       decimal.Decimal
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		RESTErrorRate:     m.RESTErrorRate(),
		WALDropped:        m.walDropped.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		FillRatePct:       m.FillRate(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.ordersFilled.Store(0)
	m.errorsTotal.Store(0)
	m.restSuccess.Store(0)
	m.restErrors.Store(0)
	m.walDropped.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
