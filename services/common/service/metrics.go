package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Service Metrics
// =============================================================================

// ServiceMetrics keeps in-process operation counters for the /info endpoint.
// Prometheus collectors cover the same ground for scraping; these are for
// humans reading /info.
type ServiceMetrics struct {
	mu sync.RWMutex

	// Operation counters
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	// Latency tracking (simple histogram buckets)
	latencyBuckets map[string]*atomic.Int64

	// Failures by error code
	errorCounts map[string]*atomic.Int64

	serviceName string
	startTime   time.Time
}

// NewServiceMetrics creates a new metrics collector.
func NewServiceMetrics(serviceName string) *ServiceMetrics {
	return &ServiceMetrics{
		serviceName: serviceName,
		startTime:   time.Now(),
		latencyBuckets: map[string]*atomic.Int64{
			"lt_100ms": {},
			"lt_1s":    {},
			"lt_10s":   {},
			"lt_1m":    {},
			"gt_1m":    {},
		},
		errorCounts: make(map[string]*atomic.Int64),
	}
}

// =============================================================================
// Operation Tracking
// =============================================================================

// RecordSuccess records a completed operation.
func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.total.Add(1)
	m.success.Add(1)
	m.recordLatency(duration)
}

// RecordFailure records a failed operation under its error code.
func (m *ServiceMetrics) RecordFailure(duration time.Duration, code string) {
	m.total.Add(1)
	m.failed.Add(1)
	m.recordLatency(duration)

	m.mu.Lock()
	counter, ok := m.errorCounts[code]
	if !ok {
		counter = &atomic.Int64{}
		m.errorCounts[code] = counter
	}
	m.mu.Unlock()
	counter.Add(1)
}

func (m *ServiceMetrics) recordLatency(d time.Duration) {
	var bucket string
	switch {
	case d < 100*time.Millisecond:
		bucket = "lt_100ms"
	case d < time.Second:
		bucket = "lt_1s"
	case d < 10*time.Second:
		bucket = "lt_10s"
	case d < time.Minute:
		bucket = "lt_1m"
	default:
		bucket = "gt_1m"
	}
	m.latencyBuckets[bucket].Add(1)
}

// =============================================================================
// Metrics Export
// =============================================================================

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Service     string           `json:"service"`
	Uptime      string           `json:"uptime"`
	Total       int64            `json:"total"`
	Success     int64            `json:"success"`
	Failed      int64            `json:"failed"`
	SuccessRate float64          `json:"success_rate"`
	Latency     map[string]int64 `json:"latency_buckets"`
	Errors      map[string]int64 `json:"errors,omitempty"`
}

// Export returns all counters.
func (m *ServiceMetrics) Export() MetricsSnapshot {
	total := m.total.Load()
	success := m.success.Load()

	successRate := float64(0)
	if total > 0 {
		successRate = float64(success) / float64(total) * 100
	}

	latency := make(map[string]int64, len(m.latencyBuckets))
	for k, v := range m.latencyBuckets {
		latency[k] = v.Load()
	}

	m.mu.RLock()
	errors := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errors[k] = v.Load()
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		Service:     m.serviceName,
		Uptime:      time.Since(m.startTime).String(),
		Total:       total,
		Success:     success,
		Failed:      m.failed.Load(),
		SuccessRate: successRate,
		Latency:     latency,
		Errors:      errors,
	}
}
