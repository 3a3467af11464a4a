// Package metrics provides Prometheus instrumentation for the compile service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/compile_service/internal/limiter"
)

// Metrics owns a registry and every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	compiles        *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	artifactBytes   prometheus.Histogram

	limiterActive   prometheus.Gauge
	limiterWaiting  prometheus.Gauge
	scratchPending  prometheus.Gauge
	janitorRemovals prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "compile_service"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"service", "method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"service", "method", "path"})

	m.compiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "compiles_total",
		Help:      "Total number of compile attempts by outcome code.",
	}, []string{"result"})

	m.compileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "compile_duration_seconds",
		Help:      "Time spent in the external compiler.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"result"})

	m.artifactBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compiler",
		Name:      "artifact_bytes",
		Help:      "Size of compiled artifacts served.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
	})

	m.limiterActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "limiter",
		Name:      "active",
		Help:      "Compiles currently holding a permit.",
	})

	m.limiterWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "limiter",
		Name:      "waiting",
		Help:      "Compiles waiting for a permit.",
	})

	m.scratchPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scratch",
		Name:      "pending_handles",
		Help:      "Request-scoped scratch directories not yet released.",
	})

	m.janitorRemovals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scratch",
		Name:      "janitor_removals_total",
		Help:      "Stale scratch directories removed by the janitor.",
	})

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.compiles,
		m.compileDuration,
		m.artifactBytes,
		m.limiterActive,
		m.limiterWaiting,
		m.scratchPending,
		m.janitorRemovals,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() {
	m.httpInFlight.Inc()
}

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() {
	m.httpInFlight.Dec()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordCompile records one compile attempt. result is "success" or an error code.
func (m *Metrics) RecordCompile(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	m.compiles.WithLabelValues(result).Inc()
	m.compileDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordArtifactSize records the size of a served artifact.
func (m *Metrics) RecordArtifactSize(size int64) {
	m.artifactBytes.Observe(float64(size))
}

// RecordLimiter publishes limiter occupancy.
func (m *Metrics) RecordLimiter(stats limiter.Stats) {
	m.limiterActive.Set(float64(stats.Active))
	m.limiterWaiting.Set(float64(stats.Waiting))
}

// RecordScratchPending publishes the number of live scratch handles.
func (m *Metrics) RecordScratchPending(n int) {
	m.scratchPending.Set(float64(n))
}

// RecordJanitorRemovals adds to the janitor removal counter.
func (m *Metrics) RecordJanitorRemovals(n int) {
	m.janitorRemovals.Add(float64(n))
}
