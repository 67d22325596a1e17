// Package telemetry exports Prometheus metrics for the debugger tool
// server's queue, cache, and recovery subsystems.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the metrics registry and the counters/gauges/
// histograms fed by the core pipeline.
type Exporter struct {
	registry *prometheus.Registry

	queueDepth       prometheus.Gauge
	dispatchLatency  *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	commandTimeouts  prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   *prometheus.CounterVec
	cacheBytesInUse  prometheus.Gauge
	recoveryAttempts *prometheus.CounterVec
	sessionRestarts  prometheus.Counter
}

// Config configures the Exporter.
type Config struct {
	Registry       *prometheus.Registry
	LatencyBuckets []float64
}

// DefaultConfig returns sane latency bucket boundaries for debugger
// command execution, which ranges from sub-second to several minutes.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
	}
}

// New builds and registers the metric set.
func New(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of commands currently queued or executing.",
	})

	e.dispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "queue",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from enqueue to terminal command state.",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"outcome"})

	e.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "queue",
		Name:      "dispatch_total",
		Help:      "Total number of commands dispatched, by terminal outcome.",
	}, []string{"outcome"})

	e.commandTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "queue",
		Name:      "command_timeouts_total",
		Help:      "Total number of commands that exceeded their classified timeout.",
	})

	e.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total result cache hits.",
	})

	e.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total result cache misses.",
	})

	e.cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total cache evictions, by reason (ttl, pressure).",
	}, []string{"reason"})

	e.cacheBytesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "cache",
		Name:      "bytes_in_use",
		Help:      "Estimated bytes currently retained by the result cache.",
	})

	e.recoveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "recovery",
		Name:      "attempts_total",
		Help:      "Total recovery attempts, by outcome (recovered, restarted, failed, exhausted).",
	}, []string{"outcome"})

	e.sessionRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbgtoolsrv",
		Subsystem: "session",
		Name:      "force_restarts_total",
		Help:      "Total number of forced debugger session restarts.",
	})

	registry.MustRegister(
		e.queueDepth, e.dispatchLatency, e.dispatchTotal, e.commandTimeouts,
		e.cacheHits, e.cacheMisses, e.cacheEvictions, e.cacheBytesInUse,
		e.recoveryAttempts, e.sessionRestarts,
	)

	return e
}

func (e *Exporter) SetQueueDepth(n int) { e.queueDepth.Set(float64(n)) }

func (e *Exporter) RecordDispatch(outcome string, elapsed time.Duration) {
	e.dispatchTotal.WithLabelValues(outcome).Inc()
	e.dispatchLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (e *Exporter) RecordTimeout() { e.commandTimeouts.Inc() }

func (e *Exporter) RecordCacheHit()  { e.cacheHits.Inc() }
func (e *Exporter) RecordCacheMiss() { e.cacheMisses.Inc() }

func (e *Exporter) RecordCacheEviction(reason string) {
	e.cacheEvictions.WithLabelValues(reason).Inc()
}

func (e *Exporter) SetCacheBytesInUse(n int64) { e.cacheBytesInUse.Set(float64(n)) }

func (e *Exporter) RecordRecoveryAttempt(outcome string) {
	e.recoveryAttempts.WithLabelValues(outcome).Inc()
}

func (e *Exporter) RecordSessionRestart() { e.sessionRestarts.Inc() }

// Handler returns the HTTP handler serving the registry in Prometheus
// text exposition format, mounted at /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for gRPC health's own
// process metrics to share the same exposition endpoint.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
