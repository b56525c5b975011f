package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. All methods are nil-safe.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	transitions    *prometheus.CounterVec
	unlockOutcomes *prometheus.CounterVec
	bulkItems      *prometheus.CounterVec
	writeConflicts prometheus.Counter
	notifyFailures prometheus.Counter
	exportsTotal   *prometheus.CounterVec
}

// NewMetricsService registers the HTTP, cache and progress collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_transitions_total",
		Help: "Progress status transitions committed by the ledger",
	}, []string{"from", "to"})

	unlockOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unlock_outcomes_total",
		Help: "Unlock cascade runs by outcome",
	}, []string{"outcome"})

	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_approve_items_total",
		Help: "Bulk approve items by result",
	}, []string{"result"})

	writeConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_write_conflicts_total",
		Help: "Optimistic concurrency conflicts observed on progress writes",
	})

	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_failures_total",
		Help: "Progress events the notifier could not publish",
	})

	exportsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_log_exports_total",
		Help: "Tracking log exports rendered by format",
	}, []string{"format"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHits, cacheMisses,
		transitions, unlockOutcomes, bulkItems, writeConflicts, notifyFailures, exportsTotal,
		goroutines,
	)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		transitions:     transitions,
		unlockOutcomes:  unlockOutcomes,
		bulkItems:       bulkItems,
		writeConflicts:  writeConflicts,
		notifyFailures:  notifyFailures,
		exportsTotal:    exportsTotal,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTransition counts a committed status change.
func (m *MetricsService) RecordTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordUnlockOutcome counts a cascade run.
func (m *MetricsService) RecordUnlockOutcome(outcome string) {
	if m == nil {
		return
	}
	m.unlockOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBulkItem counts one bulk approve item as "approved" or "failed".
func (m *MetricsService) RecordBulkItem(approved bool) {
	if m == nil {
		return
	}
	result := "failed"
	if approved {
		result = "approved"
	}
	m.bulkItems.WithLabelValues(result).Inc()
}

// RecordWriteConflict counts an optimistic concurrency conflict.
func (m *MetricsService) RecordWriteConflict() {
	if m == nil {
		return
	}
	m.writeConflicts.Inc()
}

// RecordNotifyFailure counts an event the notifier dropped.
func (m *MetricsService) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// RecordExport counts a rendered tracking log export.
func (m *MetricsService) RecordExport(format string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format).Inc()
}
