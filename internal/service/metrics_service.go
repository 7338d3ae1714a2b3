package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the calendar API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	eventOps        *prometheus.CounterVec
	freeBusyQueries prometheus.Counter
	freeBusyCache   *prometheus.CounterVec
	importComps     *prometheus.CounterVec
	occExpansion    prometheus.Histogram
	tombstonePurged prometheus.Counter
	queueDepth      prometheus.Gauge

	requestCount         uint64
	requestDurationTotal uint64
}

// NewMetricsService registers the calendar collectors on a private registry.
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

	eventOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_event_operations_total",
		Help: "Event write operations by kind and outcome",
	}, []string{"operation", "outcome"})

	freeBusyQueries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calendar_freebusy_queries_total",
		Help: "Total free/busy queries served",
	})

	freeBusyCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_freebusy_cache_total",
		Help: "Free/busy cache lookups by result",
	}, []string{"result"})

	importComps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_import_components_total",
		Help: "Imported calendar components by outcome",
	}, []string{"outcome"})

	occExpansion := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendar_occurrence_expansion_seconds",
		Help:    "Time spent expanding recurrence rules into occurrences",
		Buckets: prometheus.DefBuckets,
	})

	tombstonePurged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calendar_tombstones_purged_total",
		Help: "Tombstone rows removed by maintenance runs",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calendar_scheduling_queue_depth",
		Help: "Pending scheduling messages awaiting delivery",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, eventOps, freeBusyQueries,
		freeBusyCache, importComps, occExpansion, tombstonePurged, queueDepth, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		eventOps:        eventOps,
		freeBusyQueries: freeBusyQueries,
		freeBusyCache:   freeBusyCache,
		importComps:     importComps,
		occExpansion:    occExpansion,
		tombstonePurged: tombstonePurged,
		queueDepth:      queueDepth,
	}
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
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordEventOperation counts an event write by kind (create, update, delete,
// move, split, change_organizer) and outcome (ok, error).
func (m *MetricsService) RecordEventOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.eventOps.WithLabelValues(operation, outcome).Inc()
}

// RecordFreeBusyQuery counts a served free/busy query and its cache outcome.
func (m *MetricsService) RecordFreeBusyQuery(cacheHit bool) {
	if m == nil {
		return
	}
	m.freeBusyQueries.Inc()
	if cacheHit {
		m.freeBusyCache.WithLabelValues("hit").Inc()
	} else {
		m.freeBusyCache.WithLabelValues("miss").Inc()
	}
}

// RecordImportedComponents counts import results.
func (m *MetricsService) RecordImportedComponents(imported, failed int) {
	if m == nil {
		return
	}
	if imported > 0 {
		m.importComps.WithLabelValues("imported").Add(float64(imported))
	}
	if failed > 0 {
		m.importComps.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveOccurrenceExpansion records the time spent expanding a series.
func (m *MetricsService) ObserveOccurrenceExpansion(duration time.Duration) {
	if m == nil {
		return
	}
	m.occExpansion.Observe(duration.Seconds())
}

// RecordTombstonesPurged counts removed tombstone rows.
func (m *MetricsService) RecordTombstonesPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.tombstonePurged.Add(float64(count))
}

// SetSchedulingQueueDepth publishes the current dispatch backlog.
func (m *MetricsService) SetSchedulingQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// MetricsSnapshot aggregates simple counters for the health endpoint.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// Snapshot returns aggregated metrics without scraping the registry.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
