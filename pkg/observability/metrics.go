package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the stacks service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Local store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Remote content-repository gateway metrics
	RemoteCallsTotal   *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec

	// Dual-write consistency: best-effort remote deletes/updates that failed
	// after the local transaction committed
	ConsistencyWarningsTotal *prometheus.CounterVec

	// Access control metrics
	AccessDecisionsTotal       *prometheus.CounterVec
	PermissionCacheHitsTotal   prometheus.Counter
	PermissionCacheMissesTotal prometheus.Counter

	// Business gauges
	DatasetsTotal  prometheus.Gauge
	DocumentsTotal prometheus.Gauge

	// Database pool gauges
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stacks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_store_operations_total",
				Help: "Total number of local store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stacks_store_operation_duration_seconds",
				Help:    "Local store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_remote_calls_total",
				Help: "Total number of content-repository calls",
			},
			[]string{"operation", "status"},
		),
		RemoteCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stacks_remote_call_duration_seconds",
				Help:    "Content-repository call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ConsistencyWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_consistency_warnings_total",
				Help: "Best-effort remote calls that failed after a local commit, leaving an orphaned remote record",
			},
			[]string{"resource"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_access_decisions_total",
				Help: "Access control decisions by resource type, action and outcome",
			},
			[]string{"resource", "action", "allowed"},
		),
		PermissionCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stacks_permission_cache_hits_total",
			Help: "Permission resolution cache hits",
		}),
		PermissionCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stacks_permission_cache_misses_total",
			Help: "Permission resolution cache misses",
		}),
		DatasetsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stacks_datasets_total",
			Help: "Total number of datasets",
		}),
		DocumentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stacks_documents_total",
			Help: "Total number of documents",
		}),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stacks_db_connections_active",
			Help: "Active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stacks_db_connections_idle",
			Help: "Idle database connections",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.RemoteCallsTotal,
		m.RemoteCallDuration,
		m.ConsistencyWarningsTotal,
		m.AccessDecisionsTotal,
		m.PermissionCacheHitsTotal,
		m.PermissionCacheMissesTotal,
		m.DatasetsTotal,
		m.DocumentsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStoreOperation records a local store operation
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRemoteCall records a content-repository call
func (m *Metrics) RecordRemoteCall(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RemoteCallsTotal.WithLabelValues(operation, status).Inc()
	m.RemoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConsistencyWarning records an orphaned remote record
func (m *Metrics) RecordConsistencyWarning(resource string) {
	m.ConsistencyWarningsTotal.WithLabelValues(resource).Inc()
}

// RecordAccessDecision records an access control decision
func (m *Metrics) RecordAccessDecision(resource, action string, allowed bool) {
	m.AccessDecisionsTotal.WithLabelValues(resource, action, strconv.FormatBool(allowed)).Inc()
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps an HTTP handler with request metrics. The path
// label should be the route template, not the raw URL, to bound cardinality.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}
