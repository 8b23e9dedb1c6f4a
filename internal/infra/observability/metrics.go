package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync daemon.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	storeRequests    *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	atomicRetries    *prometheus.CounterVec
	snapshotsApplied *prometheus.CounterVec
	subscriptionErrs *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evvo_request_duration_seconds",
				Help:    "Duration of repository and service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_store_requests_total",
				Help: "Total requests issued to the remote document store.",
			},
			[]string{"backend", "method"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_store_errors_total",
				Help: "Total failed requests against the remote document store.",
			},
			[]string{"backend"},
		),
		atomicRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_atomic_retries_total",
				Help: "Total conflict retries of atomic units.",
			},
			[]string{"backend"},
		),
		snapshotsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_snapshots_applied_total",
				Help: "Total live-query snapshots merged into the synchronized store.",
			},
			[]string{"collection"},
		),
		subscriptionErrs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_subscription_errors_total",
				Help: "Total per-collection subscription errors.",
			},
			[]string{"collection"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evvo_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStoreRequest counts one request against the remote store.
func (m *Metrics) IncrStoreRequest(backend, method string) {
	m.storeRequests.WithLabelValues(backend, method).Inc()
}

// IncrStoreError counts one failed remote store request.
func (m *Metrics) IncrStoreError(backend string) {
	m.storeErrors.WithLabelValues(backend).Inc()
}

// IncrAtomicRetry counts one conflict retry of an atomic unit.
func (m *Metrics) IncrAtomicRetry(backend string) {
	m.atomicRetries.WithLabelValues(backend).Inc()
}

// IncrSnapshotApplied counts one snapshot merged into a live collection.
func (m *Metrics) IncrSnapshotApplied(collection string) {
	m.snapshotsApplied.WithLabelValues(collection).Inc()
}

// IncrSubscriptionError counts one per-collection subscription error.
func (m *Metrics) IncrSubscriptionError(collection string) {
	m.subscriptionErrs.WithLabelValues(collection).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// SnapshotsApplied returns the cumulative snapshot count for a collection.
// Used by the sync status endpoint.
func (m *Metrics) SnapshotsApplied(collection string) float64 {
	return getCounterValue(m.snapshotsApplied, collection)
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
