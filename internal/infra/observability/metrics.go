package observability

import (
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Outcome labels of the lifecycle counters.
const (
	ValidationValid    = "valid"
	ValidationInvalid  = "invalid"
	ValidationConflict = "conflict"

	CommitCreated     = "created"
	CommitUpdated     = "updated"
	CommitOverwritten = "overwrite"

	DeleteDone    = "deleted"
	DeleteBlocked = "blocked"
	DeleteFailed  = "error"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	validations     *prometheus.CounterVec
	commits         *prometheus.CounterVec
	deletes         *prometheus.CounterVec
	classifications prometheus.Counter
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
				Name:    "rfv_bfa_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_external_errors_total",
				Help: "Total errors from the RFV API.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_validations_total",
				Help: "Configuration validations by outcome.",
			},
			[]string{"outcome"},
		),
		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_commits_total",
				Help: "Committed configurations by kind.",
			},
			[]string{"kind"},
		),
		deletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfv_bfa_deletes_total",
				Help: "Configuration deletions by outcome.",
			},
			[]string{"outcome"},
		),
		classifications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rfv_bfa_customers_classified_total",
				Help: "Customers scored by the classification preview.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrValidation counts a validation by outcome.
func (m *Metrics) IncrValidation(outcome string) {
	m.validations.WithLabelValues(outcome).Inc()
}

// IncrCommit counts a committed configuration.
func (m *Metrics) IncrCommit(kind string) {
	m.commits.WithLabelValues(kind).Inc()
}

// IncrDelete counts a deletion attempt by outcome.
func (m *Metrics) IncrDelete(outcome string) {
	m.deletes.WithLabelValues(outcome).Inc()
}

// AddClassifications adds n scored customers.
func (m *Metrics) AddClassifications(n int) {
	m.classifications.Add(float64(n))
}

// RFVSnapshot returns the lifecycle counters for GET /v1/metrics/rfv.
func (m *Metrics) RFVSnapshot() *domain.RFVMetrics {
	hits := sumCounter(m.cacheHits, "parameters", "filiais")
	misses := sumCounter(m.cacheMisses, "parameters", "filiais")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.RFVMetrics{
		Validations:     int64(sumCounter(m.validations, ValidationValid, ValidationInvalid, ValidationConflict)),
		Conflicts:       int64(getCounterValue(m.validations, ValidationConflict)),
		Commits:         int64(sumCounter(m.commits, CommitCreated, CommitUpdated, CommitOverwritten)),
		Deletes:         int64(getCounterValue(m.deletes, DeleteDone)),
		DeleteBlocked:   int64(getCounterValue(m.deletes, DeleteBlocked)),
		ExternalErrors:  int64(sumCounter(m.externalErrors, "rfvapi")),
		Classifications: int64(readCounter(m.classifications)),
		CacheHitRate:    hitRate,
	}
}

func sumCounter(cv *prometheus.CounterVec, labels ...string) float64 {
	total := float64(0)
	for _, l := range labels {
		total += getCounterValue(cv, l)
	}
	return total
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
