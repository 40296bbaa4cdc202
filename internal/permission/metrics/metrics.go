package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the permission module.
type Metrics struct {
	// Cache lookups by result: hit, miss, error
	CacheLookups *prometheus.CounterVec

	// Resolution latency by subject kind, cache misses only
	ResolveLatency *prometheus.HistogramVec

	// Access decisions by outcome: granted, denied, admin_bypass, error
	Decisions *prometheus.CounterVec

	// Policy mutations by subject kind and result: changed, noop, conflict, error
	Mutations *prometheus.CounterVec

	// Post-commit cache invalidations by result
	Invalidations *prometheus.CounterVec

	// Gate terminal states: denied, executed, faulted, error
	GateOutcomes *prometheus.CounterVec

	// Data-access log rows written by category
	DataAccessRows *prometheus.CounterVec

	// Rows touched by retention by category and operation
	RetentionRows *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the module metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_cache_lookups_total",
			Help: "Permission cache lookups by result",
		}, []string{"result"}),

		ResolveLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "permguard_resolve_duration_seconds",
			Help:    "Duration of effective permission resolution from the store",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"subject_kind"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_decisions_total",
			Help: "Access decisions by outcome",
		}, []string{"outcome"}),

		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_policy_mutations_total",
			Help: "Policy mutations by subject kind and result",
		}, []string{"subject_kind", "result"}),

		Invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_cache_invalidations_total",
			Help: "Cache invalidations after policy mutations by result",
		}, []string{"result"}),

		GateOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_gate_outcomes_total",
			Help: "Enforcement gate terminal states",
		}, []string{"outcome"}),

		DataAccessRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_data_access_rows_total",
			Help: "Data access log rows written by data category",
		}, []string{"category"}),

		RetentionRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permguard_retention_rows_total",
			Help: "Data access log rows anonymized or deleted by retention",
		}, []string{"category", "operation"}),
	}
}

// IncrementCacheLookup records a cache lookup result.
func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveResolveLatency records a store-backed resolution.
func (m *Metrics) ObserveResolveLatency(subjectKind string, d time.Duration) {
	if m != nil {
		m.ResolveLatency.WithLabelValues(subjectKind).Observe(d.Seconds())
	}
}

// IncrementDecision records an access decision.
func (m *Metrics) IncrementDecision(outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome).Inc()
	}
}

// IncrementMutation records a policy mutation result.
func (m *Metrics) IncrementMutation(subjectKind, result string) {
	if m != nil {
		m.Mutations.WithLabelValues(subjectKind, result).Inc()
	}
}

// IncrementInvalidation records a post-commit invalidation.
func (m *Metrics) IncrementInvalidation(result string) {
	if m != nil {
		m.Invalidations.WithLabelValues(result).Inc()
	}
}

// IncrementGateOutcome records where a gated operation ended.
func (m *Metrics) IncrementGateOutcome(outcome string) {
	if m != nil {
		m.GateOutcomes.WithLabelValues(outcome).Inc()
	}
}

// AddDataAccessRows records rows written to the data access log.
func (m *Metrics) AddDataAccessRows(category string, n int) {
	if m != nil {
		m.DataAccessRows.WithLabelValues(category).Add(float64(n))
	}
}

// AddRetentionRows records rows processed by retention.
func (m *Metrics) AddRetentionRows(category, operation string, n int64) {
	if m != nil {
		m.RetentionRows.WithLabelValues(category, operation).Add(float64(n))
	}
}
