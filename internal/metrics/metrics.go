// Package metrics exposes Prometheus instruments for the coordination core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Operation latency and result by exposed operation
	OperationLatency *prometheus.HistogramVec
	OperationResults *prometheus.CounterVec

	// Match outcomes: FULFILLED, PARTIAL, NO_MATCH
	MatchOutcomes *prometheus.CounterVec

	UnitsIssued      *prometheus.CounterVec
	UnitsAdded       *prometheus.CounterVec
	ReconcileChanges *prometheus.CounterVec
	NotifyFailures   *prometheus.CounterVec
}

// New registers every instrument with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodlink_operation_duration_seconds",
			Help:    "Duration of coordinator operations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),

		OperationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_operation_results_total",
			Help: "Coordinator operation results by error kind; ok on success",
		}, []string{"operation", "result"}),

		MatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_match_outcomes_total",
			Help: "Request match outcomes",
		}, []string{"outcome"}),

		UnitsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_units_issued_total",
			Help: "Blood units issued against requests",
		}, []string{"blood_group"}),

		UnitsAdded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_units_added_total",
			Help: "Blood units added to inventory",
		}, []string{"blood_group", "source"}), // source: "donation", "intake"

		ReconcileChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_reconcile_changes_total",
			Help: "Entities changed by reconciliation sweeps",
		}, []string{"sweep"}),

		NotifyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_notify_failures_total",
			Help: "Notifications that could not be delivered",
		}, []string{"event"}),
	}
}

func (m *Metrics) ObserveOperation(operation, result string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
		m.OperationResults.WithLabelValues(operation, result).Inc()
	}
}

func (m *Metrics) IncrementMatchOutcome(outcome string) {
	if m != nil {
		m.MatchOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddUnitsIssued(group string, n int) {
	if m != nil && n > 0 {
		m.UnitsIssued.WithLabelValues(group).Add(float64(n))
	}
}

func (m *Metrics) IncrementUnitsAdded(group, source string) {
	if m != nil {
		m.UnitsAdded.WithLabelValues(group, source).Inc()
	}
}

func (m *Metrics) AddReconcileChanges(sweep string, n int) {
	if m != nil && n > 0 {
		m.ReconcileChanges.WithLabelValues(sweep).Add(float64(n))
	}
}

func (m *Metrics) IncrementNotifyFailure(event string) {
	if m != nil {
		m.NotifyFailures.WithLabelValues(event).Inc()
	}
}
