package limits

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for admission control.
type Metrics struct {
	// Admission decisions by resource and reason ("admitted" for admits)
	decisions *prometheus.CounterVec

	// Check latency
	checkDuration prometheus.Histogram

	// Admitted requests that have not released their slot
	inflight prometheus.Gauge

	// Current base limit per resource
	resourceLimit *prometheus.GaugeVec

	// Spend in USD, global and per resource
	spend *prometheus.GaugeVec

	// 1 while a resource's breaker is open
	circuitOpen *prometheus.GaugeVec

	budgetAlerts        *prometheus.CounterVec
	adaptiveAdjustments *prometheus.CounterVec
}

// NewMetrics creates the admission metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_admission_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"resource", "reason"},
		),

		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sluice_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
		),

		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sluice_inflight_requests",
				Help: "Current number of admitted requests holding a concurrency slot",
			},
		),

		resourceLimit: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sluice_resource_limit",
				Help: "Current base limit per resource in requests per minute",
			},
			[]string{"resource"},
		),

		spend: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sluice_spend_usd",
				Help: "Spend in USD since the last budget reset",
			},
			[]string{"scope"},
		),

		circuitOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sluice_circuit_open",
				Help: "Whether the circuit breaker of a resource is open (1) or not (0)",
			},
			[]string{"resource"},
		),

		budgetAlerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_budget_alerts_total",
				Help: "Total number of budget threshold alerts",
			},
			[]string{"threshold"},
		),

		adaptiveAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sluice_adaptive_adjustments_total",
				Help: "Total number of adaptive limit adjustments",
			},
			[]string{"resource", "direction"},
		),
	}
}

// RecordDecision records an admission decision.
func (m *Metrics) RecordDecision(resource string, outcome Outcome) {
	reason := "admitted"
	if !outcome.Admitted {
		reason = string(outcome.Reason)
	}
	m.decisions.WithLabelValues(resource, reason).Inc()
}

// RecordCheckDuration records the duration of an admission check.
func (m *Metrics) RecordCheckDuration(seconds float64) {
	m.checkDuration.Observe(seconds)
}

// UpdateInFlight updates the in-flight request gauge.
func (m *Metrics) UpdateInFlight(count int64) {
	m.inflight.Set(float64(count))
}

// UpdateResourceLimit updates the limit gauge of a resource.
func (m *Metrics) UpdateResourceLimit(resource string, limit int) {
	m.resourceLimit.WithLabelValues(resource).Set(float64(limit))
}

// UpdateSpend updates the spend gauges.
func (m *Metrics) UpdateSpend(global float64, byResource map[string]float64) {
	m.spend.WithLabelValues("global").Set(global)
	for resource, amount := range byResource {
		m.spend.WithLabelValues(resource).Set(amount)
	}
}

// ResetSpend zeroes the spend gauges.
func (m *Metrics) ResetSpend() {
	m.spend.Reset()
	m.spend.WithLabelValues("global").Set(0)
}

// UpdateCircuitOpen sets the circuit gauge of a resource.
func (m *Metrics) UpdateCircuitOpen(resource string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	m.circuitOpen.WithLabelValues(resource).Set(value)
}

// RecordBudgetAlert records a budget threshold alert.
func (m *Metrics) RecordBudgetAlert(threshold float64) {
	m.budgetAlerts.WithLabelValues(strconv.FormatFloat(threshold, 'f', -1, 64)).Inc()
}

// RecordAdjustment records an adaptive limit adjustment.
func (m *Metrics) RecordAdjustment(resource, direction string) {
	m.adaptiveAdjustments.WithLabelValues(resource, direction).Inc()
}

// ForgetResource deletes every series labelled with resource.
func (m *Metrics) ForgetResource(resource string) {
	labels := prometheus.Labels{"resource": resource}
	m.decisions.DeletePartialMatch(labels)
	m.adaptiveAdjustments.DeletePartialMatch(labels)
	m.resourceLimit.DeleteLabelValues(resource)
	m.circuitOpen.DeleteLabelValues(resource)
}
