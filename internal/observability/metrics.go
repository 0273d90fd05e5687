package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for scoring and investigation
// updates. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DomainScores          *prometheus.HistogramVec
	DomainStatus          *prometheus.CounterVec
	ValidationCorrections *prometheus.CounterVec
	GatingDecisions       *prometheus.CounterVec
	LintFindings          *prometheus.CounterVec
	InvestigationUpdates  *prometheus.CounterVec
	UpdateDuration        prometheus.Histogram
	OptimisticRetries     prometheus.Counter
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DomainScores: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olorin_domain_score",
			Help:    "Distribution of present domain scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"domain"}),
		DomainStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "olorin_domain_results_total",
			Help: "Domain results by evidentiary status",
		}, []string{"domain", "status"}),
		ValidationCorrections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "olorin_validation_corrections_total",
			Help: "Domain results corrected by the validator",
		}, []string{"domain"}),
		GatingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "olorin_gating_decisions_total",
			Help: "Aggregation gating outcomes",
		}, []string{"gating", "reason"}),
		LintFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "olorin_lint_findings_total",
			Help: "Lint findings by kind and severity",
		}, []string{"kind", "severity"}),
		InvestigationUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "olorin_investigation_updates_total",
			Help: "Investigation update attempts by outcome",
		}, []string{"outcome"}),
		UpdateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "olorin_investigation_update_duration_seconds",
			Help:    "Latency of investigation updates",
			Buckets: prometheus.DefBuckets,
		}),
		OptimisticRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "olorin_optimistic_retries_total",
			Help: "Conditional writes retried after losing a race without a pinned version",
		}),
	}
}

func (m *Metrics) ObserveDomain(domain, status string, score *float64) {
	if m == nil {
		return
	}
	m.DomainStatus.WithLabelValues(domain, status).Inc()
	if score != nil {
		m.DomainScores.WithLabelValues(domain).Observe(*score)
	}
}

func (m *Metrics) ObserveCorrection(domain string) {
	if m == nil {
		return
	}
	m.ValidationCorrections.WithLabelValues(domain).Inc()
}

func (m *Metrics) ObserveGating(gating, reason string) {
	if m == nil {
		return
	}
	m.GatingDecisions.WithLabelValues(gating, reason).Inc()
}

func (m *Metrics) ObserveFinding(kind, severity string) {
	if m == nil {
		return
	}
	m.LintFindings.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) ObserveUpdate(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.InvestigationUpdates.WithLabelValues(outcome).Inc()
	m.UpdateDuration.Observe(seconds)
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.OptimisticRetries.Inc()
}
