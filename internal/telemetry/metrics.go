// Package telemetry provides the ambient observability stack: Prometheus
// counters/histograms for the search loop and OpenTelemetry spans around
// every capability-call boundary. Telemetry is additive, never load-bearing:
// an exporter failure is logged and swallowed, it never surfaces as a
// session error.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the kernel's Prometheus instruments.
type Metrics struct {
	IterationsTotal    prometheus.Counter
	ExpansionsTotal    prometheus.Counter
	PromotionsTotal    *prometheus.CounterVec
	ConflictsTotal     prometheus.Counter
	ExpansionDuration  prometheus.Histogram
	ModelCallsTotal    prometheus.Counter
	ModelCallDuration  prometheus.Histogram
}

// NewMetrics registers the kernel instruments on reg and returns them. Pass
// prometheus.DefaultRegisterer outside tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sro_mcts_iterations_total",
			Help: "MCTS iterations completed across all sessions.",
		}),
		ExpansionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sro_expansions_total",
			Help: "Node expansions completed.",
		}),
		PromotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sro_tier_promotions_total",
			Help: "Triple tier promotions, labeled by target tier.",
		}, []string{"tier"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sro_conflicts_total",
			Help: "Conflict records created.",
		}),
		ExpansionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sro_expansion_duration_seconds",
			Help:    "Wall-clock duration of node expansions.",
			Buckets: prometheus.DefBuckets,
		}),
		ModelCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sro_model_calls_total",
			Help: "LanguageModel completions issued.",
		}),
		ModelCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sro_model_call_duration_seconds",
			Help:    "Wall-clock duration of LanguageModel completions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.IterationsTotal, m.ExpansionsTotal, m.PromotionsTotal,
		m.ConflictsTotal, m.ExpansionDuration,
		m.ModelCallsTotal, m.ModelCallDuration,
	)
	return m
}
