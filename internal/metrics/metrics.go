// Package metrics holds the Prometheus collectors for the planner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for planning, generation and re-planning.
//
// All metrics are prefixed with "dayplan_":
//   - dayplan_generator_calls_total{backend,outcome}
//   - dayplan_generator_duration_seconds{backend}
//   - dayplan_plan_outcomes_total{outcome}
//   - dayplan_validation_findings_total{kind}
//   - dayplan_decisions_total{action_type}
//   - dayplan_replan_runs_total{result}
//   - dayplan_replan_coalesced_total
//   - dayplan_conflicts_detected_total
//   - dayplan_decision_subscribers
type Metrics struct {
	GeneratorCalls     *prometheus.CounterVec
	GeneratorLatency   *prometheus.HistogramVec
	PlanOutcomes       *prometheus.CounterVec
	ValidationFindings *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	ReplanRuns         *prometheus.CounterVec
	ReplanCoalesced    prometheus.Counter
	ConflictsDetected  prometheus.Counter
	Subscribers        prometheus.Gauge
}

// New creates the collectors and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GeneratorCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayplan_generator_calls_total",
				Help: "Generator backend calls by outcome",
			},
			[]string{"backend", "outcome"}, // "ok", "transient", "fatal"
		),
		GeneratorLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dayplan_generator_duration_seconds",
				Help:    "Generator backend call latency",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"backend"},
		),
		PlanOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayplan_plan_outcomes_total",
				Help: "Planning attempts by final outcome",
			},
			[]string{"outcome"},
		),
		ValidationFindings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayplan_validation_findings_total",
				Help: "Validation errors and warnings raised against generated plans",
			},
			[]string{"kind"}, // "error" or "warning"
		),
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayplan_decisions_total",
				Help: "Decisions written to the log by action type",
			},
			[]string{"action_type"},
		),
		ReplanRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayplan_replan_runs_total",
				Help: "Background re-planning runs by result",
			},
			[]string{"result"}, // "ok", "skipped", "error"
		),
		ReplanCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_replan_coalesced_total",
			Help: "Re-plan triggers merged into an already pending run",
		}),
		ConflictsDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_conflicts_detected_total",
			Help: "Conflicts found by the background monitor",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "dayplan_decision_subscribers",
			Help: "Open decision-feed websocket connections",
		}),
	}
}
