package orchestrator

// #region imports
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// #endregion

// #region metrics

var tracer = otel.Tracer("lab.orchestrator")

var (
	observationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_observations_total",
		Help: "Observations processed, by whether novelty started a cycle.",
	}, []string{"triggered"})

	cycleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_cycle_outcomes_total",
		Help: "Finished cycles by outcome (confirmed or halt kind).",
	}, []string{"outcome"})

	policyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_policy_decisions_total",
		Help: "Policy decisions by result.",
	}, []string{"decision"})

	generatorCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lab_generator_calls_total",
		Help: "Calls made to the hypothesis generator.",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lab_step_duration_seconds",
		Help:    "Wall time of executed test steps.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"kind", "interrupted"})
)

// #endregion
