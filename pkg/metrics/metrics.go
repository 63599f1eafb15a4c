package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics without complex initialization.

var (
	// OutcomesEnumerated counts the combinations evaluated during outcome enumeration.
	OutcomesEnumerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphnet_outcomes_enumerated_total",
			Help: "Total number of hypotheses evaluated before pruning",
		},
	)

	// OutcomesPruned counts the combinations dropped by the catastrophe limit.
	OutcomesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphnet_outcomes_pruned_total",
			Help: "Total number of hypotheses discarded by the top-K prune",
		},
	)

	// OutcomesRetained tracks how many outcomes a node keeps per step.
	OutcomesRetained = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphnet_outcomes_retained",
			Help:    "Outcomes retained per node per step",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 16, 32},
		},
	)

	// Steps counts forward steps driven by any network.
	Steps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphnet_steps_total",
			Help: "Total number of forward steps",
		},
	)

	// SkippedSteps counts node time steps the backward pass skipped for lack of probability mass.
	SkippedSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphnet_backward_skipped_steps_total",
			Help: "Node time steps skipped during backward processing because their probability volume was zero",
		},
	)

	// EpisodeLoss is the loss of the last trained episode, per session.
	EpisodeLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphnet_episode_loss",
			Help: "Probability-weighted squared error of the last episode",
		},
		[]string{"session"},
	)

	// GradientNorm is the euclidean norm of the last gradient handed to the optimizer.
	GradientNorm = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphnet_gradient_norm",
			Help: "L2 norm of the last linearized gradient",
		},
		[]string{"session"},
	)
)
