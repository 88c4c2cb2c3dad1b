// Package metrics holds the executor's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "executor"

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Matching cycles by network and outcome",
		},
		[]string{"network", "outcome"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full matching cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"network"},
	)

	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Match attempts by network and result",
		},
		[]string{"network", "result"},
	)

	RevertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Decoded on-chain reverts by reason",
		},
		[]string{"network", "reason"},
	)

	ConditionalTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditional_triggered_total",
			Help:      "Conditional orders converted into open orders",
		},
		[]string{"network", "type"},
	)

	SagaTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_transitions_total",
			Help:      "Cross-chain saga state transitions",
		},
		[]string{"state"},
	)

	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events handed to Kafka by delivery status",
		},
		[]string{"event_type", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		MatchesTotal,
		RevertsTotal,
		ConditionalTriggered,
		SagaTransitions,
		OutboxPublished,
	)
}
