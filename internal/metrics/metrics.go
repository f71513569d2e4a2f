package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for optimistic mutations.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
)

var (
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contribium",
			Name:      "optimistic_mutations_total",
			Help:      "Optimistic mutations by feature, operation and outcome.",
		},
		[]string{"feature", "op", "outcome"},
	)

	PushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contribium",
			Name:      "push_events_total",
			Help:      "Change events handed to subscribers, by operation and result.",
		},
		[]string{"op", "result"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contribium",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(Mutations, PushEvents, HTTPRequests)
}

// Mutation records the outcome of one optimistic mutation.
func Mutation(feature, op, outcome string) {
	Mutations.WithLabelValues(feature, op, outcome).Inc()
}
