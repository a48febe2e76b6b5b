package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// turnsTotal counts finished turns by outcome (committed, cancelled, failed).
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Generation turns by terminal outcome.",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Wall time from turn start to its durable write.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
	)

	turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_turns_active",
			Help: "Turns currently between start and durable write.",
		},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal, turnDuration, turnsActive)
}
