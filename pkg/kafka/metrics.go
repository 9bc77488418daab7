package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish results used as the result label of EventsPublished.
const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	// EventsPublished counts publish attempts by topic and result.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_events_published_total",
			Help: "Domain events handed to Kafka, by topic and result (ok, error)",
		},
		[]string{"topic", "result"},
	)

	// PublishDuration observes how long a synchronous write to the brokers takes.
	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_events_publish_duration_seconds",
			Help:    "Duration of Kafka writes for domain events in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"topic"},
	)
)
