package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkout outcomes.
const (
	checkoutCreated           = "created"
	checkoutReused            = "reused"
	checkoutInsufficientStock = "insufficient_stock"
	checkoutRejected          = "rejected"
	checkoutGatewayError      = "gateway_error"
	checkoutError             = "error"
)

var (
	// CheckoutRequests counts checkout attempts by outcome.
	CheckoutRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_preferences_total",
			Help: "Total number of checkout preference requests by outcome",
		},
		[]string{"outcome"},
	)

	// Compensations counts orders cancelled after a failed gateway call.
	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_compensations_total",
			Help: "Total number of compensating cancellations after gateway failures",
		},
		[]string{"result"},
	)

	// PaymentNotifications counts webhook notifications by outcome.
	PaymentNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Total number of payment notifications by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	// SweepResults counts orders visited by the expiry sweeper by result.
	SweepResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_sweep_results_total",
			Help: "Total number of expired orders processed by the sweeper by result",
		},
		[]string{"result"},
	)

	// SweepDuration observes how long each sweep takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
