package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_payment_attempts_total",
			Help: "Milestone payment attempts by final outcome",
		},
		[]string{"outcome"},
	)

	PaymentRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_payment_rejections_total",
			Help: "Pay requests refused before reaching the gateway",
		},
		[]string{"reason"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal status transitions",
		},
		[]string{"to"},
	)

	ContractTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_transitions_total",
			Help: "Contract status transitions",
		},
		[]string{"from", "to"},
	)

	ReconcilerResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_resolved_total",
			Help: "Payments and credits resolved by the reconciler",
		},
		[]string{"kind"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_exceeded_total",
			Help: "Requests refused by the rate limiter",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "balance_websocket_clients",
			Help: "Connected balance websocket clients",
		},
	)
)
