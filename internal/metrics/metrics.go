// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushRequestsTotal counts push requests by terminal outcome
	// (success, failure, idempotent, rate_limited, circuit_breaker,
	// invalid).
	PushRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_requests_total",
			Help: "Total push requests by result",
		},
		[]string{"result"},
	)

	// TelegramDispatchTotal counts backend dispatches by message kind
	TelegramDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_dispatch_total",
			Help: "Total telegram dispatches by message kind",
		},
		[]string{"kind"},
	)

	// TelegramDispatchSeconds tracks end-to-end dispatch latency,
	// including retries and backoff sleeps
	TelegramDispatchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telegram_dispatch_seconds",
			Help:    "Telegram dispatch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// CircuitBreakerState exports the breaker state
	// (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
)
