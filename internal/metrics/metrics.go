// Package metrics exposes Prometheus counters for the credit gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the credit service counters.
type Metrics struct {
	registry *prometheus.Registry

	// CreditChecks counts advisory balance checks by result
	// (sufficient | insufficient | error).
	CreditChecks *prometheus.CounterVec

	// CreditConsumptions counts spend attempts by result
	// (ok | insufficient | error).
	CreditConsumptions *prometheus.CounterVec

	// CreditsConsumed is the total number of credits spent.
	CreditsConsumed prometheus.Counter

	// CreditsGranted is the total number of credits granted by admins.
	CreditsGranted prometheus.Counter

	// RateLimited counts requests rejected by the per-user rate limiter.
	RateLimited prometheus.Counter
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CreditChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_checks_total",
			Help: "Advisory credit balance checks by result.",
		}, []string{"result"}),
		CreditConsumptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_consumptions_total",
			Help: "Credit spend attempts by result.",
		}, []string{"result"}),
		CreditsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Total credits spent on API calls.",
		}),
		CreditsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "credits_granted_total",
			Help: "Total credits granted by admin operations.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the per-user rate limiter.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
