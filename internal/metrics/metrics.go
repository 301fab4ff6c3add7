// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	Lockouts        *prometheus.CounterVec
	TokenRejections *prometheus.CounterVec
	CsrfRejections  prometheus.Counter
	SessionsRevoked prometheus.Counter

	registry *prometheus.Registry
}

// New registers all counters on a private registry so tests can create
// instances freely without duplicate-registration panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Lockouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_lockouts_total",
			Help: "Lockouts engaged, by scope (account or ip).",
		}, []string{"scope"}),
		TokenRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_token_rejections_total",
			Help: "Tokens rejected by the guard, by reason.",
		}, []string{"reason"}),
		CsrfRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_csrf_rejections_total",
			Help: "Mutating requests rejected for CSRF mismatch.",
		}),
		SessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_sessions_revoked_total",
			Help: "Sessions explicitly revoked.",
		}),
		registry: registry,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
