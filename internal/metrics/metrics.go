// Package metrics registers the server's prometheus instruments. Validation
// outcomes are counted by internal reason even though the public response
// collapses them to a boolean, so operators can tell tampering and backend
// outages apart from ordinary expiry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ValidationTotal *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	LoginFailures   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ValidationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_validation_total",
			Help: "License validation requests by internal outcome.",
		}, []string{"outcome"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "license_store_errors_total",
			Help: "Store operation failures by operation.",
		}, []string{"op"}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "license_admin_login_failures_total",
			Help: "Failed admin login attempts.",
		}),
	}
}
