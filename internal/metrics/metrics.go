// Package metrics exposes the process's Prometheus collectors, grounded
// on the promauto registration idiom in the pack's fluxor
// pkg/observability/prometheus package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector streamd registers.
type Metrics struct {
	AppendsTotal         *prometheus.CounterVec
	AppendErrorsTotal    *prometheus.CounterVec
	EventsDeliveredTotal *prometheus.CounterVec
	SubscribersActive    prometheus.Gauge
	SubscribersLagged    *prometheus.CounterVec
}

// New registers every collector against reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Name:      "appends_total",
			Help:      "Total number of events durably appended, by path.",
		}, []string{"path"}),
		AppendErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Name:      "append_errors_total",
			Help:      "Total number of failed append attempts, by path and reason.",
		}, []string{"path", "reason"}),
		EventsDeliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Name:      "events_delivered_total",
			Help:      "Total number of events written to an SSE response, by path.",
		}, []string{"path"}),
		SubscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamd",
			Name:      "subscribers_active",
			Help:      "Number of currently open SSE subscriptions.",
		}),
		SubscribersLagged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Name:      "subscribers_lagged_total",
			Help:      "Total number of subscriptions terminated for lagging, by path.",
		}, []string{"path"}),
	}
}
