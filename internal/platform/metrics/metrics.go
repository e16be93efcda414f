package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ActionsDispatched *prometheus.CounterVec
	PurchasesCreated  prometheus.Counter
	EventsPublished   prometheus.Counter
}

// New creates and registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_actions_dispatched_total",
			Help: "Dispatched actions by kind and outcome",
		}, []string{"kind", "outcome"}),
		PurchasesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_purchases_created_total",
			Help: "Purchases created through the market surface",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "custodia_events_published_total",
			Help: "Events handed to the event worker",
		}),
	}
}

// ActionDispatched records one dispatch outcome.
func (m *Metrics) ActionDispatched(kind, outcome string) {
	m.ActionsDispatched.WithLabelValues(kind, outcome).Inc()
}

// IncrementPurchasesCreated increments the purchase counter by 1.
func (m *Metrics) IncrementPurchasesCreated() {
	m.PurchasesCreated.Inc()
}

// IncrementEventsPublished increments the published-event counter by 1.
func (m *Metrics) IncrementEventsPublished() {
	m.EventsPublished.Inc()
}
