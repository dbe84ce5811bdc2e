package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vpnagg/aggregator/pkg/model"
)

// MetricsSubscriber registers a counter-per-event-type with reg and returns
// a Subscriber that increments it on every event. No HTTP exporter is wired
// here — registration only; an external HTTP layer decides whether and how
// to expose /metrics.
func MetricsSubscriber(reg prometheus.Registerer) (Subscriber, error) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnagg_events_total",
			Help: "Total pipeline events observed, by type.",
		},
		[]string{"type"},
	)
	if err := reg.Register(counter); err != nil {
		return nil, err
	}

	return func(evt model.Event) {
		counter.WithLabelValues(string(evt.Type)).Inc()
	}, nil
}
