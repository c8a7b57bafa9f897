package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks what the outbox publisher did with each row.
type OutboxMetrics struct {
	publish *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publish := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(publish)
	return &OutboxMetrics{publish: publish}
}

// ObservePublish counts one row. Outcome is published, retry or terminal.
func (m *OutboxMetrics) ObservePublish(eventType, outcome string) {
	if m == nil || m.publish == nil {
		return
	}
	m.publish.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
