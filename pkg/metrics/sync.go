package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records offline queue sync outcomes.
type SyncMetrics struct {
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	alerts   *prometheus.CounterVec
}

// NewSyncMetrics registers the offline sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_sync_items_total",
		Help: "Queue items handled by sync passes, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_sync_pass_duration_seconds",
		Help:    "Duration of offline sync and reconcile passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_alerts_raised_total",
		Help: "Offline alerts raised, by category and severity.",
	}, []string{"category", "severity"})
	reg.MustRegister(items, duration, alerts)
	return &SyncMetrics{items: items, duration: duration, alerts: alerts}
}

// ObserveOutcome counts one processed item.
func (m *SyncMetrics) ObserveOutcome(outcome string) {
	if m == nil || m.items == nil {
		return
	}
	m.items.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObservePass records how long a pass took.
func (m *SyncMetrics) ObservePass(mode string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(mode)).Observe(d.Seconds())
}

// ObserveAlert counts a raised alert.
func (m *SyncMetrics) ObserveAlert(category, severity string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(category), normalizeLabel(severity)).Inc()
}
