package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSyncMetricsExportsOutcomesAndAlerts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSyncMetrics(reg)
	metrics.ObserveOutcome("confirmed")
	metrics.ObserveOutcome("confirmed")
	metrics.ObserveOutcome("conflict")
	metrics.ObservePass("sync", 40*time.Millisecond)
	metrics.ObserveAlert("RISK", "READ_ONLY")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "offline_sync_items_total", "outcome", "confirmed"); err != nil {
		t.Fatalf("fetch confirmed: %v", err)
	} else if got != 2 {
		t.Fatalf("expected confirmed=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "offline_sync_items_total", "outcome", "conflict"); err != nil {
		t.Fatalf("fetch conflict: %v", err)
	} else if got != 1 {
		t.Fatalf("expected conflict=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "offline_alerts_raised_total", "severity", "READ_ONLY"); err != nil {
		t.Fatalf("fetch alerts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one alert, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "offline_sync_pass_duration_seconds", "mode", "sync"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestSyncMetricsNilSafe(t *testing.T) {
	var metrics *SyncMetrics
	metrics.ObserveOutcome("confirmed")
	metrics.ObservePass("sync", time.Second)
	metrics.ObserveAlert("QUEUE", "WARN")

	unregistered := NewSyncMetrics(nil)
	unregistered.ObserveOutcome("failed")
}
