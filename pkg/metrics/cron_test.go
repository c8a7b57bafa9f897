package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsRunsAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "offline-sync-sweep"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncFailure(job)
	metrics.IncLockSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "sync_worker_job_runs_total")
	if runs == nil {
		t.Fatal("runs counter not exported")
	}
	outcomes := map[string]float64{}
	for _, m := range runs.GetMetric() {
		if matchesLabel(m.GetLabel(), "job", job) {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if outcomes["success"] != 1 || outcomes["failure"] != 2 {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}

	if got, err := fetchHistogramSum(mfs, "sync_worker_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	last := findMetricFamily(mfs, "sync_worker_job_last_success_timestamp_seconds")
	if last == nil || len(last.GetMetric()) != 1 || last.GetMetric()[0].GetGauge().GetValue() <= 0 {
		t.Fatalf("expected last-success gauge to be stamped")
	}

	skips := findMetricFamily(mfs, "sync_worker_lock_skips_total")
	if skips == nil || skips.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one lock skip")
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var metrics *CronJobMetrics
	metrics.IncSuccess("job")
	metrics.IncFailure("job")
	metrics.IncLockSkipped()
	metrics.ObserveDuration("job", time.Second)

	NewCronJobMetrics(nil).IncSuccess("job")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
