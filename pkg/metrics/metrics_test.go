package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewJobMetrics(reg)
	job := "outbox_publisher"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.AddItems(job, "published", 3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "smartpay_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "smartpay_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "smartpay_job_items_total", "result", "published"); err != nil {
		t.Fatalf("fetch items: %v", err)
	} else if got != 3 {
		t.Fatalf("expected items=3, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "smartpay_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestSettlementMetricsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.Observe(OutcomeSuccess, 20*time.Millisecond)
	m.Observe(OutcomeSuccess, 30*time.Millisecond)
	m.Observe(OutcomeInsufficientFunds, time.Millisecond)
	m.AddAmount(60)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "smartpay_settlements_total", "outcome", OutcomeSuccess); got != 2 {
		t.Fatalf("expected 2 successes, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "smartpay_settlements_total", "outcome", OutcomeInsufficientFunds); got != 1 {
		t.Fatalf("expected 1 funds rejection, got %f", got)
	}
	mf := findMetricFamily(mfs, "smartpay_settled_amount_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 60 {
		t.Fatalf("unexpected settled amount family %v", mf)
	}
}

func TestNotificationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetrics(reg)
	m.IncEnqueued()
	m.IncDropped("queue_full")
	m.ObserveDelivery("email", true)
	m.ObserveDelivery("sms", false)
	m.SetQueueDepth(4)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "smartpay_notifications_dropped_total", "reason", "queue_full"); got != 1 {
		t.Fatalf("expected 1 drop, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "smartpay_notifications_sent_total", "channel", "sms"); got != 1 {
		t.Fatalf("expected 1 sms attempt, got %f", got)
	}
}

func TestNilRecordersAreNoops(t *testing.T) {
	var s *SettlementMetrics
	s.Observe(OutcomeSuccess, time.Second)
	var n *NotificationMetrics
	n.IncDropped("closed")
	NewJobMetrics(nil).IncSuccess("x")
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
