package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestOrderMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)
	m.IncPlaced()
	m.IncPlaced()
	m.IncRejected("out_of_stock")
	m.IncRetry()
	m.ObserveDuration("placed", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := fetchPlainCounter(t, mfs, "storefront_orders_placed_total"); got != 2 {
		t.Fatalf("expected placed=2, got %f", got)
	}
	if got := fetchPlainCounter(t, mfs, "storefront_order_retries_total"); got != 1 {
		t.Fatalf("expected retries=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "storefront_orders_rejected_total", "reason", "out_of_stock"); err != nil {
		t.Fatalf("fetch rejected: %v", err)
	} else if got != 1 {
		t.Fatalf("expected rejected=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "storefront_order_place_duration_seconds", "outcome", "placed"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestHTTPMetricsLabelsRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("POST", "/api/v1/orders", 201, 5*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_http_requests_total", "route", "/api/v1/orders"); err != nil || got != 1 {
		t.Fatalf("expected one orders request, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_http_requests_total", "route", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty route to normalize, got %f err=%v", got, err)
	}
}

func TestOutboxMetricsTerminalFlag(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("order_created")
	m.IncFailed("order_created", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_outbox_failed_total", "terminal", "true"); err != nil || got != 1 {
		t.Fatalf("expected one terminal failure, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_outbox_published_total", "event_type", "order_created"); err != nil || got != 1 {
		t.Fatalf("expected one published event, got %f err=%v", got, err)
	}
}

func TestNilRecordersAreNoops(t *testing.T) {
	var orders *OrderMetrics
	orders.IncPlaced()
	orders.IncRejected("x")
	NewOrderMetrics(nil).IncRetry()
	NewHTTPMetrics(nil).Observe("GET", "/", 200, time.Millisecond)
	NewOutboxMetrics(nil).IncFailed("x", false)
}

func fetchPlainCounter(t *testing.T, mfs []*dto.MetricFamily, name string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		t.Fatalf("metric %q not found", name)
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
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
