package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFill("batch", 3, time.Millisecond)
	m.ObserveFill("single", 1, time.Millisecond)
	m.ObserveRejection("single", "overfilled", time.Millisecond)
	m.ObserveCancel()
	m.ObserveSweep("fees")

	if got := testutil.ToFloat64(m.FilledOrders.WithLabelValues("batch")); got != 3 {
		t.Errorf("filled_orders_total{batch} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Fills.WithLabelValues("single")); got != 1 {
		t.Errorf("fills_total{single} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Rejections.WithLabelValues("single", "overfilled")); got != 1 {
		t.Errorf("rejections_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Cancels); got != 1 {
		t.Errorf("cancels_total = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFill("single", 1, 0)
	m.ObserveRejection("single", "expired", 0)
	m.ObserveCancel()
	m.ObserveSweep("stray")
	m.ObserveConfigChange("fees")
	m.ObserveSinkFailure("nats")
}
