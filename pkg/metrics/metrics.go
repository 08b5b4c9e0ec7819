// Package metrics exposes Prometheus collectors for settlement outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Fills          *prometheus.CounterVec
	FilledOrders   *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	Cancels        prometheus.Counter
	Sweeps         *prometheus.CounterVec
	ConfigChanges  *prometheus.CounterVec
	SettleDuration *prometheus.HistogramVec
	SinkFailures   *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in the node and a
// fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "fills_total",
			Help:      "Settlement calls committed, by mode.",
		}, []string{"mode"}),
		FilledOrders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "filled_orders_total",
			Help:      "Order fills committed (a batch counts each element), by mode.",
		}, []string{"mode"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "rejections_total",
			Help:      "Settlement calls rejected, by mode and error code.",
		}, []string{"mode", "code"}),
		Cancels: f.NewCounter(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "cancels_total",
			Help:      "Successful cancelOrder calls, including repeats.",
		}),
		Sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "sweeps_total",
			Help:      "Treasury sweeps, by kind.",
		}, []string{"kind"}),
		ConfigChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "config_changes_total",
			Help:      "Owner configuration changes, by kind.",
		}, []string{"kind"}),
		SettleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stoplimit",
			Name:      "settle_duration_seconds",
			Help:      "Wall time of settlement calls, by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoplimit",
			Name:      "event_sink_failures_total",
			Help:      "Events a sink failed to publish, by sink.",
		}, []string{"sink"}),
	}
}

// The observe helpers are nil-safe so components can run without metrics.

func (m *Metrics) ObserveFill(mode string, orders int, took time.Duration) {
	if m == nil {
		return
	}
	m.Fills.WithLabelValues(mode).Inc()
	m.FilledOrders.WithLabelValues(mode).Add(float64(orders))
	m.SettleDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) ObserveRejection(mode, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(mode, code).Inc()
	m.SettleDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) ObserveCancel() {
	if m == nil {
		return
	}
	m.Cancels.Inc()
}

func (m *Metrics) ObserveSweep(kind string) {
	if m == nil {
		return
	}
	m.Sweeps.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveConfigChange(kind string) {
	if m == nil {
		return
	}
	m.ConfigChanges.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}
