// Package metrics provides Prometheus-compatible metrics for capexec.
//
// Two modes are supported:
//   - Scrape mode (server): metrics live in a Prometheus registry served on /metrics
//   - Push mode (CLI): samples are buffered and sent to a VictoriaMetrics or
//     Prometheus remote write endpoint when the run finishes
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	// Add panics if v is negative.
	Add(v float64)
}

// Observer records observations such as durations.
type Observer interface {
	Observe(float64)
}

// GaugeVec is a Gauge partitioned by labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter partitioned by labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// HistogramVec is a histogram partitioned by labels.
type HistogramVec interface {
	With(prometheus.Labels) Observer
}

// Registry creates and registers metrics. Implementations hide the
// differences between push and scrape modes.
type Registry interface {
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
	NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error)
}
