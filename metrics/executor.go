package metrics

import (
	"time"

	"github.com/nomis52/capexec/capped"
	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics holds the metrics reported by capped executions.
type ExecutorMetrics struct {
	admitted CounterVec
	settled  CounterVec
	aborted  CounterVec
	pending  GaugeVec
	duration HistogramVec
}

// NewExecutorMetrics registers the executor metrics with reg.
func NewExecutorMetrics(reg Registry) (*ExecutorMetrics, error) {
	var (
		m   ExecutorMetrics
		err error
	)
	if m.admitted, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "capped_tasks_admitted_total",
		Help: "Tasks whose factory returned an operation.",
	}, []string{"batch"}); err != nil {
		return nil, err
	}
	if m.settled, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "capped_tasks_settled_total",
		Help: "Tasks drained from the pending set, by outcome.",
	}, []string{"batch", "status"}); err != nil {
		return nil, err
	}
	if m.aborted, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "capped_runs_aborted_total",
		Help: "Executions that ended with an error.",
	}, []string{"batch"}); err != nil {
		return nil, err
	}
	if m.pending, err = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "capped_pending_tasks",
		Help: "Tasks admitted but not yet drained.",
	}, []string{"batch"}); err != nil {
		return nil, err
	}
	if m.duration, err = reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capped_task_duration_seconds",
		Help:    "Time from admission to drain.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"batch", "status"}); err != nil {
		return nil, err
	}
	return &m, nil
}

// ForBatch returns a capped.Observer that labels everything with batch.
func (m *ExecutorMetrics) ForBatch(batch string) capped.Observer {
	return &batchObserver{m: m, batch: batch}
}

type batchObserver struct {
	m     *ExecutorMetrics
	batch string
}

func (o *batchObserver) TaskAdmitted(_ int, pending int) {
	l := prometheus.Labels{"batch": o.batch}
	o.m.admitted.With(l).Inc()
	o.m.pending.With(l).Set(float64(pending))
}

func (o *batchObserver) TaskSettled(_ int, status capped.Status, elapsed time.Duration, pending int) {
	l := prometheus.Labels{"batch": o.batch, "status": status.String()}
	o.m.settled.With(l).Inc()
	o.m.duration.With(l).Observe(elapsed.Seconds())
	o.m.pending.With(prometheus.Labels{"batch": o.batch}).Set(float64(pending))
}

func (o *batchObserver) Aborted(error, int) {
	l := prometheus.Labels{"batch": o.batch}
	o.m.aborted.With(l).Inc()
	o.m.pending.With(l).Set(0)
}
