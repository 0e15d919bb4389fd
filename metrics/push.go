package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultTimeout bounds a single remote write request.
const DefaultTimeout = 30 * time.Second

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint, e.g. http://localhost:8428.
	URL string
	// Prefix is prepended to every metric name, joined with an underscore.
	Prefix string
	// Job is the job label for all series.
	Job string
	// Instance is the instance label for all series.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// PushRegistry is a Registry that keeps the latest value of every series in
// memory and sends them in a single remote write request on Flush.
type PushRegistry struct {
	cfg        PushConfig
	url        string
	httpClient *http.Client

	mu     sync.Mutex
	series map[string]*pushSeries
}

type pushSeries struct {
	name   string
	labels map[string]string
	value  float64
}

// NewPushRegistry creates a PushRegistry for cfg.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &PushRegistry{
		cfg:        cfg,
		url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		series:     make(map[string]*pushSeries),
	}
}

// NewGaugeVec returns a GaugeVec whose values are buffered until Flush.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return pushGaugeVec{r: r, name: opts.Name}, nil
}

// NewCounterVec returns a CounterVec whose values are buffered until Flush.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return pushCounterVec{r: r, name: opts.Name}, nil
}

// NewHistogramVec returns a HistogramVec. Remote write has no native
// histogram here, so observations are pushed as _sum and _count series.
func (r *PushRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error) {
	return pushHistogramVec{r: r, name: opts.Name}, nil
}

// update applies fn to the buffered value of the series.
func (r *PushRegistry) update(name string, labels map[string]string, fn func(float64) float64) {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[key]
	if !ok {
		s = &pushSeries{name: name, labels: maps.Clone(labels)}
		r.series[key] = s
	}
	s.value = fn(s.value)
}

// Len reports the number of buffered series.
func (r *PushRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.series)
}

// Flush sends every buffered series to the remote write endpoint. Buffered
// values are kept so counters stay cumulative across flushes.
func (r *PushRegistry) Flush(ctx context.Context) error {
	req := &prompb.WriteRequest{Timeseries: r.snapshot(time.Now())}
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// snapshot converts the buffered series to remote write time series, sorted
// by key so requests are deterministic.
func (r *PushRegistry) snapshot(now time.Time) []prompb.TimeSeries {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]prompb.TimeSeries, 0, len(r.series))
	for _, key := range slices.Sorted(maps.Keys(r.series)) {
		s := r.series[key]
		out = append(out, r.toTimeSeries(s, now))
	}
	return out
}

func (r *PushRegistry) toTimeSeries(s *pushSeries, now time.Time) prompb.TimeSeries {
	name := s.name
	if r.cfg.Prefix != "" {
		name = r.cfg.Prefix + "_" + name
	}

	labels := make([]prompb.Label, 0, len(s.labels)+3)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	if r.cfg.Job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.cfg.Job})
	}
	if r.cfg.Instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.cfg.Instance})
	}
	for _, k := range slices.Sorted(maps.Keys(s.labels)) {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: now.UnixMilli()}},
	}
}

func seriesKey(name string, labels map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString("," + k + "=" + labels[k])
	}
	return b.String()
}

type pushGaugeVec struct {
	r    *PushRegistry
	name string
}

func (g pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return pushGauge{r: g.r, name: g.name, labels: labels}
}

type pushGauge struct {
	r      *PushRegistry
	name   string
	labels map[string]string
}

func (g pushGauge) Set(v float64) {
	g.r.update(g.name, g.labels, func(float64) float64 { return v })
}

type pushCounterVec struct {
	r    *PushRegistry
	name string
}

func (c pushCounterVec) With(labels prometheus.Labels) Counter {
	return pushCounter{r: c.r, name: c.name, labels: labels}
}

type pushCounter struct {
	r      *PushRegistry
	name   string
	labels map[string]string
}

func (c pushCounter) Inc() {
	c.Add(1)
}

func (c pushCounter) Add(v float64) {
	if v < 0 {
		panic("metrics: counter cannot decrease")
	}
	c.r.update(c.name, c.labels, func(cur float64) float64 { return cur + v })
}

type pushHistogramVec struct {
	r    *PushRegistry
	name string
}

func (h pushHistogramVec) With(labels prometheus.Labels) Observer {
	return pushHistogram{r: h.r, name: h.name, labels: labels}
}

type pushHistogram struct {
	r      *PushRegistry
	name   string
	labels map[string]string
}

func (h pushHistogram) Observe(v float64) {
	h.r.update(h.name+"_sum", h.labels, func(cur float64) float64 { return cur + v })
	h.r.update(h.name+"_count", h.labels, func(cur float64) float64 { return cur + 1 })
}
