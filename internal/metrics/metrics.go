package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the measurement server counters
type Metrics struct {
	// Run outcomes
	RunsDone      atomic.Uint64
	RunsNoMatches atomic.Uint64
	RunsFailed    atomic.Uint64

	// Pipeline throughput
	PairsMatched       atomic.Uint64
	Measurements       atomic.Uint64
	RejectedPairs      atomic.Uint64
	InvalidDetections  atomic.Uint64
	DetectionFailures  atomic.Uint64
	CaptureFailures    atomic.Uint64
	JobsDropped        atomic.Uint64
	DetectionLatencyMs atomic.Uint64 // Latency of the most recent left+right detection
	QueueLength        atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) }))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("stereo_runs_done_total", "Runs that matched at least one pair", &m.RunsDone)
	m.counter("stereo_runs_no_matches_total", "Runs where no pair could be matched", &m.RunsNoMatches)
	m.counter("stereo_runs_failed_total", "Runs aborted by a capture, decode or detection error", &m.RunsFailed)

	m.counter("stereo_pairs_matched_total", "Left/right pairs produced by the matcher", &m.PairsMatched)
	m.counter("stereo_measurements_total", "Measurements produced by the estimator", &m.Measurements)
	m.counter("stereo_rejected_pairs_total", "Pairs dropped for insufficient disparity", &m.RejectedPairs)
	m.counter("stereo_invalid_detections_total", "Malformed detections skipped by the matcher", &m.InvalidDetections)
	m.counter("stereo_detection_failures_total", "Object detector failures", &m.DetectionFailures)
	m.counter("stereo_capture_failures_total", "Camera capture failures", &m.CaptureFailures)
	m.counter("stereo_jobs_dropped_total", "Jobs refused because the queue was full", &m.JobsDropped)

	m.gauge("stereo_detection_latency_ms", "Latency of the most recent left+right detection in milliseconds",
		func() float64 { return float64(m.DetectionLatencyMs.Load()) })
	m.gauge("stereo_queue_length", "Jobs waiting for a worker",
		func() float64 { return float64(m.QueueLength.Load()) })
}

// UpdateDetectionLatency records how long the most recent detection took
func (m *Metrics) UpdateDetectionLatency(d time.Duration) {
	m.DetectionLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry contents, mostly for tests
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
