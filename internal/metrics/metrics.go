// Package metrics exposes locator counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "locator"

// Metrics holds the locator's Prometheus collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Captures        prometheus.Counter
	CaptureFailures prometheus.Counter
	FrameReuses     prometheus.Counter
	TemplateLoads   *prometheus.CounterVec   // result = ok|error
	Matches         *prometheus.CounterVec   // operation, method, result = matched|unmatched|error
	MatchDuration   *prometheus.HistogramVec // operation
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Frames captured from the capture target.",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Captures that failed or timed out.",
		}),
		FrameReuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_reuses_total",
			Help:      "Frame requests answered from a locked frame.",
		}),
		TemplateLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_loads_total",
			Help:      "Template decode attempts.",
		}, []string{"result"}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Find and FindAll calls by outcome.",
		}, []string{"operation", "method", "result"}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent correlating one template against one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{
		m.Captures, m.CaptureFailures, m.FrameReuses, m.TemplateLoads, m.Matches, m.MatchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CaptureSucceeded records a successful capture
func (m *Metrics) CaptureSucceeded() {
	if m != nil {
		m.Captures.Inc()
	}
}

// CaptureFailed records a failed capture
func (m *Metrics) CaptureFailed() {
	if m != nil {
		m.CaptureFailures.Inc()
	}
}

// FrameReused records a locked-frame hit
func (m *Metrics) FrameReused() {
	if m != nil {
		m.FrameReuses.Inc()
	}
}

// TemplateLoaded records a template decode attempt
func (m *Metrics) TemplateLoaded(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TemplateLoads.WithLabelValues(result).Inc()
}

// MatchObserved records one match call
func (m *Metrics) MatchObserved(operation, method, result string, seconds float64) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(operation, method, result).Inc()
	if result != "error" {
		m.MatchDuration.WithLabelValues(operation).Observe(seconds)
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
