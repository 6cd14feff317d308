// Package metrics holds the Prometheus instruments of the run loading
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons used as the "reason" label of runs_skipped_total.
const (
	ReasonNoReader  = "no_reader"
	ReasonEmpty     = "empty"
	ReasonReadError = "read_error"
)

// Metrics holds all Prometheus metrics for run loading.
type Metrics struct {
	RunsLoaded   prometheus.Counter
	RunsSkipped  *prometheus.CounterVec
	EventRecords prometheus.Counter
	DecodeErrors prometheus.Counter
	LoadDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	runsLoaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runpilot_runs_loaded_total",
		Help: "Total runs loaded successfully",
	})

	runsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runpilot_runs_skipped_total",
		Help: "Total run directories skipped because of unreadable data",
	}, []string{"reason"})

	eventRecords := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runpilot_event_records_total",
		Help: "Total event records consumed from tfevents files",
	})

	decodeErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runpilot_event_decode_errors_total",
		Help: "Total event records skipped because they could not be decoded",
	})

	loadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "runpilot_load_duration_seconds",
		Help:    "Time spent loading a single run",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	reg.MustRegister(runsLoaded, runsSkipped, eventRecords, decodeErrors, loadDuration)

	return &Metrics{
		RunsLoaded:   runsLoaded,
		RunsSkipped:  runsSkipped,
		EventRecords: eventRecords,
		DecodeErrors: decodeErrors,
		LoadDuration: loadDuration,
	}
}

func (m *Metrics) RunLoaded(d time.Duration) {
	if m == nil {
		return
	}
	m.RunsLoaded.Inc()
	m.LoadDuration.Observe(d.Seconds())
}

func (m *Metrics) RunSkipped(reason string) {
	if m == nil {
		return
	}
	m.RunsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordsRead(n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventRecords.Add(float64(n))
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}
