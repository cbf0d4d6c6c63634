package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "battery_etl_"

	ResultSuccess = "success"
	ResultError   = "error"

	RowAccepted  = "accepted"
	RowShort     = "short"
	RowUnmapped  = "unmapped"
	RowMalformed = "malformed"

	BindBound    = "bound"
	BindConflict = "conflict"
	BindError    = "error"
)

// Recorder holds the job's collectors on its own registry
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	bindings    *prometheus.CounterVec
	poolSize    prometheus.Gauge
}

// New creates a recorder with every collector registered
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total pipeline runs by result",
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_total",
				Help: "Input rows by outcome",
			},
			[]string{"outcome"},
		),
		bindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mac_bindings_total",
				Help: "MAC to model claim attempts by result",
			},
			[]string{"result"},
		),
		poolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "available_models",
				Help: "Unassigned models in the snapshot taken at run start",
			},
		),
	}
	r.registry.MustRegister(r.runs, r.runDuration, r.rows, r.bindings, r.poolSize)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRun records a finished run
func (r *Recorder) ObserveRun(result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(result).Inc()
	r.runDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// IncRow counts one input row outcome
func (r *Recorder) IncRow(outcome string) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(outcome).Inc()
}

// IncBinding counts one claim attempt
func (r *Recorder) IncBinding(result string) {
	if r == nil {
		return
	}
	r.bindings.WithLabelValues(result).Inc()
}

// SetPoolSize records the snapshot size
func (r *Recorder) SetPoolSize(n int) {
	if r == nil {
		return
	}
	r.poolSize.Set(float64(n))
}

// WriteTextfile writes the current values in the text exposition format, for
// collection by a node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
