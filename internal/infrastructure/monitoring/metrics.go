package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	InstructionSteps prometheus.Counter
	PeakMemory       prometheus.Histogram

	// Validator metrics
	Rejections *prometheus.CounterVec

	// Pool metrics
	PoolAvailable prometheus.Gauge

	// Scheduler metrics
	ExperimentRuns *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Returns nil if reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "censorscope_sessions_active",
				Help: "Number of open sandbox sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "censorscope_sessions_total",
				Help: "Total number of sandbox sessions created",
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "censorscope_runs_total",
				Help: "Total number of sandbox runs",
			},
			[]string{"outcome", "kind"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "censorscope_run_duration_seconds",
				Help:    "Sandbox run duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		InstructionSteps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "censorscope_instruction_steps_total",
				Help: "Total number of VM instruction steps executed",
			},
		),
		PeakMemory: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "censorscope_run_peak_memory_bytes",
				Help:    "Peak charged script memory per run in bytes",
				Buckets: []float64{1 << 10, 1 << 14, 1 << 17, 1 << 20, 1 << 23, 1 << 26},
			},
		),

		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "censorscope_validator_rejections_total",
				Help: "Total number of scripts rejected before loading",
			},
			[]string{"reason"},
		),

		PoolAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "censorscope_pool_available",
				Help: "Number of idle sessions in the pool",
			},
		),

		ExperimentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "censorscope_experiment_runs_total",
				Help: "Total number of scheduled experiment runs",
			},
			[]string{"experiment", "status"},
		),
	}
}

// SessionOpened records a new session
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed records a destroyed session
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(outcome, kind string, duration time.Duration, steps, peakMemory int64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome, kind).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.InstructionSteps.Add(float64(steps))
	if peakMemory > 0 {
		m.PeakMemory.Observe(float64(peakMemory))
	}
}

// RecordRejection records a script refused by the validator
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// SetPoolAvailable sets the number of idle pooled sessions
func (m *Metrics) SetPoolAvailable(count int) {
	if m == nil {
		return
	}
	m.PoolAvailable.Set(float64(count))
}

// RecordExperiment records one scheduled experiment run
func (m *Metrics) RecordExperiment(experiment, status string) {
	if m == nil {
		return
	}
	m.ExperimentRuns.WithLabelValues(experiment, status).Inc()
}
