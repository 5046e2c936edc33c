// Package observability provides Prometheus metrics for executions, the
// dispatcher queue and schedule triggers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all scraparr metrics.
	MetricsNamespace = "scraparr"

	subsystemExecutions = "executions"
	subsystemScheduler  = "scheduler"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Execution metrics
	ExecutionsStarted  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionsRunning  prometheus.Gauge
	ItemsScraped       *prometheus.CounterVec

	// Dispatcher metrics
	QueueDepth    prometheus.Gauge
	WorkersBusy   prometheus.Gauge
	DroppedOnStop prometheus.Counter

	// Trigger metrics
	TriggersFired  *prometheus.CounterVec
	TriggersActive prometheus.Gauge
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initExecutionMetrics(factory)
	m.initDispatcherMetrics(factory)
	m.initTriggerMetrics(factory)

	return m
}

func (m *Metrics) initExecutionMetrics(factory promauto.Factory) {
	m.ExecutionsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExecutions,
			Name:      "started_total",
			Help:      "Total number of executions started",
		},
		[]string{"routine"},
	)

	m.ExecutionsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExecutions,
			Name:      "finished_total",
			Help:      "Total number of executions finished by status",
		},
		[]string{"routine", "status"},
	)

	m.ExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExecutions,
			Name:      "duration_seconds",
			Help:      "Duration of executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 16), // 0.5s to ~9h
		},
		[]string{"routine"},
	)

	m.ExecutionsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExecutions,
			Name:      "running",
			Help:      "Number of executions currently running",
		},
	)

	m.ItemsScraped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemExecutions,
			Name:      "items_scraped_total",
			Help:      "Total number of records returned by successful executions",
		},
		[]string{"routine"},
	)
}

func (m *Metrics) initDispatcherMetrics(factory promauto.Factory) {
	m.QueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemScheduler,
			Name:      "queue_depth",
			Help:      "Invocations waiting for a free execution slot",
		},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemScheduler,
			Name:      "workers_busy",
			Help:      "Execution slots currently in use",
		},
	)

	m.DroppedOnStop = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemScheduler,
			Name:      "dropped_on_stop_total",
			Help:      "Queued invocations dropped at shutdown",
		},
	)
}

func (m *Metrics) initTriggerMetrics(factory promauto.Factory) {
	m.TriggersFired = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemScheduler,
			Name:      "triggers_fired_total",
			Help:      "Total number of trigger fires by schedule type",
		},
		[]string{"schedule_type"},
	)

	m.TriggersActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystemScheduler,
			Name:      "triggers_active",
			Help:      "Number of live job triggers",
		},
	)
}

// RecordExecutionStarted increments the started counter and running gauge.
func (m *Metrics) RecordExecutionStarted(routine string) {
	if m == nil {
		return
	}
	m.ExecutionsStarted.WithLabelValues(routine).Inc()
	m.ExecutionsRunning.Inc()
}

// RecordExecutionFinished records a terminal execution.
func (m *Metrics) RecordExecutionFinished(routine, status string, items int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsRunning.Dec()
	m.ExecutionsFinished.WithLabelValues(routine, status).Inc()
	m.ExecutionDuration.WithLabelValues(routine).Observe(durationSeconds)
	if items > 0 {
		m.ItemsScraped.WithLabelValues(routine).Add(float64(items))
	}
}

// SetQueueState sets the dispatcher queue depth and busy worker count.
func (m *Metrics) SetQueueState(depth, busy int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.WorkersBusy.Set(float64(busy))
}

// RecordDropped counts queued invocations dropped at shutdown.
func (m *Metrics) RecordDropped(n int) {
	if m == nil {
		return
	}
	m.DroppedOnStop.Add(float64(n))
}

// RecordTriggerFired counts a trigger fire.
func (m *Metrics) RecordTriggerFired(scheduleType string) {
	if m == nil {
		return
	}
	m.TriggersFired.WithLabelValues(scheduleType).Inc()
}

// SetTriggersActive sets the number of live triggers.
func (m *Metrics) SetTriggersActive(n int) {
	if m == nil {
		return
	}
	m.TriggersActive.Set(float64(n))
}
