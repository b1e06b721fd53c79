// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zosmed"

// Metrics groups the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	safetyDecisions   *prometheus.CounterVec
	actionsSent       *prometheus.CounterVec
	actionFailures    *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	duplicateEvents   prometheus.Counter
}

// New creates the collectors on a dedicated registry that also carries the Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		safetyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_decisions_total",
				Help:      "Safety budget decisions by action type and result.",
			},
			[]string{"action", "result"},
		),
		actionsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_sent_total",
				Help:      "Outbound Instagram actions delivered.",
			},
			[]string{"action"},
		),
		actionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_failures_total",
				Help:      "Outbound Instagram actions that failed to send.",
			},
			[]string{"action"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Finished automation executions by terminal status.",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall time of automation executions, including safety delays.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),
		duplicateEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_events_total",
				Help:      "Redelivered trigger events dropped by deduplication.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.safetyDecisions,
		m.actionsSent,
		m.actionFailures,
		m.executions,
		m.executionDuration,
		m.duplicateEvents,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SafetyDecision(action, result string) {
	if m == nil {
		return
	}

	m.safetyDecisions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ActionSent(action string) {
	if m == nil {
		return
	}

	m.actionsSent.WithLabelValues(action).Inc()
}

func (m *Metrics) ActionFailed(action string) {
	if m == nil {
		return
	}

	m.actionFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) ExecutionFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.executions.WithLabelValues(status).Inc()
	m.executionDuration.Observe(duration.Seconds())
}

func (m *Metrics) DuplicateEvent() {
	if m == nil {
		return
	}

	m.duplicateEvents.Inc()
}
