// Package metrics holds the Prometheus collectors shared by the engine's
// processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "engagement"

type Metrics struct {
	SweepDuration      *prometheus.HistogramVec
	SweepErrors        *prometheus.CounterVec
	ChangesDispatched  *prometheus.CounterVec
	MessagesTotal      *prometheus.CounterVec
	SignalsApplied     *prometheus.CounterVec
	EventsIngested     prometheus.Counter
	TimersFired        prometheus.Counter
	IntegrationChanges *prometheus.CounterVec
	QueueDepth         prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_step_duration_seconds",
				Help:      "Duration of computed property sweep steps in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"step"},
		),
		SweepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_errors_total",
				Help:      "Total number of failed computed property sweep steps.",
			},
			[]string{"step"},
		),
		ChangesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_dispatched_total",
				Help:      "Total number of computed property changes dispatched to subscribers.",
			},
			[]string{"subscriber_type"},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journey_messages_total",
				Help:      "Total number of journey message attempts by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		SignalsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journey_signals_total",
				Help:      "Total number of signals handled by journey instances.",
			},
			[]string{"type", "result"},
		),
		EventsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of events written to the event table.",
			},
		),
		TimersFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journey_timers_fired_total",
				Help:      "Total number of journey timers fired.",
			},
		),
		IntegrationChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integration_changes_total",
				Help:      "Total number of computed property changes received by integrations.",
			},
			[]string{"integration"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ingest_queue_depth",
				Help:      "Approximate number of visible messages on the ingest queue at the last health check.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.SweepDuration,
		m.SweepErrors,
		m.ChangesDispatched,
		m.MessagesTotal,
		m.SignalsApplied,
		m.EventsIngested,
		m.TimersFired,
		m.IntegrationChanges,
		m.QueueDepth,
	)
	return m
}

// NewProcess returns collectors on a registry that also exports Go runtime
// and process metrics.
func NewProcess() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// NewNop returns collectors registered with a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
