// Package metrics provides Prometheus metrics for the orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	QueueDepthGauge  *prometheus.GaugeVec
	JobsTotal        *prometheus.CounterVec
	AgentRuns        *prometheus.CounterVec
	AgentDuration    *prometheus.HistogramVec
	WebhookRejects   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_events_dispatched_total",
				Help: "Events routed to a queue, by type.",
			},
			[]string{"type"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_events_dropped_total",
				Help: "Events that matched no handler, by type.",
			},
			[]string{"type"},
		),
		QueueDepthGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_queue_depth",
				Help: "Jobs queued or running per queue.",
			},
			[]string{"queue"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_jobs_total",
				Help: "Jobs processed per queue and outcome.",
			},
			[]string{"queue", "outcome"},
		),
		AgentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_runs_total",
				Help: "Supervised agent runs by agent and outcome.",
			},
			[]string{"agent", "outcome"},
		),
		AgentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_agent_run_seconds",
				Help:    "Agent run wall time by agent.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"agent"},
		),
		WebhookRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_webhook_rejects_total",
				Help: "Webhook requests failing verification, by source.",
			},
			[]string{"source"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsDispatched)
	reg.MustRegister(m.EventsDropped)
	reg.MustRegister(m.QueueDepthGauge)
	reg.MustRegister(m.JobsTotal)
	reg.MustRegister(m.AgentRuns)
	reg.MustRegister(m.AgentDuration)
	reg.MustRegister(m.WebhookRejects)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventRouted counts a dispatched event.
func (m *Metrics) EventRouted(t string) {
	m.EventsDispatched.WithLabelValues(t).Inc()
}

// EventDropped counts an unroutable event.
func (m *Metrics) EventDropped(t string) {
	m.EventsDropped.WithLabelValues(t).Inc()
}

// QueueDepth updates the depth gauge for a queue.
func (m *Metrics) QueueDepth(name string, depth int) {
	m.QueueDepthGauge.WithLabelValues(name).Set(float64(depth))
}

// JobDone counts a finished job.
func (m *Metrics) JobDone(name string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.JobsTotal.WithLabelValues(name, outcome).Inc()
}

// AgentRun records an agent run outcome and duration.
func (m *Metrics) AgentRun(agent, _ string, success bool, d time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.AgentRuns.WithLabelValues(agent, outcome).Inc()
	m.AgentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// WebhookRejected counts a failed verification.
func (m *Metrics) WebhookRejected(source string) {
	m.WebhookRejects.WithLabelValues(source).Inc()
}
