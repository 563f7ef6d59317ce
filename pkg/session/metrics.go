package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for interview sessions. All
// recording methods are nil-safe so library callers can opt out entirely.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted    prometheus.Counter
	sessionsCompleted  prometheus.Counter
	sessionsErrored    prometheus.Counter
	answersSubmitted   prometheus.Counter
	analysesReceived   prometheus.Counter
	protocolViolations *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Interview sessions started",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Interview sessions that reached COMPLETED",
		}),
		sessionsErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_errored_total",
			Help:      "Interview sessions that reached ERRORED",
		}),
		answersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_submitted_total",
			Help:      "submit_answer frames dispatched",
		}),
		analysesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_received_total",
			Help:      "answer_analyzed frames accepted",
		}),
		protocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Frames that broke a protocol invariant",
		}, []string{"kind"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Orchestrator state transitions",
		}, []string{"to"}),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionsErrored,
		m.answersSubmitted,
		m.analysesReceived,
		m.protocolViolations,
		m.stateTransitions,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) sessionCompleted() {
	if m != nil {
		m.sessionsCompleted.Inc()
	}
}

func (m *Metrics) sessionErrored() {
	if m != nil {
		m.sessionsErrored.Inc()
	}
}

func (m *Metrics) answerSubmitted() {
	if m != nil {
		m.answersSubmitted.Inc()
	}
}

func (m *Metrics) analysisReceived() {
	if m != nil {
		m.analysesReceived.Inc()
	}
}

func (m *Metrics) protocolViolation(kind string) {
	if m != nil {
		m.protocolViolations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) stateTransition(to State) {
	if m != nil {
		m.stateTransitions.WithLabelValues(to.String()).Inc()
	}
}
