// Package metrics exposes Prometheus instrumentation for the chat pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alexus"

// Outcome labels for chat requests and persisted turns.
const (
	OutcomeSuccess          = "success"
	OutcomeValidation       = "validation_error"
	OutcomeGenerationError  = "generation_error"
	OutcomeClientGone       = "client_disconnected"
	OutcomePersistenceError = "persistence_error"
)

// ChatMetrics is safe for concurrent use. A nil *ChatMetrics records nothing.
type ChatMetrics struct {
	RequestsTotal          *prometheus.CounterVec
	StreamDurationSeconds  prometheus.Histogram
	TimeToFirstFragment    prometheus.Histogram
	FragmentsTotal         prometheus.Counter
	ActiveStreams          prometheus.Gauge
	ClientDisconnectsTotal prometheus.Counter
	ContextDegradedTotal   prometheus.Counter
	TurnsPersistedTotal    *prometheus.CounterVec
}

// New registers the chat metrics with reg. Pass prometheus.DefaultRegisterer
// in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *ChatMetrics {
	f := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		StreamDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "stream_duration_seconds",
			Help:      "Wall time from opening the provider stream to its end.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		TimeToFirstFragment: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "time_to_first_fragment_seconds",
			Help:      "Latency until the first fragment reached the client.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		FragmentsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "fragments_total",
			Help:      "Fragments relayed to clients.",
		}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Streams currently being relayed.",
		}),
		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "client_disconnects_total",
			Help:      "Streams aborted because the client went away.",
		}),
		ContextDegradedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "degraded_total",
			Help:      "Requests that proceeded with empty history because it could not be read.",
		}),
		TurnsPersistedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turns",
			Name:      "persisted_total",
			Help:      "Turn persistence attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *ChatMetrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// StreamStarted marks a stream active and returns the func that ends it.
func (m *ChatMetrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.ActiveStreams.Inc()
	return func() {
		m.ActiveStreams.Dec()
		m.StreamDurationSeconds.Observe(time.Since(start).Seconds())
	}
}

func (m *ChatMetrics) FirstFragment(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstFragment.Observe(d.Seconds())
}

func (m *ChatMetrics) Fragments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FragmentsTotal.Add(float64(n))
}

func (m *ChatMetrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

func (m *ChatMetrics) ContextDegraded() {
	if m == nil {
		return
	}
	m.ContextDegradedTotal.Inc()
}

func (m *ChatMetrics) TurnPersisted(outcome string) {
	if m == nil {
		return
	}
	m.TurnsPersistedTotal.WithLabelValues(outcome).Inc()
}
