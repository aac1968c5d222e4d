package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "caseflow"

// Metrics counts dispatches. A nil *Metrics records nothing.
type Metrics struct {
	dispatched *prometheus.CounterVec
	replies    *prometheus.CounterVec
	invalid    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Inbound messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "replies_total",
			Help:      "Replies sent by reply type.",
		}, []string{"type"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "invalid_requests_total",
			Help:      "Requests answered with an invalid request reply, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "dispatch_seconds",
			Help:      "Time from lookup to acknowledgment.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(m.dispatched, m.replies, m.invalid, m.duration)
	return m
}

func (m *Metrics) observe(kind string, outcome Outcome, start time.Time) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind, outcome.String()).Inc()
	m.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) replied(replyType string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(replyType).Inc()
}

func (m *Metrics) rejected(kind Kind) {
	if m == nil {
		return
	}
	m.invalid.WithLabelValues(kind.String()).Inc()
}
