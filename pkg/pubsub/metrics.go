package pubsub

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts transport events. A nil *Metrics records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
	publishes  *prometheus.CounterVec
	reconnects prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: "amqp",
			Name:      "deliveries_total",
			Help:      "Deliveries received, by consumer and disposition.",
		}, []string{"consumer", "disposition"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: "amqp",
			Name:      "published_total",
			Help:      "Confirmed publishes by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: "amqp",
			Name:      "reconnects_total",
			Help:      "Successful reconnects after a connection loss.",
		}),
	}
	reg.MustRegister(m.deliveries, m.publishes, m.reconnects)
	return m
}

func (m *Metrics) delivered(consumer, disposition string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(consumer, disposition).Inc()
}

func (m *Metrics) published(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
