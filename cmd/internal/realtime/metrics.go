package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's Prometheus instruments.
// A nil Registerer yields unregistered (but functional) instruments.
type Metrics struct {
	Connections prometheus.Gauge
	Commands    *prometheus.CounterVec
	Broadcasts  prometheus.Counter
}

// NewMetrics constructs gateway metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kanva",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Currently open websocket connections.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kanva",
			Subsystem: "ws",
			Name:      "commands_total",
			Help:      "Commands processed, by type and outcome.",
		}, []string{"type", "outcome"}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kanva",
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Events fanned out to board rooms.",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) command(typ string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Commands.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) broadcast() {
	if m != nil {
		m.Broadcasts.Inc()
	}
}
