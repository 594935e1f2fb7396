package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sent     *prometheus.CounterVec
	received prometheus.Counter
	skipped  *prometheus.CounterVec
	healthy  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "sent_messages_total",
			Help:      "Outgoing messages by completion status.",
		}, []string{"status"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "received_messages_total",
			Help:      "Inbound messages stored.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "skipped_datagrams_total",
			Help:      "Inbound datagrams dropped, by reason.",
		}, []string{"reason"}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatrelay",
			Name:      "receive_loop_healthy",
			Help:      "1 while the receive loop is running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sent, m.received, m.skipped, m.healthy)
	}
	return m
}
