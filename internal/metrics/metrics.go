package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's prometheus collectors. Each instance has
// its own registry so tests can build as many as they need.
type Metrics struct {
	reg *prometheus.Registry

	Connections           prometheus.Gauge
	Channels              prometheus.Gauge
	MessagesDelivered     prometheus.Counter
	MessagesDropped       prometheus.Counter
	NotificationsReceived prometheus.Counter
	BridgeReconnects      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Live websocket connections.",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_channels",
			Help: "Channels with at least one subscriber.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_delivered_total",
			Help: "Messages written to client send buffers.",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Messages dropped because a client send buffer was full.",
		}),
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_notifications_received_total",
			Help: "Notifications received from the database change stream.",
		}),
		BridgeReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_bridge_reconnects_total",
			Help: "Times the change-stream listening session was re-established.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
