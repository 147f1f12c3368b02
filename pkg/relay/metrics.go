package relay

import (
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics keeps per-hub collectors in an own registry, so test hubs
// don't clash on the global one.
type metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	relayed     *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playmesh",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Number of connections joined into rooms.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playmesh",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Number of active runtime rooms.",
		}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playmesh",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relayed messages by type.",
		}, []string{"type"}),
	}
}

func (m *metrics) onJoin()  { m.connections.Inc() }
func (m *metrics) onLeave() { m.connections.Dec() }

func (m *metrics) onRoom(d float64) { m.rooms.Add(d) }

func (m *metrics) onRelay(t api.PT) { m.relayed.WithLabelValues(t.String()).Inc() }
