// Package metrics holds the prometheus collectors for the sync server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the server updates.
type Metrics struct {
	Connections     prometheus.Gauge
	Frames          *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	Turns           *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pantry_websocket_connections_active",
			Help: "Number of open websocket connections on this instance",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_websocket_frames_total",
			Help: "Websocket frames by type and direction",
		}, []string{"type", "direction"}), // direction: "inbound" or "outbound"
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pantry_chat_turn_duration_seconds",
			Help:    "Chat turn latency from user message to final frame",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_chat_turns_total",
			Help: "Chat turns by outcome",
		}, []string{"outcome"}), // "complete" or "failed"
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_event_handler_failures_total",
			Help: "Event bus handler errors and panics by event name",
		}, []string{"event"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_inventory_mutations_total",
			Help: "Inventory and list mutations by entity and action",
		}, []string{"entity", "action"}),
	}

	reg.MustRegister(m.Connections, m.Frames, m.TurnDuration, m.Turns, m.HandlerFailures, m.Mutations)
	return m
}

// NewNop returns collectors registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
