package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairchat_ws_connections",
			Help: "Live websocket connections",
		},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_ws_events_total",
			Help: "Inbound socket events by outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok", "error", "ignored"
	)

	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairchat_ws_event_duration_seconds",
			Help:    "Inbound socket event handling duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"event"},
	)

	EmitsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_ws_emits_dropped_total",
			Help: "Outbound events not accepted by a connection",
		},
		[]string{"event"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_messages_sent_total",
			Help: "Messages persisted",
		},
		[]string{"kind"}, // "text" or "attachment"
	)
)
