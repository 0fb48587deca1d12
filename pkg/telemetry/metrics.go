// Package telemetry exposes prometheus metrics for the session server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsLoaded tracks the number of sessions currently resident in
	// the registry (not the number of persisted sessions).
	SessionsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sketchroom_sessions_loaded",
		Help: "Number of sessions currently loaded in memory.",
	})

	// SubscribersActive tracks the number of attached socket subscribers
	// across all sessions.
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sketchroom_subscribers_active",
		Help: "Number of currently attached socket subscribers.",
	})

	// FramesBroadcast counts outbound frames enqueued to subscribers,
	// labeled by frame type.
	FramesBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sketchroom_frames_broadcast_total",
		Help: "Total broadcast frames enqueued to subscribers.",
	}, []string{"type"})

	// ElementsPersisted counts successful durable writes of session records.
	ElementsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sketchroom_elements_persisted_total",
		Help: "Total successful durable session writes.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
