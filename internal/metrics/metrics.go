// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections is the number of open WebSocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections",
		Help: "Open WebSocket connections",
	})

	// UsersOnline is the number of distinct authenticated users.
	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_users_online",
		Help: "Distinct users with at least one authenticated socket",
	})

	// WatchedGames is the number of games with at least one watcher.
	WatchedGames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_watched_games",
		Help: "Games with at least one watching socket",
	})

	// FramesIn counts text frames received from browsers.
	FramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_in_total",
		Help: "Text frames received from browsers",
	})

	// FramesOut counts frames sent to browsers.
	FramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_out_total",
		Help: "Frames sent to browsers",
	})

	// BusIn counts messages consumed from the down channel.
	BusIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_bus_in_total",
		Help: "Messages consumed from the backend bus",
	})

	// BusOut counts messages published to the up channel.
	BusOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_bus_out_total",
		Help: "Messages published to the backend bus",
	})

	// RateLimited counts inbound frames dropped by the per-IP limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Inbound frames dropped by the per-IP rate limiter",
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
