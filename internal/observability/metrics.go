package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamelobby"

// Handshake results recorded by HandshakeFinished.
const (
	HandshakeJoined       = "joined"
	HandshakeUnknownGame  = "unknown_game"
	HandshakeInvalid      = "invalid"
	HandshakeNameRejected = "name_rejected"
	HandshakeTimeout      = "timeout"
)

// Metrics holds the server's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	lobbyWaiting     *prometheus.GaugeVec
	runningSessions  prometheus.Gauge
	handshakes       *prometheus.CounterVec
	sessionsLaunched *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
}

// NewMetrics registers every collector, plus the Go and process collectors,
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of registered client connections",
		}),
		lobbyWaiting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lobby_waiting_players",
			Help:      "Players queued per lobby",
		}, []string{"lobby"}),
		runningSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_sessions",
			Help:      "Game sessions currently running",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed handshakes by result",
		}, []string{"result"}),
		sessionsLaunched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_launched_total",
			Help:      "Game sessions launched per game",
		}, []string{"game"}),
		sessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Game sessions finished per game and outcome",
		}, []string{"game", "outcome"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of finished game sessions",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"game"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetConnected records the number of registered connections.
func (m *Metrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

// SetLobbyWaiting records the queue length of lobby.
func (m *Metrics) SetLobbyWaiting(lobby string, n int) {
	if m == nil {
		return
	}
	m.lobbyWaiting.WithLabelValues(lobby).Set(float64(n))
}

// HandshakeFinished counts one handshake by result.
func (m *Metrics) HandshakeFinished(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// SessionStarted counts a launch.
func (m *Metrics) SessionStarted(game string) {
	if m == nil {
		return
	}
	m.sessionsLaunched.WithLabelValues(game).Inc()
	m.runningSessions.Inc()
}

// SessionFinished counts a completion and observes its duration.
func (m *Metrics) SessionFinished(game, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runningSessions.Dec()
	m.sessionsFinished.WithLabelValues(game, outcome).Inc()
	m.sessionDuration.WithLabelValues(game).Observe(elapsed.Seconds())
}
