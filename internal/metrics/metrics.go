// Package metrics exposes the server's Prometheus instruments. All
// metrics are registered on the default registry at init; the /metrics
// route serves them through promhttp.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dorkfun_matches_created_total",
		Help: "Matches created since process start.",
	})

	MatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dorkfun_matches_completed_total",
		Help: "Matches reaching a terminal outcome since process start.",
	})

	MovesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dorkfun_moves_applied_total",
		Help: "Player actions validated, applied and persisted.",
	})

	ActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dorkfun_active_matches",
		Help: "Live matches currently held in the registry.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dorkfun_queue_depth",
		Help: "Players waiting in the matchmaking queue per partition.",
	}, []string{"game", "bucket"})

	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dorkfun_ws_sessions",
		Help: "Open websocket sessions.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dorkfun_ws_frames_dropped_total",
		Help: "Outbound frames dropped because a client send buffer was full.",
	})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dorkfun_settlement_failures_total",
		Help: "Escrow calls that returned an error (logged, non-fatal).",
	})
)

// Handler adapts promhttp for a gin route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
