package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/api/handlers"
	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/metrics"
	"github.com/dorkfun/backend/internal/middleware"
	"github.com/dorkfun/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, gateway *ws.Gateway, db *sqlx.DB, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	// Health check and metrics sit outside the rate limiter so probes
	// and scrapes never get throttled.
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", metrics.Handler())

	// Game session WebSocket; origin-checked before upgrade.
	router.GET("/session/game/:matchId", middleware.WebSocketCORSCheck(cfg), gateway.HandleSession)

	api := router.Group("/api")
	api.Use(middleware.RateLimiter(cfg))
	{
		api.GET("/games", handlers.ListGames)

		matchmaking := api.Group("/matchmaking")
		{
			matchmaking.POST("/join", handlers.JoinQueue(cfg))
			matchmaking.POST("/leave", handlers.LeaveQueue)
			matchmaking.POST("/status", handlers.QueueStatus)
		}

		matches := api.Group("/matches")
		{
			matches.POST("/private", handlers.CreatePrivateMatch(cfg))
			matches.POST("/accept", handlers.AcceptPrivateMatch(cfg))
			matches.POST("/active", handlers.ActiveMatch)
			matches.GET("/:id/transcript", handlers.GetTranscript(db))
		}

		players := api.Group("/players")
		{
			players.GET("/:id/stats", handlers.GetPlayerStats(db))
		}

		adminGroup := api.Group("/admin")
		{
			adminGroup.POST("/login", handlers.AdminLogin(db, cfg))

			authed := adminGroup.Group("")
			authed.Use(handlers.RequireAdmin(cfg))
			{
				authed.POST("/emergency", handlers.SetEmergency(db))
				authed.GET("/matches", handlers.GetLiveMatches(db))
				authed.GET("/audit", handlers.GetAuditLog(db))
			}
		}
	}
}
