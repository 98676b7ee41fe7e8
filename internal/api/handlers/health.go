package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/match"
)

var startTime = time.Now()

const version = "1.2.0"

// HealthCheck reports liveness plus the cheap gauges worth eyeballing
// after a deploy.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "dorkfun-api",
		"version":     version,
		"uptime":      time.Since(startTime).String(),
		"liveMatches": match.Manager.Registry().Len(),
		"games":       len(game.List()),
	})
}
