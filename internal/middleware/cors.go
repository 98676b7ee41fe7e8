package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dorkfun/backend/internal/config"
)

// browserOrigins is the origin whitelist for the environment. The REST
// middleware and the WebSocket upgrade check share it so the two
// surfaces never drift apart.
func browserOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		// Vite dev server, both localhost spellings.
		return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	origins := []string{"https://dork.fun", "https://www.dork.fun"}
	if cfg.FrontendURL != "" {
		origins = append(origins, cfg.FrontendURL)
	}
	return origins
}

// CORSMiddleware applies the origin whitelist to the REST surface. The
// API authenticates with wallet signatures and bearer tokens, never
// cookies, so credentialed requests stay disabled.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := browserOrigins(cfg)
	log.Printf("[CORS] Allowed origins (%s): %v", cfg.Environment, origins)
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	})
}

// WebSocketCORSCheck vets the Origin header on session upgrades. The
// upgrader itself accepts every origin, so this middleware is the only
// browser-origin gate on the WebSocket surface.
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isUpgradeRequest(c.Request) {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			// Native clients and test harnesses send no Origin header.
			c.Next()
			return
		}
		if !originAllowed(cfg, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "ORIGIN_FORBIDDEN", "message": "WebSocket origin not allowed"},
			})
			return
		}
		c.Next()
	}
}

func isUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	// Connection may carry multiple tokens ("keep-alive, Upgrade").
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func originAllowed(cfg *config.Config, origin string) bool {
	if cfg.Environment == "development" {
		// Any localhost port, so tooling beside the Vite server works.
		return strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:")
	}
	for _, allowed := range browserOrigins(cfg) {
		if origin == allowed {
			return true
		}
	}
	return false
}
