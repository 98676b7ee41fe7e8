package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/admin"
	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/match"
)

// AdminLogin validates operator credentials and issues a session token.
func AdminLogin(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}

		username := strings.TrimSpace(req.Username)
		acc, err := admin.ValidateCredentials(db, username, strings.TrimSpace(req.Password))
		if err != nil {
			log.Printf("[ADMIN] Login failed for username %s: %v", username, err)
			admin.LogAction(db, 0, "login_failed", username)
			fail(c, http.StatusUnauthorized, "BAD_CREDENTIALS", "invalid credentials")
			return
		}

		token, err := admin.IssueToken(acc, cfg.JWTSecret)
		if err != nil {
			log.Printf("[ADMIN] Token issue failed for %s: %v", username, err)
			fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "could not create session")
			return
		}

		admin.LogAction(db, acc.ID, "login", username)
		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"expiresIn": int(admin.TokenTTL.Seconds()),
		})
	}
}

// RequireAdmin gates operator routes behind a bearer session token.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			fail(c, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
			c.Abort()
			return
		}
		adminID, username, err := admin.VerifyToken(strings.TrimPrefix(header, "Bearer "), cfg.JWTSecret)
		if err != nil {
			fail(c, http.StatusUnauthorized, "NOT_AUTHENTICATED", "invalid or expired session")
			c.Abort()
			return
		}
		c.Set("admin_id", adminID)
		c.Set("admin_username", username)
		c.Next()
	}
}

// SetEmergency flips emergency mode. Enabling drains every live match
// to an immediate draw; disabling lets new matches start again.
func SetEmergency(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Enabled *bool  `json:"enabled" binding:"required"`
			Reason  string `json:"reason"`
		}
		if err := c.BindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "enabled flag is required")
			return
		}
		adminID := c.GetInt("admin_id")

		if *req.Enabled {
			reason := req.Reason
			if reason == "" {
				reason = match.ReasonEmergencyDraw
			}
			drained := match.Manager.EmergencyDrawAll(c.Request.Context(), reason)
			admin.LogAction(db, adminID, "emergency_on", fmt.Sprintf("reason=%s drained=%d", reason, drained))
			log.Printf("[ADMIN] Emergency mode enabled by admin %d, drained %d matches", adminID, drained)
			c.JSON(http.StatusOK, gin.H{"emergency": true, "drained": drained})
			return
		}

		match.Manager.ClearEmergency()
		admin.LogAction(db, adminID, "emergency_off", "")
		log.Printf("[ADMIN] Emergency mode cleared by admin %d", adminID)
		c.JSON(http.StatusOK, gin.H{"emergency": false})
	}
}

// GetLiveMatches lists every match currently held in memory.
func GetLiveMatches(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		type liveMatch struct {
			ID        string    `json:"id"`
			GameID    string    `json:"gameId"`
			Status    string    `json:"status"`
			StakeWei  string    `json:"stakeWei"`
			Players   []string  `json:"players"`
			Sequence  int       `json:"sequence"`
			CreatedAt time.Time `json:"createdAt"`
			LastMove  time.Time `json:"lastMoveAt"`
		}

		live := match.Manager.Registry().Active()
		out := make([]liveMatch, 0, len(live))
		for _, m := range live {
			lm := liveMatch{
				ID:        m.ID,
				GameID:    m.GameID,
				Status:    m.Status(),
				StakeWei:  m.StakeWei,
				Players:   m.Players(),
				CreatedAt: m.CreatedAt,
				LastMove:  m.LastMoveAt(),
			}
			if orch := m.Orch(); orch != nil {
				lm.Sequence = orch.Sequence()
			}
			out = append(out, lm)
		}

		admin.LogAction(db, c.GetInt("admin_id"), "list_matches", fmt.Sprintf("count=%d", len(out)))
		c.JSON(http.StatusOK, gin.H{
			"matches":   out,
			"emergency": match.Manager.Registry().Emergency(),
		})
	}
}

// GetAuditLog returns the operator action trail, newest first.
func GetAuditLog(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		logs, err := admin.GetAuditLogs(db, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch audit log: %v", err)
			fail(c, http.StatusInternalServerError, "DB_ERROR", "could not load audit log")
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": logs, "limit": limit, "offset": offset})
	}
}
