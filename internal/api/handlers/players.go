package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/auth"
	"github.com/dorkfun/backend/internal/match"
	"github.com/dorkfun/backend/internal/models"
)

// GetPlayerStats returns a player's ratings: one row per game plus the
// overall aggregate. Players with no completed matches get base values.
func GetPlayerStats(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")
		if !auth.ValidPlayerID(raw) {
			fail(c, http.StatusBadRequest, "INVALID_ADDRESS", "player id must be a 0x wallet address")
			return
		}
		playerID := auth.Normalize(raw)

		var player models.Player
		err := db.Get(&player, `SELECT id, created_at, last_seen_at FROM players WHERE id = $1`, playerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, http.StatusNotFound, "PLAYER_NOT_FOUND", "no such player")
				return
			}
			fail(c, http.StatusInternalServerError, "DB_ERROR", "could not load player")
			return
		}

		var stats []models.PlayerStat
		err = db.Select(&stats, `
			SELECT player_id, game_id, rating, wins, losses, draws, updated_at
			FROM player_stats
			WHERE player_id = $1
			ORDER BY game_id ASC
		`, playerID)
		if err != nil {
			fail(c, http.StatusInternalServerError, "DB_ERROR", "could not load stats")
			return
		}

		var overall *models.PlayerStat
		games := make([]models.PlayerStat, 0, len(stats))
		for i := range stats {
			if stats[i].GameID == "*" {
				overall = &stats[i]
			} else {
				games = append(games, stats[i])
			}
		}
		if overall == nil {
			overall = &models.PlayerStat{PlayerID: playerID, GameID: "*", Rating: match.BaseRating}
		}

		c.JSON(http.StatusOK, gin.H{
			"playerId": playerID,
			"since":    player.CreatedAt,
			"overall":  overall,
			"games":    games,
		})
	}
}
