package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/match"
)

// CreatePrivateMatch opens an invite-only match and returns the code
// the host shares out of band.
func CreatePrivateMatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PlayerID  string `json:"playerId" binding:"required"`
			GameID    string `json:"gameId" binding:"required"`
			StakeWei  string `json:"stakeWei"`
			Signature string `json:"signature" binding:"required"`
			Timestamp int64  `json:"timestamp" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
		player, ok := verifySigned(c, req.PlayerID, req.Signature, req.Timestamp)
		if !ok {
			return
		}

		m, token, err := match.Manager.CreatePrivateMatch(c.Request.Context(), req.GameID, req.StakeWei, player)
		if err != nil {
			failFromErr(c, err)
			return
		}
		resp := gin.H{
			"matchId":    m.ID,
			"inviteCode": m.InviteCode,
			"wsToken":    token,
		}
		if m.Staked() {
			resp["stakeWei"] = m.StakeWei
			resp["escrow"] = cfg.EscrowAddress
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// AcceptPrivateMatch claims an invite code as the guest.
func AcceptPrivateMatch(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PlayerID   string `json:"playerId" binding:"required"`
			InviteCode string `json:"inviteCode" binding:"required"`
			Signature  string `json:"signature" binding:"required"`
			Timestamp  int64  `json:"timestamp" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
		player, ok := verifySigned(c, req.PlayerID, req.Signature, req.Timestamp)
		if !ok {
			return
		}

		m, token, err := match.Manager.AcceptPrivateMatch(c.Request.Context(), req.InviteCode, player)
		if err != nil {
			failFromErr(c, err)
			return
		}
		resp := gin.H{
			"matchId": m.ID,
			"gameId":  m.GameID,
			"wsToken": token,
		}
		if m.Staked() {
			resp["stakeWei"] = m.StakeWei
			resp["escrow"] = cfg.EscrowAddress
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ActiveMatch tells a reconnecting client whether they have a live
// match, and mints a fresh session token when they do.
func ActiveMatch(c *gin.Context) {
	var req struct {
		PlayerID  string `json:"playerId" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	player, ok := verifySigned(c, req.PlayerID, req.Signature, req.Timestamp)
	if !ok {
		return
	}

	am, token, err := match.Manager.ActiveMatchFor(c.Request.Context(), player)
	if err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			c.JSON(http.StatusOK, gin.H{"hasActiveMatch": false})
			return
		}
		failFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hasActiveMatch": true,
		"matchId":        am.MatchID,
		"gameId":         am.GameID,
		"stakeWei":       am.StakeWei,
		"wsToken":        token,
	})
}

// GetTranscript returns the full hash-chained move log of a match and
// re-verifies the chain on the way out, so anyone can audit a result.
func GetTranscript(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID := c.Param("id")

		var rec struct {
			Status         string         `db:"status"`
			TranscriptHash sql.NullString `db:"transcript_hash"`
		}
		err := db.Get(&rec, `SELECT status, transcript_hash FROM matches WHERE id = $1`, matchID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, http.StatusNotFound, "MATCH_NOT_FOUND", "no such match")
				return
			}
			fail(c, http.StatusInternalServerError, "DB_ERROR", "could not load match")
			return
		}

		var rows []struct {
			Sequence  int    `db:"sequence"`
			PlayerID  string `db:"player_id"`
			Action    []byte `db:"action"`
			StateHash string `db:"state_hash"`
			PrevHash  string `db:"prev_hash"`
		}
		err = db.Select(&rows, `
			SELECT sequence, player_id, action, state_hash, prev_hash
			FROM match_moves
			WHERE match_id = $1
			ORDER BY sequence ASC
		`, matchID)
		if err != nil {
			fail(c, http.StatusInternalServerError, "DB_ERROR", "could not load transcript")
			return
		}

		entries := make([]match.TranscriptEntry, 0, len(rows))
		for _, row := range rows {
			var action game.Action
			if err := json.Unmarshal(row.Action, &action); err != nil {
				fail(c, http.StatusInternalServerError, "DB_ERROR", "corrupt transcript entry")
				return
			}
			entries = append(entries, match.TranscriptEntry{
				Sequence:  row.Sequence,
				Player:    row.PlayerID,
				Action:    action,
				StateHash: row.StateHash,
				PrevHash:  row.PrevHash,
			})
		}

		chainErr := match.VerifyChain(entries)
		computed := match.TranscriptHash(entries, matchID)
		verified := chainErr == nil && (!rec.TranscriptHash.Valid || rec.TranscriptHash.String == computed)

		resp := gin.H{
			"matchId":        matchID,
			"status":         rec.Status,
			"entries":        entries,
			"transcriptHash": computed,
			"verified":       verified,
		}
		if rec.TranscriptHash.Valid {
			resp["storedHash"] = rec.TranscriptHash.String
		}
		if chainErr != nil {
			resp["chainError"] = chainErr.Error()
		}
		c.JSON(http.StatusOK, resp)
	}
}
