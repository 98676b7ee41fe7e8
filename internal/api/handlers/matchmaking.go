package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/match"
)

// JoinQueue pairs the caller with a waiting opponent or enqueues them.
// Re-joining with the same (game, stake) refreshes the waiting ticket,
// so clients just call this on a poll loop until they get a match.
func JoinQueue(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PlayerID  string `json:"playerId" binding:"required"`
			GameID    string `json:"gameId" binding:"required"`
			StakeWei  string `json:"stakeWei"`
			Ticket    string `json:"ticket"`
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

		res, err := match.Manager.JoinQueue(c.Request.Context(), req.GameID, req.StakeWei, player)
		if err != nil {
			failFromErr(c, err)
			return
		}

		if res.MatchID != "" {
			resp := gin.H{
				"status":  "matched",
				"matchId": res.MatchID,
				"wsToken": res.WSToken,
			}
			if m, ok := match.Manager.Registry().Lookup(res.MatchID); ok {
				for _, p := range m.Players() {
					if p != player {
						resp["opponent"] = p
					}
				}
				if m.Staked() {
					resp["stakeWei"] = m.StakeWei
					resp["escrow"] = cfg.EscrowAddress
				}
			}
			c.JSON(http.StatusOK, resp)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "ticket": res.Ticket})
	}
}

// LeaveQueue abandons a waiting ticket. Expired or unknown tickets are
// treated as already gone.
func LeaveQueue(c *gin.Context) {
	var req struct {
		Ticket string `json:"ticket" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if err := match.Manager.LeaveQueue(c.Request.Context(), req.Ticket); err != nil {
		fail(c, http.StatusInternalServerError, "QUEUE_ERROR", "could not leave queue")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// QueueStatus is a lightweight poll for the queued side: it consumes
// the pairing notification if an opponent claimed this player. The
// notification carries a session token, so the poll is signed like any
// other authenticated call.
func QueueStatus(c *gin.Context) {
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

	pm, err := match.Manager.CheckPending(c.Request.Context(), req.GameID, req.StakeWei, player)
	if err != nil {
		failFromErr(c, err)
		return
	}
	if pm == nil {
		c.JSON(http.StatusOK, gin.H{"status": "waiting"})
		return
	}
	resp := gin.H{
		"status":   "matched",
		"matchId":  pm.MatchID,
		"opponent": pm.Opponent,
		"wsToken":  pm.WSToken,
	}
	if pm.StakeWei != "" && pm.StakeWei != "0" {
		resp["stakeWei"] = pm.StakeWei
	}
	c.JSON(http.StatusOK, resp)
}
