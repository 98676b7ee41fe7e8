package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dorkfun/backend/internal/auth"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/match"
)

// fail writes the standard error envelope.
func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// failFromErr maps service errors onto HTTP statuses and error codes.
func failFromErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, match.ErrEmergencyMode):
		fail(c, http.StatusServiceUnavailable, "EMERGENCY", "server is in emergency mode")
	case errors.Is(err, match.ErrUnknownGame):
		fail(c, http.StatusBadRequest, "UNKNOWN_GAME", "no such game")
	case errors.Is(err, match.ErrInvalidStake):
		fail(c, http.StatusBadRequest, "INVALID_STAKE", "stake must be a non-negative wei amount")
	case errors.Is(err, match.ErrStakeBelowMinimum):
		fail(c, http.StatusBadRequest, "STAKE_TOO_LOW", "stake is below the game minimum")
	case errors.Is(err, match.ErrMatchNotFound):
		fail(c, http.StatusNotFound, "MATCH_NOT_FOUND", "no such match")
	case errors.Is(err, match.ErrInviteNotFound):
		fail(c, http.StatusNotFound, "INVITE_NOT_FOUND", "invite code is unknown or already claimed")
	case errors.Is(err, match.ErrActiveMatchExists):
		fail(c, http.StatusConflict, "ACTIVE_MATCH_EXISTS", "player already has a live match")
	case errors.Is(err, match.ErrOwnInvite):
		fail(c, http.StatusConflict, "OWN_INVITE", "cannot accept your own invite")
	case errors.Is(err, match.ErrMatchNotActive):
		fail(c, http.StatusConflict, "MATCH_NOT_ACTIVE", "match is not accepting moves")
	case errors.Is(err, match.ErrNotParticipant):
		fail(c, http.StatusForbidden, "NOT_IN_MATCH", "player is not part of this match")
	default:
		fail(c, http.StatusBadRequest, game.RuleCode(err), err.Error())
	}
}

// verifySigned validates the {playerId, signature, timestamp} envelope
// carried by every authenticated request and returns the normalized
// player address.
func verifySigned(c *gin.Context, playerID, signature string, timestamp int64) (string, bool) {
	if !auth.ValidPlayerID(playerID) {
		fail(c, http.StatusBadRequest, "INVALID_ADDRESS", "playerId must be a 0x wallet address")
		return "", false
	}
	if err := auth.VerifySignature(playerID, signature, timestamp); err != nil {
		if errors.Is(err, auth.ErrStaleTimestamp) {
			fail(c, http.StatusUnauthorized, "STALE_TIMESTAMP", "signature timestamp is outside the allowed window")
		} else {
			fail(c, http.StatusUnauthorized, "BAD_SIGNATURE", "signature does not match playerId")
		}
		return "", false
	}
	return auth.Normalize(playerID), true
}
