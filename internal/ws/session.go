package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/dorkfun/backend/internal/auth"
	"github.com/dorkfun/backend/internal/chat"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/match"
)

// handleFrame dispatches one inbound frame. A false return closes the
// connection; before a successful HELLO nothing else is tolerated.
func (c *Client) handleFrame(raw []byte) bool {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("BAD_FRAME", "frame is not valid JSON")
		return false
	}

	if c.sessionState() == sessionUnauth {
		if f.Type != FrameHello {
			c.sendError("NOT_AUTHENTICATED", "expected HELLO")
			return false
		}
		return c.handleHello(f)
	}

	switch f.Type {
	case FrameHello:
		c.sendError("ALREADY_AUTHENTICATED", "session is already established")
	case FrameActionCommit:
		c.handleActionCommit(f)
	case FrameForfeit:
		c.handleForfeit()
	case FrameSyncRequest:
		c.handleSyncRequest()
	case FrameChat:
		c.handleChat(f)
	default:
		// Unknown frames are reported but do not kill the session, so
		// newer clients can talk to older servers.
		c.sendError("UNKNOWN_FRAME", "unrecognized frame type "+f.Type)
	}
	return true
}

// handleHello authenticates the connection. Players present either a
// single-use token minted at pairing time or a fresh wallet signature;
// spectators get a read-only seat with no proof at all.
func (c *Client) handleHello(f Frame) bool {
	var p helloPayload
	if f.Payload != nil {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.sendError("BAD_FRAME", "malformed HELLO payload")
			return false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, ok := c.gw.svc.Registry().Lookup(c.matchID)
	if !ok {
		c.sendError("MATCH_NOT_FOUND", "no live match with this id")
		return false
	}

	if p.Spectator {
		return c.attachSpectator(m)
	}

	var playerID string
	switch {
	case p.Token != "":
		grant, err := c.gw.svc.Cache().ConsumeWSToken(ctx, p.Token)
		if err != nil || grant == nil {
			c.sendError("AUTH_FAILED", "token is invalid or already used")
			return false
		}
		if grant.MatchID != c.matchID {
			c.sendError("AUTH_FAILED", "token was issued for a different match")
			return false
		}
		playerID = grant.PlayerID
		c.gw.svc.Cache().GrantSession(ctx, c.matchID, playerID)
	case p.PlayerID != "" && p.Signature != "":
		if !auth.ValidPlayerID(p.PlayerID) {
			c.sendError("AUTH_FAILED", "invalid player address")
			return false
		}
		if err := auth.VerifySignature(p.PlayerID, p.Signature, p.Timestamp); err != nil {
			c.sendError("AUTH_FAILED", "signature rejected")
			return false
		}
		playerID = auth.Normalize(p.PlayerID)
		// A signature alone is not enough: reconnection requires the
		// session grant left behind by the original token HELLO.
		granted, err := c.gw.svc.Cache().HasSession(ctx, c.matchID, playerID)
		if err != nil {
			log.Printf("[WS] Session lookup for %s/%s failed: %v", c.matchID, playerID, err)
			c.sendError("AUTH_FAILED", "session lookup failed")
			return false
		}
		if !granted {
			c.sendError("AUTH_FAILED", "no session on record for this match")
			return false
		}
	default:
		c.sendError("AUTH_FAILED", "HELLO carried no credentials")
		return false
	}

	if !m.HasPlayer(playerID) {
		c.sendError("NOT_IN_MATCH", "player is not part of this match")
		return false
	}
	return c.attachPlayer(ctx, m, playerID)
}

// attachPlayer binds an authenticated player to the room and sends the
// state appropriate to the match's phase.
func (c *Client) attachPlayer(ctx context.Context, m *match.Match, playerID string) bool {
	c.setIdentity(playerID, false)
	r := c.gw.room(c.matchID)
	if !r.addPlayer(playerID, c) {
		c.sendError("MATCH_OVER", "match has already ended")
		return false
	}
	log.Printf("[WS] %s joined match %s", playerID, c.matchID)

	status := m.Status()
	switch status {
	case match.StatusWaitingDeposits:
		c.setState(sessionDepositWait)
		deadline := c.gw.svc.DepositDeadlineFor(m)
		c.enqueue(marshalFrame(FrameDepositRequired, c.matchID, depositRequiredPayload{
			StakeWei:       m.StakeWei,
			MatchIDBytes32: onchainMatchID(c.matchID),
			DeadlineTs:     deadline.UnixMilli(),
			EscrowAddress:  c.gw.svc.EscrowAddress(),
		}))
		c.gw.ensureDepositPoller(c.matchID)
	default:
		c.setState(sessionPlaying)
		orch := m.Orch()
		if orch == nil {
			// Private host waiting for an opponent: no state yet.
			c.enqueue(marshalFrame(FrameGameState, c.matchID, gameStatePayload{Status: status}))
		} else {
			head := orch.Head()
			c.enqueue(marshalChainFrame(FrameGameState, c.matchID,
				c.gw.statePayloadFor(orch, playerID, status), head.Sequence, head.StateHash))
			if status == match.StatusActive && m.MoveTimeout > 0 {
				r.ensureMoveTimer(m.MoveTimeout, func() { c.gw.moveTimerFired(c.matchID) })
			}
		}
	}

	c.replayChat(ctx)
	if status == match.StatusActive {
		r.broadcastExcept(c, marshalFrame(FramePlayerConnected, c.matchID, presencePayload{PlayerID: playerID}))
	}
	return true
}

func (c *Client) attachSpectator(m *match.Match) bool {
	c.setIdentity("", true)
	r := c.gw.room(c.matchID)
	if !r.addSpectator(c) {
		c.sendError("MATCH_OVER", "match has already ended")
		return false
	}
	c.setState(sessionPlaying)
	if orch := m.Orch(); orch != nil {
		head := orch.Head()
		c.enqueue(marshalChainFrame(FrameGameState, c.matchID,
			c.gw.statePayloadFor(orch, "", m.Status()), head.Sequence, head.StateHash))
	} else {
		c.enqueue(marshalFrame(FrameGameState, c.matchID, gameStatePayload{Status: m.Status()}))
	}
	return true
}

// replayChat sends the recent chat history so late joiners and
// reconnects see the conversation.
func (c *Client) replayChat(ctx context.Context) {
	if c.gw.db == nil {
		return
	}
	history, err := chat.History(ctx, c.gw.db, c.matchID, c.gw.cfg.ChatHistoryLimit)
	if err != nil {
		log.Printf("[WS] Chat history for match %s failed: %v", c.matchID, err)
		return
	}
	for _, msg := range history {
		c.enqueue(marshalFrame(FrameChat, c.matchID, chatOutPayload{
			From: msg.PlayerID,
			Text: msg.Body,
			Ts:   msg.CreatedAt.UnixMilli(),
		}))
	}
}

func (c *Client) handleActionCommit(f Frame) {
	playerID, spectator := c.identity()
	if spectator {
		c.sendError("NOT_A_PLAYER", "spectators cannot act")
		return
	}
	if c.sessionState() == sessionDepositWait {
		c.sendError("DEPOSITS_PENDING", "stakes are not confirmed yet")
		return
	}
	var p actionCommitPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.sendError("BAD_FRAME", "malformed ACTION_COMMIT payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.gw.svc.SubmitMove(ctx, c.matchID, playerID, p.Action); err != nil {
		code, msg := moveErrorCode(err)
		c.sendError(code, msg)
	}
	// Success fans out through the notifier as STEP_RESULT.
}

func (c *Client) handleForfeit() {
	playerID, spectator := c.identity()
	if spectator {
		c.sendError("NOT_A_PLAYER", "spectators cannot forfeit")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.gw.svc.ForfeitMatch(ctx, c.matchID, playerID, match.ReasonForfeit); err != nil {
		code, msg := moveErrorCode(err)
		c.sendError(code, msg)
	}
}

func (c *Client) handleSyncRequest() {
	m, ok := c.gw.svc.Registry().Lookup(c.matchID)
	if !ok {
		c.sendError("MATCH_NOT_FOUND", "no live match with this id")
		return
	}
	playerID, _ := c.identity()
	orch := m.Orch()
	if orch == nil {
		c.enqueue(marshalFrame(FrameSyncResponse, c.matchID, syncResponsePayload{Status: m.Status()}))
		return
	}
	head := orch.Head()
	obs, _ := orch.ObservationFor(playerID)
	p := syncResponsePayload{
		Observation:   obs,
		CurrentPlayer: orch.CurrentPlayer(),
		Status:        m.Status(),
	}
	if playerID != "" && !orch.IsTerminal() && p.CurrentPlayer == playerID {
		p.YourTurn = true
		if legal, err := orch.LegalActionsFor(playerID); err == nil {
			p.LegalActions = legal
		}
	}
	c.enqueue(marshalChainFrame(FrameSyncResponse, c.matchID, p, head.Sequence, head.StateHash))
}

func (c *Client) handleChat(f Frame) {
	playerID, spectator := c.identity()
	if spectator {
		c.sendError("NOT_A_PLAYER", "spectators cannot chat")
		return
	}
	var p chatInPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.sendError("BAD_FRAME", "malformed CHAT payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clean, err := chat.Save(ctx, c.gw.db, c.matchID, playerID, p.Text)
	if err != nil {
		log.Printf("[WS] Chat save failed for match %s: %v", c.matchID, err)
		return
	}
	if clean == "" {
		return
	}
	if r, ok := c.gw.lookupRoom(c.matchID); ok {
		r.broadcast(marshalFrame(FrameChat, c.matchID, chatOutPayload{
			From: playerID,
			Text: clean,
			Ts:   time.Now().UnixMilli(),
		}))
	}
}

// moveErrorCode maps service errors onto wire error codes.
func moveErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, match.ErrEmergencyMode):
		return "EMERGENCY", "server is in emergency mode"
	case errors.Is(err, match.ErrMatchNotFound):
		return "MATCH_NOT_FOUND", "no live match with this id"
	case errors.Is(err, match.ErrMatchNotActive):
		return "MATCH_NOT_ACTIVE", "match is not accepting moves"
	case errors.Is(err, match.ErrNotParticipant):
		return "NOT_IN_MATCH", "player is not part of this match"
	case errors.Is(err, match.ErrAlreadyCompleted):
		return "MATCH_OVER", "match has already ended"
	case errors.Is(err, match.ErrMovePersistFailed):
		return "PERSIST_FAILED", "move could not be recorded, state unchanged"
	default:
		return game.RuleCode(err), err.Error()
	}
}
