package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/match"
	"github.com/dorkfun/backend/internal/metrics"
)

// Gateway owns every live match room and translates lifecycle events
// from the match service into frames. It is registered as the service's
// notifier, so all fanout funnels through here.
type Gateway struct {
	svc *match.Service
	db  *sqlx.DB
	cfg *config.Config

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewGateway(svc *match.Service, db *sqlx.DB, cfg *config.Config) *Gateway {
	return &Gateway{
		svc:   svc,
		db:    db,
		cfg:   cfg,
		rooms: make(map[string]*Room),
	}
}

// room returns the match's room, creating it on first use.
func (g *Gateway) room(matchID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[matchID]
	if !ok {
		r = newRoom(matchID)
		g.rooms[matchID] = r
	}
	return r
}

func (g *Gateway) lookupRoom(matchID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[matchID]
	return r, ok
}

// closeRoom tears down and forgets a match's room.
func (g *Gateway) closeRoom(matchID string) {
	g.mu.Lock()
	r, ok := g.rooms[matchID]
	delete(g.rooms, matchID)
	g.mu.Unlock()
	if ok {
		r.close()
	}
}

// dropClient detaches a finished connection from its room and lets the
// remaining participants know a player went away. The match itself
// keeps running; only the move timer forfeits an absent player.
func (g *Gateway) dropClient(c *Client) {
	c.closeSend()
	metrics.WSSessions.Dec()
	r, ok := g.lookupRoom(c.matchID)
	if !ok {
		return
	}
	r.remove(c)
	playerID, spectator := c.identity()
	if spectator || playerID == "" {
		return
	}
	if m, ok := g.svc.Registry().Lookup(c.matchID); ok && m.Status() == match.StatusActive {
		r.broadcast(marshalFrame(FramePlayerDisconnected, c.matchID, presencePayload{PlayerID: playerID}))
	}
}

// DepositPhase implements match.Notifier. Connected sessions flip to
// the deposit-wait state and learn the stake, deadline and escrow
// address; the poller keeps watching the chain until both deposits land
// or the deadline passes.
func (g *Gateway) DepositPhase(m *match.Match) {
	r := g.room(m.ID)
	deadline := g.svc.DepositDeadlineFor(m)
	frame := marshalFrame(FrameDepositRequired, m.ID, depositRequiredPayload{
		StakeWei:       m.StakeWei,
		MatchIDBytes32: onchainMatchID(m.ID),
		DeadlineTs:     deadline.UnixMilli(),
		EscrowAddress:  g.svc.EscrowAddress(),
	})
	r.eachPlayer(func(_ string, c *Client) {
		c.setState(sessionDepositWait)
		c.enqueue(frame)
	})
	g.ensureDepositPoller(m.ID)
}

// MatchActivated implements match.Notifier. Every connected player gets
// a personalized opening view and the move timer starts for the first
// player to act.
func (g *Gateway) MatchActivated(m *match.Match) {
	r := g.room(m.ID)
	if m.Staked() {
		r.broadcast(marshalFrame(FrameDepositsConfirmed, m.ID, depositsConfirmedPayload{StakeWei: m.StakeWei}))
	}
	orch := m.Orch()
	if orch == nil {
		return
	}
	head := orch.Head()
	status := m.Status()
	r.eachPlayer(func(playerID string, c *Client) {
		c.setState(sessionPlaying)
		c.enqueue(marshalChainFrame(FrameGameState, m.ID, g.statePayloadFor(orch, playerID, status), head.Sequence, head.StateHash))
	})
	r.eachSpectator(func(c *Client) {
		c.enqueue(marshalChainFrame(FrameGameState, m.ID, g.statePayloadFor(orch, "", status), head.Sequence, head.StateHash))
	})
	if m.MoveTimeout > 0 {
		r.armMoveTimer(m.MoveTimeout, func() { g.moveTimerFired(m.ID) })
	}
}

// MoveApplied implements match.Notifier. Each participant receives the
// step with their own observation; the move timer resets for the next
// player, or disarms when the step ended the match.
func (g *Gateway) MoveApplied(m *match.Match, res *match.StepResult) {
	r := g.room(m.ID)
	if res.Terminal {
		r.disarmMoveTimer()
	} else if m.MoveTimeout > 0 {
		r.armMoveTimer(m.MoveTimeout, func() { g.moveTimerFired(m.ID) })
	}
	orch := m.Orch()
	if orch == nil {
		return
	}
	r.eachPlayer(func(playerID string, c *Client) {
		obs, _ := orch.ObservationFor(playerID)
		c.enqueue(marshalChainFrame(FrameStepResult, m.ID, stepResultPayload{
			LastAction:  res.Action,
			LastPlayer:  res.Player,
			Observation: obs,
			NextPlayer:  res.NextPlayer,
			YourTurn:    res.NextPlayer != "" && res.NextPlayer == playerID,
		}, res.Sequence, res.PrevHash))
	})
	r.eachSpectator(func(c *Client) {
		obs, _ := orch.ObservationFor("")
		c.enqueue(marshalChainFrame(FrameStepResult, m.ID, stepResultPayload{
			LastAction:  res.Action,
			LastPlayer:  res.Player,
			Observation: obs,
			NextPlayer:  res.NextPlayer,
		}, res.Sequence, res.PrevHash))
	})
}

// MatchEnded implements match.Notifier. The final frame is queued for
// every connection before the room closes; closing the send channel
// flushes the queue ahead of the close handshake.
func (g *Gateway) MatchEnded(m *match.Match, out *game.Outcome, transcriptHash string) {
	r := g.room(m.ID)
	r.disarmMoveTimer()
	orch := m.Orch()
	var seq int
	var headHash string
	if orch != nil {
		head := orch.Head()
		seq, headHash = head.Sequence, head.StateHash
	}
	payloadFor := func(playerID string) gameOverPayload {
		p := gameOverPayload{
			Draw:           out.Draw,
			Winner:         out.Winner,
			Reason:         out.Reason,
			TranscriptHash: transcriptHash,
		}
		if orch != nil {
			p.FinalObservation, _ = orch.ObservationFor(playerID)
		}
		return p
	}
	r.eachPlayer(func(playerID string, c *Client) {
		c.enqueue(marshalChainFrame(FrameGameOver, m.ID, payloadFor(playerID), seq, headHash))
	})
	r.eachSpectator(func(c *Client) {
		c.enqueue(marshalChainFrame(FrameGameOver, m.ID, payloadFor(""), seq, headHash))
	})
	g.closeRoom(m.ID)
}

// MatchCancelled implements match.Notifier.
func (g *Gateway) MatchCancelled(m *match.Match, reason string) {
	if r, ok := g.lookupRoom(m.ID); ok {
		r.broadcast(marshalFrame(FrameError, m.ID, errorPayload{Code: "MATCH_CANCELLED", Message: reason}))
	}
	g.closeRoom(m.ID)
}

// moveTimerFired forfeits whoever is on the clock when the move timer
// expires. The lifecycle call re-checks state under the match lock, so
// a move that raced the timer wins harmlessly.
func (g *Gateway) moveTimerFired(matchID string) {
	m, ok := g.svc.Registry().Lookup(matchID)
	if !ok || m.Status() != match.StatusActive {
		return
	}
	orch := m.Orch()
	if orch == nil {
		return
	}
	current := orch.CurrentPlayer()
	if current == "" {
		return
	}
	log.Printf("[WS] Move timer expired on match %s, forfeiting %s", matchID, current)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := g.svc.ForfeitMatch(ctx, matchID, current, match.ReasonTimeout); err != nil {
		log.Printf("[WS] Timeout forfeit failed for match %s: %v", matchID, err)
	}
}

// statePayloadFor builds the personalized GAME_STATE payload. An empty
// player ID yields the public spectator view.
func (g *Gateway) statePayloadFor(orch *match.Orchestrator, playerID, status string) gameStatePayload {
	obs, _ := orch.ObservationFor(playerID)
	p := gameStatePayload{
		Observation: obs,
		Status:      status,
	}
	if playerID != "" && !orch.IsTerminal() && orch.CurrentPlayer() == playerID {
		p.YourTurn = true
		if legal, err := orch.LegalActionsFor(playerID); err == nil {
			p.LegalActions = legal
		}
	}
	return p
}
