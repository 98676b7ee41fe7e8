package match

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dorkfun/backend/internal/game"
)

// StepResult reports one applied transcript entry to callers and the
// fanout layer.
type StepResult struct {
	Sequence   int
	Player     string
	Action     game.Action
	StateHash  string
	PrevHash   string
	NextPlayer string
	Terminal   bool
	Outcome    *game.Outcome
}

// Orchestrator owns the authoritative state of one match. Every
// mutation happens under its mutex, which serializes concurrent
// submissions; the persist hook runs inside the critical section so
// state only advances when the move row is durable.
type Orchestrator struct {
	mu      sync.Mutex
	mod     game.Module
	matchID string
	players []string
	seed    int64

	state    *game.State
	entries  []TranscriptEntry
	terminal bool
	outcome  *game.Outcome
}

// PersistFunc writes a transcript entry durably. A non-nil error
// aborts the submission and leaves the in-memory state untouched.
type PersistFunc func(*StepResult) error

// NewOrchestrator initializes the module state and the genesis
// transcript entry. The genesis entry is persisted by the caller
// together with the match row.
func NewOrchestrator(mod game.Module, matchID string, players []string, seed int64) (*Orchestrator, error) {
	st, err := mod.Init(players, seed)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		mod:     mod,
		matchID: matchID,
		players: append([]string(nil), players...),
		seed:    seed,
		state:   st,
	}
	o.entries = append(o.entries, TranscriptEntry{
		Sequence:  0,
		Player:    "",
		Action:    game.Action{Type: ActionInit},
		StateHash: StateHash(st, matchID),
		PrevHash:  "",
	})
	return o, nil
}

// Submit validates and applies one action. persist (optional) runs
// after the module produced the successor state but before it becomes
// visible; a persist failure discards the new state entirely.
func (o *Orchestrator) Submit(player string, a game.Action, persist PersistFunc) (*StepResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil, game.ErrTerminalState
	}
	if !o.isPlayer(player) {
		return nil, game.ErrNotInGame
	}
	if err := o.mod.ValidateAction(o.state, player, a); err != nil {
		return nil, err
	}
	next, err := o.mod.ApplyAction(o.state, player, a)
	if err != nil {
		return nil, err
	}

	res := &StepResult{
		Sequence:   len(o.entries),
		Player:     player,
		Action:     a,
		StateHash:  StateHash(next, o.matchID),
		PrevHash:   o.entries[len(o.entries)-1].StateHash,
		NextPlayer: next.CurrentPlayer,
	}
	if o.mod.IsTerminal(next) {
		res.Terminal = true
		out, oerr := o.mod.Outcome(next)
		if oerr != nil {
			return nil, fmt.Errorf("module outcome on terminal state: %w", oerr)
		}
		res.Outcome = out
	}

	if persist != nil {
		if err := persist(res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMovePersistFailed, err)
		}
	}

	o.state = next
	o.entries = append(o.entries, TranscriptEntry{
		Sequence:  res.Sequence,
		Player:    player,
		Action:    a,
		StateHash: res.StateHash,
		PrevHash:  res.PrevHash,
	})
	if res.Terminal {
		o.terminal = true
		o.outcome = res.Outcome
	}
	return res, nil
}

// ForceOutcome seals the match with a server-produced outcome (forfeit,
// timeout, emergency draw). The game state is left as-is; the seal
// entry records the outcome in its action payload.
func (o *Orchestrator) ForceOutcome(actionType, player string, out *game.Outcome, persist PersistFunc) (*StepResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil, ErrAlreadyCompleted
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	head := o.entries[len(o.entries)-1]
	res := &StepResult{
		Sequence:  len(o.entries),
		Player:    player,
		Action:    game.Action{Type: actionType, Data: data},
		StateHash: head.StateHash,
		PrevHash:  head.StateHash,
		Terminal:  true,
		Outcome:   out,
	}
	if persist != nil {
		if err := persist(res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMovePersistFailed, err)
		}
	}

	o.entries = append(o.entries, TranscriptEntry{
		Sequence:  res.Sequence,
		Player:    player,
		Action:    res.Action,
		StateHash: res.StateHash,
		PrevHash:  res.PrevHash,
	})
	o.terminal = true
	o.outcome = out
	return res, nil
}

// replayEntry re-applies a persisted move during recovery and checks
// the recorded state hash. Seal entries restore the recorded outcome
// instead of going through the module.
func (o *Orchestrator) replayEntry(rec TranscriptEntry) error {
	switch rec.Action.Type {
	case ActionForfeit, ActionTimeout, ActionEmergencyDraw:
		var out game.Outcome
		if err := json.Unmarshal(rec.Action.Data, &out); err != nil {
			return fmt.Errorf("seal entry %d: %w", rec.Sequence, err)
		}
		res, err := o.ForceOutcome(rec.Action.Type, rec.Player, &out, nil)
		if err != nil {
			return err
		}
		if res.StateHash != rec.StateHash {
			return fmt.Errorf("%w at sequence %d", ErrReplayHashMismatch, rec.Sequence)
		}
		return nil
	default:
		res, err := o.Submit(rec.Player, rec.Action, nil)
		if err != nil {
			return fmt.Errorf("replay sequence %d: %w", rec.Sequence, err)
		}
		if res.StateHash != rec.StateHash || res.PrevHash != rec.PrevHash {
			return fmt.Errorf("%w at sequence %d", ErrReplayHashMismatch, rec.Sequence)
		}
		return nil
	}
}

func (o *Orchestrator) isPlayer(p string) bool {
	for _, id := range o.players {
		if id == p {
			return true
		}
	}
	return false
}

// CurrentPlayer returns whose turn it is, or "" on terminal states.
func (o *Orchestrator) CurrentPlayer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminal {
		return ""
	}
	return o.state.CurrentPlayer
}

func (o *Orchestrator) IsTerminal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminal
}

// Outcome returns the final outcome, nil while the match runs.
func (o *Orchestrator) Outcome() *game.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// Sequence returns the head entry sequence number.
func (o *Orchestrator) Sequence() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries[len(o.entries)-1].Sequence
}

// Head returns the latest transcript entry.
func (o *Orchestrator) Head() TranscriptEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries[len(o.entries)-1]
}

// Transcript returns a copy of the full entry chain.
func (o *Orchestrator) Transcript() []TranscriptEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]TranscriptEntry(nil), o.entries...)
}

// TranscriptHash digests the current chain.
func (o *Orchestrator) TranscriptHash() string {
	o.mu.Lock()
	entries := append([]TranscriptEntry(nil), o.entries...)
	matchID := o.matchID
	o.mu.Unlock()
	return TranscriptHash(entries, matchID)
}

// ObservationFor builds the redacted view for player ("" = spectator).
func (o *Orchestrator) ObservationFor(player string) (*game.Observation, error) {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	return o.mod.Observation(st, player)
}

// LegalActionsFor enumerates the legal actions for player.
func (o *Orchestrator) LegalActionsFor(player string) ([]game.Action, error) {
	o.mu.Lock()
	st := o.state
	terminal := o.terminal
	o.mu.Unlock()
	if terminal {
		return nil, nil
	}
	return o.mod.LegalActions(st, player)
}

// Players returns the participant list in seat order.
func (o *Orchestrator) Players() []string {
	return append([]string(nil), o.players...)
}
