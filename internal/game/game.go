package game

import (
	"encoding/json"
)

// Metadata describes a registered game module.
type Metadata struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MinPlayers         int    `json:"minPlayers"`
	MaxPlayers         int    `json:"maxPlayers"`
	MoveTimeoutSeconds int    `json:"moveTimeoutSeconds"`
	Description        string `json:"description"`
}

// State is the authoritative snapshot handed between the orchestrator
// and a module. Data is the module's own document; it must marshal
// deterministically (fixed-field structs, no iteration-ordered maps)
// because state hashes are computed over it.
type State struct {
	GameID        string          `json:"gameId"`
	Players       []string        `json:"players"`
	CurrentPlayer string          `json:"currentPlayer"`
	MoveCount     int             `json:"moveCount"`
	Data          json.RawMessage `json:"data"`
}

// Clone returns a deep copy. Modules apply actions to copies so a
// failed apply never corrupts the live snapshot.
func (s *State) Clone() *State {
	c := &State{
		GameID:        s.GameID,
		CurrentPlayer: s.CurrentPlayer,
		MoveCount:     s.MoveCount,
	}
	c.Players = append(c.Players, s.Players...)
	c.Data = append(json.RawMessage(nil), s.Data...)
	return c
}

// Action is a single player intent, validated before it is applied.
type Action struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outcome is the result of a terminal state. Winner is empty on draws
// and on solo losses.
type Outcome struct {
	Winner string             `json:"winner,omitempty"`
	Draw   bool               `json:"draw"`
	Scores map[string]float64 `json:"scores,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Observation is a per-player view of the state. Modules redact hidden
// information here; an empty player id yields the public/spectator view.
type Observation struct {
	State         json.RawMessage `json:"state"`
	CurrentPlayer string          `json:"currentPlayer"`
	MoveCount     int             `json:"moveCount"`
	You           string          `json:"you,omitempty"`
}

// Module is a stateless rules engine. Implementations must be pure:
// identical inputs produce identical outputs, no IO, no clocks, no
// randomness beyond the init seed. Errors cross this boundary as
// values; a module must never panic on any input.
type Module interface {
	Metadata() Metadata

	// Init builds the starting state for players. Deterministic for a
	// given (players, seed) pair.
	Init(players []string, seed int64) (*State, error)

	// ValidateAction reports nil iff the action is legal for player in
	// this state.
	ValidateAction(s *State, player string, a Action) error

	// ApplyAction returns the successor state. The input state is never
	// mutated. Callers validate first; apply on an unvalidated action is
	// undefined but must still not panic.
	ApplyAction(s *State, player string, a Action) (*State, error)

	// IsTerminal reports whether the state has ended.
	IsTerminal(s *State) bool

	// Outcome is defined only on terminal states.
	Outcome(s *State) (*Outcome, error)

	// Observation is the redacted view for player ("" = public view).
	Observation(s *State, player string) (*Observation, error)

	// LegalActions enumerates (or samples) the legal actions for player.
	// Empty when it is not player's turn.
	LegalActions(s *State, player string) ([]Action, error)
}
