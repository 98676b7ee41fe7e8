package game

import (
	"errors"
	"testing"
)

// stubModule is the minimal Module used for registry tests.
type stubModule struct{ id string }

func (s *stubModule) Metadata() Metadata { return Metadata{ID: s.id, MinPlayers: 2, MaxPlayers: 2} }
func (s *stubModule) Init(players []string, seed int64) (*State, error) {
	return &State{GameID: s.id, Players: players}, nil
}
func (s *stubModule) ValidateAction(st *State, player string, a Action) error { return nil }
func (s *stubModule) ApplyAction(st *State, player string, a Action) (*State, error) {
	return st.Clone(), nil
}
func (s *stubModule) IsTerminal(st *State) bool           { return false }
func (s *stubModule) Outcome(st *State) (*Outcome, error) { return nil, errors.New("not terminal") }
func (s *stubModule) Observation(st *State, player string) (*Observation, error) {
	return &Observation{State: st.Data, You: player}, nil
}
func (s *stubModule) LegalActions(st *State, player string) ([]Action, error) { return nil, nil }

func TestRegisterAndLookup(t *testing.T) {
	Register(&stubModule{id: "stub-a"})

	if _, ok := Lookup("stub-a"); !ok {
		t.Error("registered module not found")
	}
	if _, ok := Lookup("stub-missing"); ok {
		t.Error("lookup of unregistered id succeeded")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	Register(&stubModule{id: "stub-dup"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	Register(&stubModule{id: "stub-dup"})
}

func TestListOrdersByID(t *testing.T) {
	Register(&stubModule{id: "stub-z"})
	Register(&stubModule{id: "stub-b"})

	list := List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("list not ordered: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	s := &State{
		GameID:        "stub",
		Players:       []string{"a", "b"},
		CurrentPlayer: "a",
		Data:          []byte(`{"x":1}`),
	}
	c := s.Clone()

	c.Players[0] = "z"
	c.Data[2] = 'y'
	if s.Players[0] != "a" || string(s.Data) != `{"x":1}` {
		t.Error("clone shares memory with the original")
	}
}

func TestRuleCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrNotYourTurn, "NOT_YOUR_TURN"},
		{ErrNotInGame, "NOT_IN_GAME"},
		{ErrTerminalState, "MATCH_OVER"},
		{NewRuleError("CELL_OCCUPIED", "taken"), "CELL_OCCUPIED"},
		{errors.New("mystery"), "INVALID_ACTION"},
	}
	for _, c := range cases {
		if got := RuleCode(c.err); got != c.want {
			t.Errorf("RuleCode(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
