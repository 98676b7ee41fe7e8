package tictactoe

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dorkfun/backend/internal/game"
)

const (
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newGame(t *testing.T) *game.State {
	t.Helper()
	s, err := New().Init([]string{alice, bob}, 42)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func place(cell int) game.Action {
	data, _ := json.Marshal(map[string]int{"cell": cell})
	return game.Action{Type: "place", Data: data}
}

func playMoves(t *testing.T, s *game.State, cells ...int) *game.State {
	t.Helper()
	m := New()
	for i, cell := range cells {
		next, err := m.ApplyAction(s, s.CurrentPlayer, place(cell))
		if err != nil {
			t.Fatalf("move %d (cell %d) failed: %v", i, cell, err)
		}
		s = next
	}
	return s
}

func TestInitValidation(t *testing.T) {
	m := New()
	if _, err := m.Init([]string{alice}, 1); !errors.Is(err, game.ErrBadPlayerSet) {
		t.Errorf("expected ErrBadPlayerSet for one player, got %v", err)
	}
	if _, err := m.Init([]string{alice, alice}, 1); !errors.Is(err, game.ErrBadPlayerSet) {
		t.Errorf("expected ErrBadPlayerSet for duplicate players, got %v", err)
	}
	s := newGame(t)
	if s.CurrentPlayer != alice {
		t.Errorf("first player should open, got %s", s.CurrentPlayer)
	}
	if s.MoveCount != 0 {
		t.Errorf("fresh game should have MoveCount 0, got %d", s.MoveCount)
	}
}

func TestColumnWin(t *testing.T) {
	// X takes 4, 1, 7 while O takes 0 and 3: middle column for X.
	m := New()
	s := playMoves(t, newGame(t), 4, 0, 1, 3, 7)

	if !m.IsTerminal(s) {
		t.Fatal("game should be terminal after the middle column is filled")
	}
	out, err := m.Outcome(s)
	if err != nil {
		t.Fatalf("Outcome failed: %v", err)
	}
	if out.Winner != alice {
		t.Errorf("expected %s to win, got %q", alice, out.Winner)
	}
	if out.Draw {
		t.Error("column win reported as draw")
	}
}

func TestDraw(t *testing.T) {
	// Fills the board with X on 0,2,3,7,8 and O on 1,4,5,6: no line.
	m := New()
	s := playMoves(t, newGame(t), 0, 1, 2, 4, 3, 5, 7, 6, 8)
	if !m.IsTerminal(s) {
		t.Fatal("full board should be terminal")
	}
	out, err := m.Outcome(s)
	if err != nil {
		t.Fatalf("Outcome failed: %v", err)
	}
	if out.Winner == "" && !out.Draw {
		t.Error("full board without winner must be a draw")
	}
}

func TestTurnOrderEnforced(t *testing.T) {
	m := New()
	s := newGame(t)
	if err := m.ValidateAction(s, bob, place(0)); !errors.Is(err, game.ErrNotYourTurn) {
		t.Errorf("expected ErrNotYourTurn for out-of-turn move, got %v", err)
	}
	if err := m.ValidateAction(s, "0xcccccccccccccccccccccccccccccccccccccccc", place(0)); !errors.Is(err, game.ErrNotInGame) {
		t.Errorf("expected ErrNotInGame for stranger, got %v", err)
	}
}

func TestOccupiedAndRangeRejected(t *testing.T) {
	m := New()
	s := playMoves(t, newGame(t), 4)

	err := m.ValidateAction(s, bob, place(4))
	var re *game.RuleError
	if !errors.As(err, &re) || re.Code != "CELL_OCCUPIED" {
		t.Errorf("expected CELL_OCCUPIED, got %v", err)
	}
	err = m.ValidateAction(s, bob, place(9))
	if !errors.As(err, &re) || re.Code != "CELL_OUT_OF_RANGE" {
		t.Errorf("expected CELL_OUT_OF_RANGE, got %v", err)
	}
}

func TestMovesRejectedAfterTerminal(t *testing.T) {
	m := New()
	s := playMoves(t, newGame(t), 4, 0, 1, 3, 7)
	if err := m.ValidateAction(s, bob, place(8)); !errors.Is(err, game.ErrTerminalState) {
		t.Errorf("expected ErrTerminalState, got %v", err)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	m := New()
	s := newGame(t)
	before := string(s.Data)
	if _, err := m.ApplyAction(s, alice, place(4)); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if string(s.Data) != before {
		t.Error("ApplyAction mutated its input state")
	}
	if s.MoveCount != 0 {
		t.Error("ApplyAction mutated input MoveCount")
	}
}

func TestDeterminism(t *testing.T) {
	runOnce := func() string {
		s := playMoves(t, newGame(t), 4, 0, 1, 3, 7)
		return string(s.Data) + fmt.Sprintf("|%s|%d", s.CurrentPlayer, s.MoveCount)
	}
	first := runOnce()
	for i := 0; i < 5; i++ {
		if got := runOnce(); got != first {
			t.Fatalf("replay %d diverged:\n%s\nvs\n%s", i, got, first)
		}
	}
}

func TestLegalActions(t *testing.T) {
	m := New()
	s := newGame(t)
	acts, err := m.LegalActions(s, alice)
	if err != nil {
		t.Fatalf("LegalActions failed: %v", err)
	}
	if len(acts) != 9 {
		t.Errorf("fresh board should offer 9 actions, got %d", len(acts))
	}
	acts, err = m.LegalActions(s, bob)
	if err != nil {
		t.Fatalf("LegalActions failed: %v", err)
	}
	if len(acts) != 0 {
		t.Errorf("out-of-turn player should get no actions, got %d", len(acts))
	}
}

func TestObservationIsPublic(t *testing.T) {
	m := New()
	s := playMoves(t, newGame(t), 4)
	for _, viewer := range []string{alice, bob, ""} {
		obs, err := m.Observation(s, viewer)
		if err != nil {
			t.Fatalf("Observation(%q) failed: %v", viewer, err)
		}
		var bs boardState
		if err := json.Unmarshal(obs.State, &bs); err != nil {
			t.Fatalf("observation state unmarshal: %v", err)
		}
		if bs.Board[4] != "X" {
			t.Errorf("viewer %q does not see X on cell 4", viewer)
		}
	}
}
