package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/game/tictactoe"
)

// Wallet addresses used as player ids across the match package tests.
const (
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	carol = "0xcccccccccccccccccccccccccccccccccccccccc"
)

// place builds a tictactoe placement action for cell.
func place(cell int) game.Action {
	data, _ := json.Marshal(map[string]int{"cell": cell})
	return game.Action{Type: "place", Data: data}
}

// newTTTOrch starts a fresh tictactoe orchestrator with alice opening
// as X.
func newTTTOrch(t *testing.T, matchID string) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(tictactoe.New(), matchID, []string{alice, bob}, 1)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

// columnWin is a full game where alice takes the middle column: alice
// plays 4, 1, 7 while bob answers 0, 3. Move five ends the game.
var columnWin = []struct {
	player string
	cell   int
}{
	{alice, 4}, {bob, 0}, {alice, 1}, {bob, 3}, {alice, 7},
}

func TestGenesisEntry(t *testing.T) {
	o := newTTTOrch(t, "m-genesis")

	head := o.Head()
	if head.Sequence != 0 {
		t.Errorf("genesis sequence = %d, want 0", head.Sequence)
	}
	if head.Action.Type != ActionInit {
		t.Errorf("genesis action = %q, want %q", head.Action.Type, ActionInit)
	}
	if head.PrevHash != "" {
		t.Errorf("genesis prevHash = %q, want empty", head.PrevHash)
	}
	if head.StateHash == "" {
		t.Error("genesis stateHash is empty")
	}
	if got := o.CurrentPlayer(); got != alice {
		t.Errorf("opening player = %q, want %q", got, alice)
	}
}

func TestColumnWinSequence(t *testing.T) {
	o := newTTTOrch(t, "m-column")

	for i, mv := range columnWin {
		res, err := o.Submit(mv.player, place(mv.cell), nil)
		if err != nil {
			t.Fatalf("move %d (cell %d by %s) failed: %v", i+1, mv.cell, mv.player, err)
		}
		if res.Sequence != i+1 {
			t.Errorf("move %d got sequence %d", i+1, res.Sequence)
		}
		last := i == len(columnWin)-1
		if res.Terminal != last {
			t.Errorf("move %d terminal = %v, want %v", i+1, res.Terminal, last)
		}
	}

	out := o.Outcome()
	if out == nil || out.Winner != alice {
		t.Fatalf("outcome = %+v, want alice winning", out)
	}
	if !o.IsTerminal() {
		t.Error("orchestrator not terminal after the winning move")
	}
	if got := o.CurrentPlayer(); got != "" {
		t.Errorf("current player after the game = %q, want empty", got)
	}
	if err := VerifyChain(o.Transcript()); err != nil {
		t.Errorf("transcript chain broken: %v", err)
	}
	if o.Sequence() != len(columnWin) {
		t.Errorf("head sequence = %d, want %d", o.Sequence(), len(columnWin))
	}
}

func TestTurnOrderEnforced(t *testing.T) {
	o := newTTTOrch(t, "m-turns")

	// Bob cannot open.
	if _, err := o.Submit(bob, place(0), nil); !errors.Is(err, game.ErrNotYourTurn) {
		t.Errorf("out-of-turn submit returned %v, want ErrNotYourTurn", err)
	}
	// Carol holds no seat at all.
	if _, err := o.Submit(carol, place(0), nil); !errors.Is(err, game.ErrNotInGame) {
		t.Errorf("outsider submit returned %v, want ErrNotInGame", err)
	}
	// The legal opener still works afterwards.
	if _, err := o.Submit(alice, place(4), nil); err != nil {
		t.Fatalf("legal opener rejected: %v", err)
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	o := newTTTOrch(t, "m-persist")
	boom := errors.New("connection reset")

	_, err := o.Submit(alice, place(4), func(*StepResult) error { return boom })
	if !errors.Is(err, ErrMovePersistFailed) {
		t.Fatalf("submit with failing persist returned %v, want ErrMovePersistFailed", err)
	}
	if o.Sequence() != 0 {
		t.Errorf("sequence advanced to %d despite persist failure", o.Sequence())
	}
	if got := o.CurrentPlayer(); got != alice {
		t.Errorf("turn advanced to %q despite persist failure", got)
	}

	// The same move goes through once persistence recovers, at the same
	// sequence number.
	res, err := o.Submit(alice, place(4), nil)
	if err != nil {
		t.Fatalf("retry after persist failure rejected: %v", err)
	}
	if res.Sequence != 1 {
		t.Errorf("retried move got sequence %d, want 1", res.Sequence)
	}
}

func TestSubmitAfterTerminal(t *testing.T) {
	o := newTTTOrch(t, "m-over")
	for _, mv := range columnWin {
		if _, err := o.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}

	if _, err := o.Submit(bob, place(8), nil); !errors.Is(err, game.ErrTerminalState) {
		t.Errorf("submit after game end returned %v, want ErrTerminalState", err)
	}
}

func TestForceOutcomeSealsMatch(t *testing.T) {
	o := newTTTOrch(t, "m-seal")
	if _, err := o.Submit(alice, place(4), nil); err != nil {
		t.Fatalf("setup move failed: %v", err)
	}
	before := o.Head()

	out := &game.Outcome{Winner: alice, Reason: ReasonForfeit}
	res, err := o.ForceOutcome(ActionForfeit, bob, out, nil)
	if err != nil {
		t.Fatalf("ForceOutcome failed: %v", err)
	}

	// A seal does not change the game state, so both hashes repeat the
	// previous head.
	if res.StateHash != before.StateHash || res.PrevHash != before.StateHash {
		t.Errorf("seal hashes = (%s, %s), want both %s", res.StateHash, res.PrevHash, before.StateHash)
	}
	if !res.Terminal || !o.IsTerminal() {
		t.Error("match not terminal after seal")
	}
	if head := o.Head(); head.Action.Type != ActionForfeit || head.Player != bob {
		t.Errorf("seal entry = %q by %q, want %q by %q", head.Action.Type, head.Player, ActionForfeit, bob)
	}
	if got := o.Outcome(); got == nil || got.Winner != alice {
		t.Errorf("sealed outcome = %+v, want alice winning", got)
	}
	if err := VerifyChain(o.Transcript()); err != nil {
		t.Errorf("chain broken by seal entry: %v", err)
	}

	// A match seals exactly once.
	if _, err := o.ForceOutcome(ActionForfeit, alice, out, nil); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second seal returned %v, want ErrAlreadyCompleted", err)
	}
}

func TestForceOutcomePersistFailure(t *testing.T) {
	o := newTTTOrch(t, "m-sealfail")
	out := &game.Outcome{Winner: alice, Reason: ReasonForfeit}

	_, err := o.ForceOutcome(ActionForfeit, bob, out, func(*StepResult) error {
		return errors.New("disk full")
	})
	if !errors.Is(err, ErrMovePersistFailed) {
		t.Fatalf("seal with failing persist returned %v, want ErrMovePersistFailed", err)
	}
	if o.IsTerminal() {
		t.Error("match sealed despite persist failure")
	}
	// Play continues as if the seal never happened.
	if _, err := o.Submit(alice, place(4), nil); err != nil {
		t.Errorf("move after failed seal rejected: %v", err)
	}
}

func TestTranscriptHashBindsMatchID(t *testing.T) {
	a := newTTTOrch(t, "m-one")
	b := newTTTOrch(t, "m-two")
	for _, o := range []*Orchestrator{a, b} {
		if _, err := o.Submit(alice, place(4), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}

	if a.TranscriptHash() == b.TranscriptHash() {
		t.Error("identical move lists in different matches produced the same transcript hash")
	}
	if a.TranscriptHash() != a.TranscriptHash() {
		t.Error("transcript hash is not stable across calls")
	}
}

func TestConcurrentSubmissionsApplyOnce(t *testing.T) {
	o := newTTTOrch(t, "m-race")

	// Twenty copies of alice's opening move race; the mutex lets exactly
	// one through and the rest fail turn or occupancy checks.
	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Submit(alice, place(4), nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("%d concurrent submissions applied, want exactly 1", applied)
	}
	if o.Sequence() != 1 {
		t.Errorf("sequence = %d after the race, want 1", o.Sequence())
	}
}

func TestObservationAndLegalActions(t *testing.T) {
	o := newTTTOrch(t, "m-view")
	if _, err := o.Submit(alice, place(4), nil); err != nil {
		t.Fatalf("setup move failed: %v", err)
	}

	obs, err := o.ObservationFor(bob)
	if err != nil {
		t.Fatalf("ObservationFor(bob) failed: %v", err)
	}
	if obs.CurrentPlayer != bob || obs.MoveCount != 1 {
		t.Errorf("observation head = (%q, %d), want (%q, 1)", obs.CurrentPlayer, obs.MoveCount, bob)
	}

	// Spectators get the same public view with no seat.
	view, err := o.ObservationFor("")
	if err != nil {
		t.Fatalf("spectator observation failed: %v", err)
	}
	if view.You != "" {
		t.Errorf("spectator view claims seat %q", view.You)
	}

	acts, err := o.LegalActionsFor(bob)
	if err != nil {
		t.Fatalf("LegalActionsFor(bob) failed: %v", err)
	}
	if len(acts) != 8 {
		t.Errorf("bob has %d legal moves after the opener, want 8", len(acts))
	}
	idle, err := o.LegalActionsFor(alice)
	if err != nil {
		t.Fatalf("LegalActionsFor(alice) failed: %v", err)
	}
	if len(idle) != 0 {
		t.Errorf("alice has %d legal moves off turn, want 0", len(idle))
	}
}

func TestPersistSeesFinalResult(t *testing.T) {
	o := newTTTOrch(t, "m-hook")

	var seen []string
	persist := func(r *StepResult) error {
		seen = append(seen, fmt.Sprintf("%d:%s", r.Sequence, r.Player))
		return nil
	}
	for _, mv := range columnWin {
		if _, err := o.Submit(mv.player, place(mv.cell), persist); err != nil {
			t.Fatalf("move failed: %v", err)
		}
	}

	if len(seen) != len(columnWin) {
		t.Fatalf("persist hook ran %d times, want %d", len(seen), len(columnWin))
	}
	if seen[0] != "1:"+alice || seen[4] != "5:"+alice {
		t.Errorf("persist order = %v", seen)
	}
}
