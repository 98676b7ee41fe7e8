package match

import (
	"errors"
	"strings"
	"testing"

	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/game/sudoku"
	"github.com/dorkfun/backend/internal/game/tictactoe"
)

func TestReplayReproducesTranscript(t *testing.T) {
	src := newTTTOrch(t, "m-replay")
	for _, mv := range columnWin[:3] {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}

	restored, err := FromReplay(tictactoe.New(), "m-replay", []string{alice, bob}, 1, src.Transcript())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if restored.TranscriptHash() != src.TranscriptHash() {
		t.Error("replayed transcript hash differs from the original")
	}
	if restored.Sequence() != src.Sequence() {
		t.Errorf("replayed sequence = %d, want %d", restored.Sequence(), src.Sequence())
	}
	if restored.CurrentPlayer() != src.CurrentPlayer() {
		t.Errorf("replayed turn = %q, want %q", restored.CurrentPlayer(), src.CurrentPlayer())
	}

	// The restored match keeps playing where the original left off.
	if _, err := restored.Submit(bob, place(3), nil); err != nil {
		t.Errorf("move on restored match rejected: %v", err)
	}
}

func TestReplayCompletedGame(t *testing.T) {
	src := newTTTOrch(t, "m-replaydone")
	for _, mv := range columnWin {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}

	restored, err := FromReplay(tictactoe.New(), "m-replaydone", []string{alice, bob}, 1, src.Transcript())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !restored.IsTerminal() {
		t.Fatal("replayed finished game is not terminal")
	}
	if out := restored.Outcome(); out == nil || out.Winner != alice {
		t.Errorf("replayed outcome = %+v, want alice winning", out)
	}
}

func TestReplaySealEntry(t *testing.T) {
	src := newTTTOrch(t, "m-replayseal")
	for _, mv := range columnWin[:2] {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	out := &game.Outcome{Winner: alice, Reason: ReasonTimeout}
	if _, err := src.ForceOutcome(ActionTimeout, bob, out, nil); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	restored, err := FromReplay(tictactoe.New(), "m-replayseal", []string{alice, bob}, 1, src.Transcript())
	if err != nil {
		t.Fatalf("replay with seal entry failed: %v", err)
	}
	if !restored.IsTerminal() {
		t.Fatal("seal entry did not terminate the replayed match")
	}
	got := restored.Outcome()
	if got == nil || got.Winner != alice || got.Reason != ReasonTimeout {
		t.Errorf("replayed seal outcome = %+v", got)
	}
	if head := restored.Head(); head.Action.Type != ActionTimeout {
		t.Errorf("replayed head action = %q, want %q", head.Action.Type, ActionTimeout)
	}
}

func TestReplayRejectsTamperedHash(t *testing.T) {
	src := newTTTOrch(t, "m-tamper")
	for _, mv := range columnWin[:3] {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	entries := src.Transcript()
	// Rewriting the head hash keeps the chain linkage intact, so only
	// re-execution can catch it.
	entries[len(entries)-1].StateHash = strings.Repeat("00", 32)

	if _, err := FromReplay(tictactoe.New(), "m-tamper", []string{alice, bob}, 1, entries); !errors.Is(err, ErrReplayHashMismatch) {
		t.Errorf("tampered head replayed with error %v, want ErrReplayHashMismatch", err)
	}
}

func TestReplayRejectsTamperedAction(t *testing.T) {
	src := newTTTOrch(t, "m-swap")
	for _, mv := range columnWin[:3] {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	entries := src.Transcript()
	// Swap alice's recorded opener for a different cell. The stored
	// hashes still describe the original move.
	entries[1].Action = place(8)

	if _, err := FromReplay(tictactoe.New(), "m-swap", []string{alice, bob}, 1, entries); !errors.Is(err, ErrReplayHashMismatch) {
		t.Errorf("rewritten move replayed with error %v, want ErrReplayHashMismatch", err)
	}
}

func TestReplayRejectsBrokenLinkage(t *testing.T) {
	src := newTTTOrch(t, "m-badlink")
	for _, mv := range columnWin[:2] {
		if _, err := src.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	entries := src.Transcript()
	entries[2].PrevHash = strings.Repeat("ff", 32)

	if _, err := FromReplay(tictactoe.New(), "m-badlink", []string{alice, bob}, 1, entries); !errors.Is(err, ErrReplayHashMismatch) {
		t.Errorf("broken linkage replayed with error %v, want ErrReplayHashMismatch", err)
	}
}

func TestReplayRequiresInitEntry(t *testing.T) {
	src := newTTTOrch(t, "m-noinit")
	if _, err := src.Submit(alice, place(4), nil); err != nil {
		t.Fatalf("setup move failed: %v", err)
	}
	entries := src.Transcript()

	if _, err := FromReplay(tictactoe.New(), "m-noinit", []string{alice, bob}, 1, nil); err == nil {
		t.Error("replay of an empty transcript accepted")
	}
	if _, err := FromReplay(tictactoe.New(), "m-noinit", []string{alice, bob}, 1, entries[1:]); err == nil {
		t.Error("replay without the init entry accepted")
	}
}

func TestReplayBindsSeed(t *testing.T) {
	// Sudoku bakes its seed into the generated puzzle, so replaying
	// under the wrong seed diverges at the init entry already.
	mod := sudoku.New()
	src, err := NewOrchestrator(mod, "m-seed", []string{alice}, 42)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	if _, err := FromReplay(mod, "m-seed", []string{alice}, 42, src.Transcript()); err != nil {
		t.Errorf("replay under the original seed failed: %v", err)
	}
	if _, err := FromReplay(mod, "m-seed", []string{alice}, 43, src.Transcript()); !errors.Is(err, ErrReplayHashMismatch) {
		t.Errorf("replay under the wrong seed returned %v, want ErrReplayHashMismatch", err)
	}
}
