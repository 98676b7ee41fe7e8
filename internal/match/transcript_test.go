package match

import (
	"strings"
	"testing"

	"github.com/dorkfun/backend/internal/game"
)

func TestStateHashBindsMatch(t *testing.T) {
	s := &game.State{
		GameID:        "tictactoe",
		Players:       []string{alice, bob},
		CurrentPlayer: alice,
		Data:          []byte(`{"board":["","","","","","","","",""]}`),
	}

	h1 := StateHash(s, "match-a")
	h2 := StateHash(s, "match-b")
	if h1 == h2 {
		t.Error("identical states in different matches hash the same")
	}
	if h1 != StateHash(s, "match-a") {
		t.Error("state hash is not deterministic")
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Errorf("state hash %q is not lowercase sha256 hex", h1)
	}
}

func TestVerifyChainAcceptsRealTranscript(t *testing.T) {
	o := newTTTOrch(t, "m-chain")
	for _, mv := range columnWin {
		if _, err := o.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	if err := VerifyChain(o.Transcript()); err != nil {
		t.Errorf("well-formed transcript rejected: %v", err)
	}
}

func TestVerifyChainRejectsBadGenesis(t *testing.T) {
	o := newTTTOrch(t, "m-badgen")
	entries := o.Transcript()
	entries[0].PrevHash = "deadbeef"

	if err := VerifyChain(entries); err == nil {
		t.Error("genesis with non-empty prevHash accepted")
	}
}

func TestVerifyChainRejectsSequenceGap(t *testing.T) {
	o := newTTTOrch(t, "m-gap")
	for _, mv := range columnWin[:3] {
		if _, err := o.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	entries := o.Transcript()
	// Drop the middle entry; sequence numbers no longer count up.
	entries = append(entries[:2], entries[3:]...)

	if err := VerifyChain(entries); err == nil {
		t.Error("transcript with a missing entry accepted")
	}
}

func TestVerifyChainRejectsBrokenLink(t *testing.T) {
	o := newTTTOrch(t, "m-link")
	for _, mv := range columnWin[:2] {
		if _, err := o.Submit(mv.player, place(mv.cell), nil); err != nil {
			t.Fatalf("setup move failed: %v", err)
		}
	}
	entries := o.Transcript()
	entries[2].PrevHash = strings.Repeat("ab", 32)

	if err := VerifyChain(entries); err == nil {
		t.Error("transcript with a broken hash link accepted")
	}
}

func TestTranscriptHashCoversEveryEntry(t *testing.T) {
	o := newTTTOrch(t, "m-digest")
	if _, err := o.Submit(alice, place(4), nil); err != nil {
		t.Fatalf("setup move failed: %v", err)
	}

	full := o.Transcript()
	h := TranscriptHash(full, "m-digest")
	if h == "" {
		t.Fatal("transcript hash is empty")
	}
	if h == TranscriptHash(full[:1], "m-digest") {
		t.Error("dropping an entry did not change the transcript hash")
	}

	tampered := append([]TranscriptEntry(nil), full...)
	tampered[1].Player = bob
	if h == TranscriptHash(tampered, "m-digest") {
		t.Error("rewriting an entry did not change the transcript hash")
	}
}
