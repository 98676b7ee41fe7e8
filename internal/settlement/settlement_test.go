package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"
)

func TestMatchIDBytes32LeftPadsUUID(t *testing.T) {
	id := "0f14d0ab-9605-4a62-a9e4-5ed26688389b"
	got, err := MatchIDBytes32(id)
	if err != nil {
		t.Fatalf("MatchIDBytes32(%q) failed: %v", id, err)
	}

	raw, _ := hex.DecodeString(strings.ReplaceAll(id, "-", ""))
	if !bytes.Equal(got[32-len(raw):], raw) {
		t.Errorf("low bytes = %x, want %x", got[32-len(raw):], raw)
	}
	for i := 0; i < 32-len(raw); i++ {
		if got[i] != 0 {
			t.Fatalf("pad byte %d = %#x, want 0", i, got[i])
		}
	}
}

func TestMatchIDBytes32FullWidth(t *testing.T) {
	id := strings.Repeat("ab", 32)
	got, err := MatchIDBytes32(id)
	if err != nil {
		t.Fatalf("full-width id rejected: %v", err)
	}
	raw, _ := hex.DecodeString(id)
	if !bytes.Equal(got[:], raw) {
		t.Errorf("decoded = %x, want %x", got, raw)
	}
}

func TestMatchIDBytes32Rejects(t *testing.T) {
	// Non-hex, odd length, and anything beyond 32 bytes.
	for _, id := range []string{"not-a-uuid", "abc", strings.Repeat("ab", 33)} {
		if _, err := MatchIDBytes32(id); err == nil {
			t.Errorf("MatchIDBytes32(%q) accepted", id)
		}
	}
}

func TestParseGameIDTable(t *testing.T) {
	table, err := ParseGameIDTable("")
	if err != nil || len(table) != 0 {
		t.Errorf("empty table = %v, %v", table, err)
	}

	in := "tictactoe=0x" + strings.Repeat("aa", 32) + ", sudoku=" + strings.Repeat("bb", 32)
	table, err = ParseGameIDTable(in)
	if err != nil {
		t.Fatalf("ParseGameIDTable failed: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("parsed %d mappings, want 2", len(table))
	}
	if table["tictactoe"][0] != 0xaa || table["sudoku"][31] != 0xbb {
		t.Errorf("mapping bytes wrong: %x / %x", table["tictactoe"], table["sudoku"])
	}
}

func TestParseGameIDTableRejects(t *testing.T) {
	// Missing separator, short value, and non-hex bytes all fail.
	bad := []string{
		"tictactoe",
		"tictactoe=0x1234",
		"t=0x" + strings.Repeat("zz", 32),
	}
	for _, in := range bad {
		if _, err := ParseGameIDTable(in); err == nil {
			t.Errorf("ParseGameIDTable(%q) accepted", in)
		}
	}
}

func TestNoopCoordinator(t *testing.T) {
	ctx := context.Background()
	n := NewNoop()

	if n.Enabled() {
		t.Error("noop coordinator reports an enabled escrow")
	}
	funded, err := n.IsFullyFunded(ctx, "m1")
	if err != nil || !funded {
		t.Errorf("noop funding = %v, %v, want funded", funded, err)
	}
	min, err := n.MinimumStake(ctx, "tictactoe")
	if err != nil || min != "0" {
		t.Errorf("noop minimum stake = %q, %v", min, err)
	}
	if tx, err := n.ProposeSettlement(ctx, "m1", "", 5000, "hash"); err != nil || tx != "" {
		t.Errorf("noop proposal = %q, %v", tx, err)
	}
}

func TestDerivedGameIDStable(t *testing.T) {
	n := NewNoop()
	a1, err := n.GameIDBytes32("tictactoe")
	if err != nil {
		t.Fatalf("GameIDBytes32 failed: %v", err)
	}
	a2, _ := n.GameIDBytes32("tictactoe")
	b, _ := n.GameIDBytes32("sudoku")

	if a1 != a2 {
		t.Error("derived game id is not stable")
	}
	if a1 == b {
		t.Error("different games derived the same id")
	}
	if a1 == ([32]byte{}) {
		t.Error("derived game id is zero")
	}
}
