package match

import (
	"testing"
	"time"
)

func testMatch(id, code string) *Match {
	return &Match{
		ID:         id,
		GameID:     "tictactoe",
		StakeWei:   "0",
		InviteCode: code,
		CreatedAt:  time.Now(),
		status:     StatusWaitingOpponent,
		players:    []string{alice},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	m := testMatch("m1", "")

	if err := r.Register(m); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if got, ok := r.Lookup("m1"); !ok || got != m {
		t.Error("registered match not found by id")
	}
	if _, ok := r.Lookup("m2"); ok {
		t.Error("lookup of unknown id succeeded")
	}
	if err := r.Register(testMatch("m1", "")); err == nil {
		t.Error("duplicate registration accepted")
	}
	if r.Len() != 1 {
		t.Errorf("registry len = %d, want 1", r.Len())
	}
}

func TestInviteClaimedExactlyOnce(t *testing.T) {
	r := NewRegistry()
	m := testMatch("m1", "ABCDEF")
	if err := r.Register(m); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Peeking never consumes.
	if got, ok := r.PeekInvite("ABCDEF"); !ok || got != m {
		t.Error("peek did not resolve the invite")
	}
	if !r.HasInvite("ABCDEF") {
		t.Error("invite gone after peek")
	}

	// The first claim wins, the second finds nothing.
	if got, ok := r.ClaimInvite("ABCDEF"); !ok || got != m {
		t.Fatal("first claim failed")
	}
	if _, ok := r.ClaimInvite("ABCDEF"); ok {
		t.Error("invite claimed twice")
	}
	if r.HasInvite("ABCDEF") {
		t.Error("claimed invite still listed")
	}

	// The match itself stays registered.
	if _, ok := r.Lookup("m1"); !ok {
		t.Error("match evicted by invite claim")
	}
}

func TestEvictDropsInviteIndex(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testMatch("m1", "QQQQQQ")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	r.Evict("m1")
	if _, ok := r.Lookup("m1"); ok {
		t.Error("evicted match still registered")
	}
	if r.HasInvite("QQQQQQ") {
		t.Error("evicted match's invite still claimable")
	}
	// Evicting twice is harmless.
	r.Evict("m1")
}

func TestEmergencyFlag(t *testing.T) {
	r := NewRegistry()
	if r.Emergency() {
		t.Fatal("fresh registry starts in emergency mode")
	}

	r.SetEmergency(true, "rpc provider down")
	if !r.Emergency() {
		t.Error("emergency flag not set")
	}
	if got := r.EmergencyReason(); got != "rpc provider down" {
		t.Errorf("emergency reason = %q", got)
	}

	r.SetEmergency(false, "")
	if r.Emergency() {
		t.Error("emergency flag not cleared")
	}
}

func TestActiveSnapshot(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := r.Register(testMatch(id, "")); err != nil {
			t.Fatalf("register %s failed: %v", id, err)
		}
	}

	snap := r.Active()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d matches, want 3", len(snap))
	}
	// The snapshot is detached: evicting after the fact does not shrink it.
	r.Evict("m2")
	if len(snap) != 3 {
		t.Error("snapshot shrank after eviction")
	}
	if r.Len() != 2 {
		t.Errorf("registry len = %d after eviction, want 2", r.Len())
	}
}
