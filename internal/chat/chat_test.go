package chat

import (
	"context"
	"strings"
	"testing"
)

func TestSanitizeStripsControlCharacters(t *testing.T) {
	if got := Sanitize("hel\x00lo\tthere"); got != "hellothere" {
		t.Errorf("Sanitize = %q, want control characters gone", got)
	}
	// Newlines survive so multi-line messages stay readable.
	if got := Sanitize("good\ngame"); got != "good\ngame" {
		t.Errorf("Sanitize = %q, want newline kept", got)
	}
}

func TestSanitizeTrimsAndCaps(t *testing.T) {
	if got := Sanitize("   gg   "); got != "gg" {
		t.Errorf("Sanitize = %q, want trimmed", got)
	}

	long := strings.Repeat("зг", MaxMessageRunes) // multibyte, twice the cap
	got := Sanitize(long)
	if n := len([]rune(got)); n != MaxMessageRunes {
		t.Errorf("capped message has %d runes, want %d", n, MaxMessageRunes)
	}
}

func TestSanitizeEmptiesToNothing(t *testing.T) {
	for _, in := range []string{"", "   ", "\x01\x02\x03"} {
		if got := Sanitize(in); got != "" {
			t.Errorf("Sanitize(%q) = %q, want empty", in, got)
		}
	}
}

func TestSaveWithoutDatabase(t *testing.T) {
	// With no database the sanitized body still comes back, so the
	// fanout path works in development mode.
	got, err := Save(context.Background(), nil, "m1", "0xabc", "  nice move  ")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got != "nice move" {
		t.Errorf("Save returned %q", got)
	}

	// Messages that sanitize away are dropped, not stored.
	got, err = Save(context.Background(), nil, "m1", "0xabc", "\x02\x03")
	if err != nil || got != "" {
		t.Errorf("empty-after-sanitize Save = %q, %v", got, err)
	}
}
