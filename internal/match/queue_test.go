package match

import (
	"errors"
	"testing"
)

func TestStakeBucketCanonicalizes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "free"},
		{"0", "free"},
		{"000", "free"},
		{"1000000000000000000", "1000000000000000000"},
		{"0500", "500"}, // leading zeros collapse so equal stakes share a bucket
	}
	for _, c := range cases {
		got, err := StakeBucket(c.in)
		if err != nil {
			t.Errorf("StakeBucket(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("StakeBucket(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStakeBucketRejectsGarbage(t *testing.T) {
	for _, in := range []string{"-5", "1.5", "0x10", "ten", "1e18"} {
		if _, err := StakeBucket(in); !errors.Is(err, ErrInvalidStake) {
			t.Errorf("StakeBucket(%q) returned %v, want ErrInvalidStake", in, err)
		}
	}
}

func TestNormalizeStake(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0", "0"},
		{"0012", "12"},
		{"2000000000000000000", "2000000000000000000"},
	}
	for _, c := range cases {
		if got := normalizeStake(c.in); got != c.want {
			t.Errorf("normalizeStake(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
