package walletref

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	ref, err := Parse("U-10293:RWD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.AccountRef != "U-10293" {
		t.Errorf("expected account ref U-10293, got %s", ref.AccountRef)
	}
	if ref.Token != "RWD" {
		t.Errorf("expected token RWD, got %s", ref.Token)
	}
}

func TestParse_NormalizesTokenCase(t *testing.T) {
	ref, err := Parse("user.42:gld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Token != "GLD" {
		t.Errorf("expected upper-cased token GLD, got %s", ref.Token)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"U-10293",         // missing token
		":RWD",            // missing account ref
		"U 10293:RWD",     // space in account ref
		"U-10293:R",       // token too short
		"U-10293:RWD:EXT", // trailing segment
		"U-10293:123",     // numeric token
	}
	for _, c := range cases {
		if _, err := Parse(c); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Parse(%q): expected ErrInvalidRef, got %v", c, err)
		}
	}
}

func TestString_RoundTrip(t *testing.T) {
	ref, err := Parse("partner_7:RWD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ref.String(); got != "partner_7:RWD" {
		t.Errorf("expected round trip, got %s", got)
	}
}
