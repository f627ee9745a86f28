package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

func TestStaticResolver_ExactMatchWins(t *testing.T) {
	r := NewStaticResolver()
	r.Set(model.WithdrawSettings{Token: "RWD", VendorTag: AnyVendor, Enabled: true, MinAmount: decimal.NewFromInt(1)})
	r.Set(model.WithdrawSettings{Token: "RWD", VendorTag: "partner-a", Enabled: true, MinAmount: decimal.NewFromInt(5)})

	s, err := r.WithdrawSettings(context.Background(), "RWD", "partner-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.MinAmount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected exact rule min=5, got %s", s.MinAmount)
	}
}

func TestStaticResolver_FallbackToAnyVendor(t *testing.T) {
	r := NewStaticResolver()
	r.Set(model.WithdrawSettings{Token: "RWD", VendorTag: AnyVendor, Enabled: true, MinAmount: decimal.NewFromInt(1)})

	s, err := r.WithdrawSettings(context.Background(), "rwd", "partner-z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.VendorTag != AnyVendor {
		t.Errorf("expected wildcard rule, got vendor %s", s.VendorTag)
	}
}

func TestStaticResolver_NotConfigured(t *testing.T) {
	r := NewStaticResolver()
	_, err := r.WithdrawSettings(context.Background(), "GLD", "partner-a")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParseSeed_Valid(t *testing.T) {
	rules, err := ParseSeed("RWD:*:1:0.5:0.01;GLD:partner-a:5:1:0.02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Token != "RWD" || rules[0].VendorTag != "*" {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
	if !rules[0].Enabled {
		t.Error("seeded rules must be enabled")
	}
	if !rules[1].Commission.Equal(decimal.NewFromFloat(0.02)) {
		t.Errorf("expected commission 0.02, got %s", rules[1].Commission)
	}
}

func TestParseSeed_LowercaseTokenNormalized(t *testing.T) {
	rules, err := ParseSeed("rwd:*:1:0:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules[0].Token != "RWD" {
		t.Errorf("expected normalized token RWD, got %s", rules[0].Token)
	}
}

func TestParseSeed_Invalid(t *testing.T) {
	cases := []string{
		"RWD:*:1:0.5",      // too few fields
		"RWD:*:x:0.5:0.01", // bad min
		"RWD:*:1:x:0.01",   // bad fee
		"RWD:*:1:0.5:x",    // bad commission
	}
	for _, c := range cases {
		if _, err := ParseSeed(c); !errors.Is(err, ErrInvalidSeed) {
			t.Errorf("ParseSeed(%q): expected ErrInvalidSeed, got %v", c, err)
		}
	}
}

func TestParseSeed_EmptySegmentsSkipped(t *testing.T) {
	rules, err := ParseSeed("RWD:*:1:0:0; ;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rules))
	}
}
