// Package settings resolves per-(token, vendor) withdrawal
// configuration: whether the channel is enabled, the minimum amount,
// and the fee schedule. In production this data is owned by the admin
// backend; the engine only consumes it through the Resolver interface.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

var (
	// ErrNotConfigured is returned when no withdrawal channel exists for
	// the (token, vendor) pair.
	ErrNotConfigured = errors.New("settings: withdrawal channel not configured")

	// ErrInvalidSeed is returned when a seed string cannot be parsed.
	ErrInvalidSeed = errors.New("settings: invalid seed format")
)

// AnyVendor matches every vendor when used as the vendor tag of a rule.
const AnyVendor = "*"

// Resolver supplies withdrawal settings for a token under a vendor tag.
type Resolver interface {
	WithdrawSettings(ctx context.Context, token, vendorTag string) (model.WithdrawSettings, error)
}

// StaticResolver resolves from an in-memory rule table, seeded at
// startup. Lookup prefers an exact (token, vendor) rule over a
// (token, AnyVendor) fallback.
type StaticResolver struct {
	mu    sync.RWMutex
	rules map[string]model.WithdrawSettings
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{rules: make(map[string]model.WithdrawSettings)}
}

// Set installs or replaces one rule.
func (r *StaticResolver) Set(s model.WithdrawSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[ruleKey(s.Token, s.VendorTag)] = s
}

func (r *StaticResolver) WithdrawSettings(_ context.Context, token, vendorTag string) (model.WithdrawSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.rules[ruleKey(token, vendorTag)]; ok {
		return s, nil
	}
	if s, ok := r.rules[ruleKey(token, AnyVendor)]; ok {
		return s, nil
	}
	return model.WithdrawSettings{}, fmt.Errorf("%w: %s/%s", ErrNotConfigured, token, vendorTag)
}

// ParseSeed parses a seed string of semicolon-separated rules:
//
//	TOKEN:vendor:minAmount:fee:commission[;...]
//
// Example: "RWD:*:1:0.5:0.01;GLD:partner-a:5:1:0.02"
// A rule present in the seed is an enabled channel; channels absent
// from the seed are disabled.
func ParseSeed(seed string) ([]model.WithdrawSettings, error) {
	var rules []model.WithdrawSettings
	for _, part := range strings.Split(seed, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: %q (expected TOKEN:vendor:min:fee:commission)", ErrInvalidSeed, part)
		}
		minAmount, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: bad min amount in %q", ErrInvalidSeed, part)
		}
		fee, err := decimal.NewFromString(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: bad fee in %q", ErrInvalidSeed, part)
		}
		commission, err := decimal.NewFromString(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%w: bad commission in %q", ErrInvalidSeed, part)
		}
		rules = append(rules, model.WithdrawSettings{
			Token:      strings.ToUpper(fields[0]),
			VendorTag:  fields[1],
			Enabled:    true,
			MinAmount:  minAmount,
			Fee:        fee,
			Commission: commission,
		})
	}
	return rules, nil
}

func ruleKey(token, vendorTag string) string {
	return strings.ToUpper(token) + "|" + vendorTag
}
