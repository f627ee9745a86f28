// Package limits enforces reservation caps on top of the hard balance
// check: a ceiling on any single freeze item and a ceiling on a wallet's
// total outstanding frozen amount.
//
// These are soft business limits for vendor risk control. The balance
// fold inside the store's atomic scope remains the only guard against
// overspending; the limiter just keeps a single vendor call from
// locking up an unreasonable share of a wallet.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrItemLimitExceeded is returned when one freeze item exceeds the
	// per-item maximum.
	ErrItemLimitExceeded = errors.New("limits: freeze amount exceeds per-item maximum")

	// ErrFrozenLimitExceeded is returned when a freeze would push a
	// wallet's outstanding frozen total beyond the maximum.
	ErrFrozenLimitExceeded = errors.New("limits: outstanding frozen total would exceed maximum")
)

// ReservationLimiter enforces freeze caps. Zero-valued limits disable
// the corresponding check.
type ReservationLimiter struct {
	// MaxPerItem is the maximum amount of a single freeze item.
	MaxPerItem decimal.Decimal

	// MaxFrozenPerWallet is the maximum total a wallet may have in
	// frozen reservations at once, including the new item.
	MaxFrozenPerWallet decimal.Decimal
}

// NewReservationLimiter creates a limiter with the given caps.
func NewReservationLimiter(maxPerItem, maxFrozenPerWallet decimal.Decimal) *ReservationLimiter {
	return &ReservationLimiter{
		MaxPerItem:         maxPerItem,
		MaxFrozenPerWallet: maxFrozenPerWallet,
	}
}

// Check validates one freeze item against the caps.
//
// Parameters:
//   - amount: the item's freeze amount
//   - outstandingFrozen: the wallet's current frozen total, plus any
//     amounts already staged for the same wallet in this call
//
// Returns nil if the item is within limits.
func (l *ReservationLimiter) Check(amount, outstandingFrozen decimal.Decimal) error {
	if l.MaxPerItem.IsPositive() && amount.GreaterThan(l.MaxPerItem) {
		return ErrItemLimitExceeded
	}
	if l.MaxFrozenPerWallet.IsPositive() &&
		outstandingFrozen.Add(amount).GreaterThan(l.MaxFrozenPerWallet) {
		return ErrFrozenLimitExceeded
	}
	return nil
}
