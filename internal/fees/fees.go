// Package fees computes settlement fee breakdowns for finalized
// withdrawals. A withdrawal pays a flat per-transaction fee plus a
// fractional commission on the gross amount; the remainder is the net
// amount paid out externally.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFee is returned when the flat fee is negative.
	ErrInvalidFee = errors.New("fees: flat fee must be non-negative")

	// ErrInvalidCommission is returned when the commission rate is
	// outside [0, 1).
	ErrInvalidCommission = errors.New("fees: commission rate must be in [0, 1)")

	// ErrNetNotPositive is returned when fee and commission consume the
	// entire gross amount. Such a withdrawal must be rejected, not
	// settled at zero.
	ErrNetNotPositive = errors.New("fees: net amount must be positive after fees")

	// AmountScale is the number of decimal places for amount rounding,
	// matching the ledger's fixed precision.
	AmountScale int32 = 8
)

// Schedule computes fee breakdowns for one (token, vendor) withdrawal
// channel. It is stateless — gross amounts are passed as arguments.
type Schedule struct {
	flat decimal.Decimal
	rate decimal.Decimal
}

// NewSchedule creates a fee schedule with a flat per-withdrawal fee and
// a fractional commission rate on the gross amount.
func NewSchedule(flat, rate decimal.Decimal) (*Schedule, error) {
	if flat.IsNegative() {
		return nil, ErrInvalidFee
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidCommission
	}
	return &Schedule{flat: flat, rate: rate}, nil
}

// Flat returns the flat fee component.
func (s *Schedule) Flat() decimal.Decimal {
	return s.flat
}

// Rate returns the commission rate.
func (s *Schedule) Rate() decimal.Decimal {
	return s.rate
}

// Breakdown is the fee decomposition of one gross withdrawal amount.
// Fee + Commission + Net always equals the gross amount it was computed
// from; rounding is absorbed into Net.
type Breakdown struct {
	Fee        decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
}

// Compute decomposes a gross amount into flat fee, commission, and net.
//
//	commission = gross × rate, rounded to AmountScale
//	net        = gross − flat − commission
//
// Returns ErrNetNotPositive when the deductions leave nothing to pay
// out; the caller aborts the whole group in that case.
func (s *Schedule) Compute(gross decimal.Decimal) (Breakdown, error) {
	commission := gross.Mul(s.rate).Round(AmountScale)
	net := gross.Sub(s.flat).Sub(commission)
	if net.LessThanOrEqual(decimal.Zero) {
		return Breakdown{}, ErrNetNotPositive
	}
	return Breakdown{
		Fee:        s.flat,
		Commission: commission,
		Net:        net,
	}, nil
}
