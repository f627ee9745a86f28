// Package model defines the core domain types shared across the wallet engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Flow direction of a ledger entry.
const (
	FlowIn  = "in"
	FlowOut = "out"
)

// Ledger entry kinds. Freeze/unfreeze are written by the reservation
// engine; the rest enter through deposits, transfers, and reward jobs.
const (
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindFreeze   = "freeze"
	KindUnfreeze = "unfreeze"
	KindTransfer = "transfer"
	KindStake    = "stake"
	KindBonus    = "bonus"
)

// Reservation states. Frozen is the only non-terminal state.
const (
	ReservationFrozen    = "frozen"
	ReservationReleased  = "released"
	ReservationWithdrawn = "withdrawn"
)

// Account maps an external business identifier to an internal id.
// Created lazily on first reference.
type Account struct {
	ID          string    `json:"id" db:"id"`
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Wallet identifies one (account, token) pair. It holds no authoritative
// balance: CachedBalance is a display-only snapshot and every decision
// with financial consequence recomputes from the ledger fold.
// Wallets are never hard-deleted; DeletedAt keeps the audit trail.
type Wallet struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Token         string          `json:"token" db:"token"`
	CachedBalance decimal.Decimal `json:"cached_balance" db:"cached_balance"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// LedgerEntry is an immutable record of a single funds movement.
// Once created, entries are never modified; corrections are made by
// inserting a reversing entry. DeletedAt excludes an entry from balance
// folds without physically removing it.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	WalletID  string          `json:"wallet_id" db:"wallet_id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Flow      string          `json:"flow" db:"flow"` // "in" or "out"
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Kind      string          `json:"kind" db:"kind"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Reservation holds funds removed from spendable balance but not yet
// settled. All reservations created by one Freeze call share a GroupID
// and transition together. PrevBalance/NewBalance are diagnostic
// snapshots only, never read back for decisions.
type Reservation struct {
	ID          string          `json:"id" db:"id"`
	GroupID     string          `json:"group_id" db:"group_id"`
	WalletID    string          `json:"wallet_id" db:"wallet_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	EntryID     string          `json:"entry_id" db:"entry_id"` // the "out" entry that reserved the funds
	State       string          `json:"state" db:"state"`
	RequestID   string          `json:"request_id" db:"request_id"`
	VendorTag   string          `json:"vendor_tag" db:"vendor_tag"`
	PrevBalance decimal.Decimal `json:"prev_balance" db:"prev_balance"`
	NewBalance  decimal.Decimal `json:"new_balance" db:"new_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Settlement is the terminal record of a withdrawn reservation.
// Created exactly once per reservation; no new ledger entry accompanies
// it because the funds already left the ledger at freeze time.
type Settlement struct {
	ID            string          `json:"id" db:"id"`
	ReservationID string          `json:"reservation_id" db:"reservation_id"`
	WalletID      string          `json:"wallet_id" db:"wallet_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	Commission    decimal.Decimal `json:"commission" db:"commission"`
	NetAmount     decimal.Decimal `json:"net_amount" db:"net_amount"`
	ReferenceHash string          `json:"reference_hash" db:"reference_hash"`
	Status        string          `json:"status" db:"status"` // "completed" by construction
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// IdempotencyMarker guards against duplicate vendor requests. A request
// id maps to at most one freeze-group; RequestHash distinguishes a
// legitimate replay (same payload → return stored result) from key
// reuse with a different payload.
type IdempotencyMarker struct {
	RequestID   string          `json:"request_id" db:"request_id"`
	RequestHash string          `json:"request_hash" db:"request_hash"`
	GroupID     string          `json:"group_id" db:"group_id"`
	TotalFrozen decimal.Decimal `json:"total_frozen" db:"total_frozen"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WithdrawSettings is the per-(token, vendor) withdrawal configuration
// supplied by the settings resolver. Fee is a flat amount in token
// units; Commission is a fractional rate applied to the gross amount.
type WithdrawSettings struct {
	Token      string          `json:"token"`
	VendorTag  string          `json:"vendor_tag"`
	Enabled    bool            `json:"enabled"`
	MinAmount  decimal.Decimal `json:"min_amount"`
	Fee        decimal.Decimal `json:"fee"`
	Commission decimal.Decimal `json:"commission"`
}

// TokenBalance is the per-token view returned by the balance endpoint.
// Spendable and frozen are always reported separately, never netted.
type TokenBalance struct {
	Token         string          `json:"token"`
	Balance       decimal.Decimal `json:"balance"`
	FrozenBalance decimal.Decimal `json:"frozen_balance"`
}
