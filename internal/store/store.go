// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for display balances), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

var (
	// ErrWalletNotFound is returned when a wallet id or (account, token)
	// pair does not resolve to a live wallet.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrInsufficientFunds is returned when a freeze item exceeds the
	// wallet's spendable balance at check time, inside the atomic scope.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrDuplicateRequest is returned when a freeze request id was already
	// processed with a different payload. Same-payload retries are replayed
	// instead (FreezeResult.Replayed).
	ErrDuplicateRequest = errors.New("store: duplicate request id")

	// ErrGroupNotFound is returned when a freeze-group id has no
	// reservations, or none in the state the operation requires.
	ErrGroupNotFound = errors.New("store: freeze group not found")

	// ErrEntryNotFound is returned when a ledger entry id does not resolve
	// to a live entry.
	ErrEntryNotFound = errors.New("store: ledger entry not found")

	// ErrConflict is returned when the atomic scope could not commit.
	// The operation had no effect; the caller may retry under the
	// protection of the idempotency guard.
	ErrConflict = errors.New("store: transaction conflict")
)

// FreezeItem is one per-wallet debit inside a freeze group.
type FreezeItem struct {
	WalletID string
	Amount   decimal.Decimal
}

// FreezeCommand groups N debits into one atomic freeze operation.
// RequestHash is the hex SHA-256 of the caller's payload, used to tell
// an idempotent replay apart from request-id reuse.
type FreezeCommand struct {
	RequestID   string
	RequestHash string
	VendorTag   string
	Meta        string
	Items       []FreezeItem
}

// FreezeResult reports the committed (or replayed) freeze group.
type FreezeResult struct {
	GroupID     string
	TotalFrozen decimal.Decimal
	Replayed    bool
}

// ReleaseResult reports an unfreeze. A second unfreeze of the same group
// succeeds with Released == 0 rather than erroring.
type ReleaseResult struct {
	GroupID       string
	RequestID     string
	TotalReleased decimal.Decimal
	Released      int
}

// SettlementSpec carries the fee breakdown for one reservation, computed
// by the withdrawal finalizer before the atomic scope is entered.
// Amounts on reservations are immutable, so computing outside the
// transaction is safe; only the state transition needs the lock.
type SettlementSpec struct {
	ReservationID string
	Fee           decimal.Decimal
	Commission    decimal.Decimal
	NetAmount     decimal.Decimal
	ReferenceHash string
}

// SettleResult reports a finalized withdrawal.
type SettleResult struct {
	GroupID        string
	RequestID      string
	TotalWithdrawn decimal.Decimal
	TotalFee       decimal.Decimal
	Settlements    []model.Settlement
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// the group operations (FreezeGroup, ReleaseGroup, SettleGroup) are
// atomic: all writes commit together or none do.
type Store interface {
	// --- Accounts and wallets (lazy creation) ---

	// EnsureAccount resolves an external reference to an account,
	// creating it on first sight.
	EnsureAccount(ctx context.Context, externalRef string) (*model.Account, error)

	// EnsureWallet resolves (account, token) to a wallet, creating it
	// lazily. Soft-deleted wallets are not resurrected.
	EnsureWallet(ctx context.Context, accountID, token string) (*model.Wallet, error)

	// GetWallet returns the live wallet for (account, token).
	GetWallet(ctx context.Context, accountID, token string) (*model.Wallet, error)

	// GetWalletByID returns a wallet by its id.
	GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends one entry outside a freeze group
	// (deposits, transfers, reward credits).
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	// GetLedgerEntriesByWallet returns a wallet's entries in creation
	// order, including soft-deleted ones for audit.
	GetLedgerEntriesByWallet(ctx context.Context, walletID string) ([]model.LedgerEntry, error)

	// SoftDeleteLedgerEntry marks an entry deleted so balance folds skip
	// it. The row itself is never removed.
	SoftDeleteLedgerEntry(ctx context.Context, entryID string) error

	// GetBalance folds the ledger into the wallet's spendable balance and
	// sums its frozen reservations. The fold is the only legitimate
	// source of balance.
	GetBalance(ctx context.Context, walletID string) (spendable, frozen decimal.Decimal, err error)

	// --- Reservation groups (atomic) ---

	// FreezeGroup checks the idempotency marker, validates spendable
	// balance per item, and writes N "out" entries plus N frozen
	// reservations under one new group id — all in one atomic scope.
	FreezeGroup(ctx context.Context, cmd FreezeCommand) (*FreezeResult, error)

	// ReleaseGroup writes a reversing "in" entry per frozen reservation
	// and transitions the group to released.
	ReleaseGroup(ctx context.Context, groupID string) (*ReleaseResult, error)

	// SettleGroup writes one settlement per frozen reservation and
	// transitions the group to withdrawn. No ledger entries are written;
	// the debit happened at freeze time.
	SettleGroup(ctx context.Context, groupID string, specs []SettlementSpec) (*SettleResult, error)

	// GetReservationsByGroup returns all reservations in a group.
	GetReservationsByGroup(ctx context.Context, groupID string) ([]model.Reservation, error)

	// GetSettlementsByGroup returns the settlements created for a group.
	GetSettlementsByGroup(ctx context.Context, groupID string) ([]model.Settlement, error)
}
