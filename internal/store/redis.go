package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for display reads: wallet lookups and balance queries. Every
// write path goes to the primary store and invalidates the cache.
//
// The cache is best-effort display state only. The group operations are
// pure passthrough: their balance checks happen inside the primary
// store's transaction and never touch Redis.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

type cachedBalance struct {
	Spendable decimal.Decimal `json:"spendable"`
	Frozen    decimal.Decimal `json:"frozen"`
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, balanceKey(walletID)).Bytes()
	if err == nil {
		var cb cachedBalance
		if json.Unmarshal(data, &cb) == nil {
			return cb.Spendable, cb.Frozen, nil
		}
	}

	spendable, frozen, err := s.primary.GetBalance(ctx, walletID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if data, err := json.Marshal(cachedBalance{Spendable: spendable, Frozen: frozen}); err == nil {
		s.rdb.Set(ctx, balanceKey(walletID), data, s.ttl)
	}
	return spendable, frozen, nil
}

func (s *CachedStore) GetWallet(ctx context.Context, accountID, token string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(accountID, token)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, accountID, token)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(accountID, token), data, s.ttl)
	}
	return w, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(e.WalletID))
	return nil
}

func (s *CachedStore) SoftDeleteLedgerEntry(ctx context.Context, entryID string) error {
	if err := s.primary.SoftDeleteLedgerEntry(ctx, entryID); err != nil {
		return err
	}
	// Corrections are rare and the entry→wallet mapping is not cached;
	// the stale balance key expires via TTL.
	return nil
}

func (s *CachedStore) FreezeGroup(ctx context.Context, cmd FreezeCommand) (*FreezeResult, error) {
	res, err := s.primary.FreezeGroup(ctx, cmd)
	if err != nil {
		return nil, err
	}
	for _, item := range cmd.Items {
		s.rdb.Del(ctx, balanceKey(item.WalletID))
	}
	return res, nil
}

func (s *CachedStore) ReleaseGroup(ctx context.Context, groupID string) (*ReleaseResult, error) {
	res, err := s.primary.ReleaseGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.invalidateGroup(ctx, groupID)
	return res, nil
}

func (s *CachedStore) SettleGroup(ctx context.Context, groupID string, specs []SettlementSpec) (*SettleResult, error) {
	res, err := s.primary.SettleGroup(ctx, groupID, specs)
	if err != nil {
		return nil, err
	}
	s.invalidateGroup(ctx, groupID)
	return res, nil
}

func (s *CachedStore) invalidateGroup(ctx context.Context, groupID string) {
	reservations, err := s.primary.GetReservationsByGroup(ctx, groupID)
	if err != nil {
		return
	}
	for _, r := range reservations {
		s.rdb.Del(ctx, balanceKey(r.WalletID))
	}
}

// --- Passthrough (not cached) ---

func (s *CachedStore) EnsureAccount(ctx context.Context, externalRef string) (*model.Account, error) {
	return s.primary.EnsureAccount(ctx, externalRef)
}

func (s *CachedStore) EnsureWallet(ctx context.Context, accountID, token string) (*model.Wallet, error) {
	w, err := s.primary.EnsureWallet(ctx, accountID, token)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, walletKey(accountID, token))
	return w, nil
}

func (s *CachedStore) GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error) {
	return s.primary.GetWalletByID(ctx, walletID)
}

func (s *CachedStore) GetLedgerEntriesByWallet(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByWallet(ctx, walletID)
}

func (s *CachedStore) GetReservationsByGroup(ctx context.Context, groupID string) ([]model.Reservation, error) {
	return s.primary.GetReservationsByGroup(ctx, groupID)
}

func (s *CachedStore) GetSettlementsByGroup(ctx context.Context, groupID string) ([]model.Settlement, error) {
	return s.primary.GetSettlementsByGroup(ctx, groupID)
}

// --- Cache keys ---

func balanceKey(walletID string) string         { return fmt.Sprintf("balance:%s", walletID) }
func walletKey(accountID, token string) string  { return fmt.Sprintf("wallet:%s:%s", accountID, token) }
