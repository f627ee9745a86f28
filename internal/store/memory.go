package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
// A single mutex is the atomic scope: every group operation runs
// entirely under it, so partial writes are impossible.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account // keyed by external ref
	wallets      map[string]*model.Wallet  // keyed by wallet id
	ledger       []model.LedgerEntry
	reservations map[string]*model.Reservation // keyed by reservation id
	settlements  []model.Settlement
	markers      map[string]*model.IdempotencyMarker // keyed by request id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		wallets:      make(map[string]*model.Wallet),
		reservations: make(map[string]*model.Reservation),
		markers:      make(map[string]*model.IdempotencyMarker),
	}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, externalRef string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[externalRef]; ok {
		copy := *a
		return &copy, nil
	}
	a := &model.Account{
		ID:          uuid.New().String(),
		ExternalRef: externalRef,
		CreatedAt:   time.Now().UTC(),
	}
	s.accounts[externalRef] = a
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) EnsureWallet(_ context.Context, accountID, token string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w := s.findWallet(accountID, token); w != nil {
		copy := *w
		return &copy, nil
	}
	w := &model.Wallet{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Token:         strings.ToUpper(token),
		CachedBalance: decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}
	s.wallets[w.ID] = w
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, accountID, token string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w := s.findWallet(accountID, token); w != nil {
		copy := *w
		return &copy, nil
	}
	return nil, ErrWalletNotFound
}

func (s *MemoryStore) GetWalletByID(_ context.Context, walletID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletID]
	if !ok || w.DeletedAt != nil {
		return nil, ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

// findWallet must be called under the lock.
func (s *MemoryStore) findWallet(accountID, token string) *model.Wallet {
	token = strings.ToUpper(token)
	for _, w := range s.wallets {
		if w.AccountID == accountID && w.Token == token && w.DeletedAt == nil {
			return w
		}
	}
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[e.WalletID]
	if !ok || w.DeletedAt != nil {
		return ErrWalletNotFound
	}
	s.ledger = append(s.ledger, *e)
	w.CachedBalance = s.foldBalance(e.WalletID)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByWallet(_ context.Context, walletID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.WalletID == walletID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) SoftDeleteLedgerEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].ID == entryID && s.ledger[i].DeletedAt == nil {
			now := time.Now().UTC()
			s.ledger[i].DeletedAt = &now
			if w, ok := s.wallets[s.ledger[i].WalletID]; ok {
				w.CachedBalance = s.foldBalance(w.ID)
			}
			return nil
		}
	}
	return ErrEntryNotFound
}

func (s *MemoryStore) GetBalance(_ context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletID]
	if !ok || w.DeletedAt != nil {
		return decimal.Zero, decimal.Zero, ErrWalletNotFound
	}
	return s.foldBalance(walletID), s.frozenTotal(walletID), nil
}

// foldBalance computes spendable balance from the ledger: sum(in) - sum(out)
// over non-deleted entries. Must be called under the lock. This mirrors the
// SQL aggregate in the postgres store.
func (s *MemoryStore) foldBalance(walletID string) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range s.ledger {
		if e.WalletID != walletID || e.DeletedAt != nil {
			continue
		}
		if e.Flow == model.FlowIn {
			balance = balance.Add(e.Amount)
		} else {
			balance = balance.Sub(e.Amount)
		}
	}
	return balance
}

// frozenTotal sums active reservations. Must be called under the lock.
func (s *MemoryStore) frozenTotal(walletID string) decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.reservations {
		if r.WalletID == walletID && r.State == model.ReservationFrozen {
			total = total.Add(r.Amount)
		}
	}
	return total
}

func (s *MemoryStore) FreezeGroup(_ context.Context, cmd FreezeCommand) (*FreezeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency guard: same id + same payload replays the original
	// result; same id + different payload is a terminal duplicate.
	if m, ok := s.markers[cmd.RequestID]; ok {
		if m.RequestHash == cmd.RequestHash {
			return &FreezeResult{GroupID: m.GroupID, TotalFrozen: m.TotalFrozen, Replayed: true}, nil
		}
		return nil, ErrDuplicateRequest
	}

	groupID := uuid.New().String()
	for s.groupExists(groupID) {
		groupID = uuid.New().String()
	}

	// Validate every item against the fold before staging any write.
	// Multiple items on the same wallet are checked cumulatively.
	staged := make(map[string]decimal.Decimal)
	for _, item := range cmd.Items {
		w, ok := s.wallets[item.WalletID]
		if !ok || w.DeletedAt != nil {
			return nil, ErrWalletNotFound
		}
		spendable := s.foldBalance(item.WalletID).Sub(staged[item.WalletID])
		if spendable.LessThan(item.Amount) {
			return nil, ErrInsufficientFunds
		}
		staged[item.WalletID] = staged[item.WalletID].Add(item.Amount)
	}

	now := time.Now().UTC()
	total := decimal.Zero
	for _, item := range cmd.Items {
		prev := s.foldBalance(item.WalletID)
		entry := model.LedgerEntry{
			ID:        uuid.New().String(),
			WalletID:  item.WalletID,
			AccountID: s.wallets[item.WalletID].AccountID,
			Flow:      model.FlowOut,
			Amount:    item.Amount,
			Kind:      model.KindFreeze,
			CreatedAt: now,
		}
		s.ledger = append(s.ledger, entry)

		r := &model.Reservation{
			ID:          uuid.New().String(),
			GroupID:     groupID,
			WalletID:    item.WalletID,
			Amount:      item.Amount,
			EntryID:     entry.ID,
			State:       model.ReservationFrozen,
			RequestID:   cmd.RequestID,
			VendorTag:   cmd.VendorTag,
			PrevBalance: prev,
			NewBalance:  prev.Sub(item.Amount),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.reservations[r.ID] = r

		s.wallets[item.WalletID].CachedBalance = s.foldBalance(item.WalletID)
		total = total.Add(item.Amount)
	}

	s.markers[cmd.RequestID] = &model.IdempotencyMarker{
		RequestID:   cmd.RequestID,
		RequestHash: cmd.RequestHash,
		GroupID:     groupID,
		TotalFrozen: total,
		CreatedAt:   now,
	}

	return &FreezeResult{GroupID: groupID, TotalFrozen: total}, nil
}

// groupExists must be called under the lock.
func (s *MemoryStore) groupExists(groupID string) bool {
	for _, r := range s.reservations {
		if r.GroupID == groupID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ReleaseGroup(_ context.Context, groupID string) (*ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.groupMembers(groupID)
	if len(group) == 0 {
		return nil, ErrGroupNotFound
	}

	result := &ReleaseResult{
		GroupID:       groupID,
		RequestID:     group[0].RequestID,
		TotalReleased: decimal.Zero,
	}

	now := time.Now().UTC()
	for _, r := range group {
		if r.State != model.ReservationFrozen {
			continue // already terminal; second release is a no-op
		}
		entry := model.LedgerEntry{
			ID:        uuid.New().String(),
			WalletID:  r.WalletID,
			AccountID: s.wallets[r.WalletID].AccountID,
			Flow:      model.FlowIn,
			Amount:    r.Amount,
			Kind:      model.KindUnfreeze,
			CreatedAt: now,
		}
		s.ledger = append(s.ledger, entry)

		r.State = model.ReservationReleased
		r.UpdatedAt = now
		s.wallets[r.WalletID].CachedBalance = s.foldBalance(r.WalletID)

		result.TotalReleased = result.TotalReleased.Add(r.Amount)
		result.Released++
	}

	return result, nil
}

func (s *MemoryStore) SettleGroup(_ context.Context, groupID string, specs []SettlementSpec) (*SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.groupMembers(groupID)
	frozen := group[:0:0]
	for _, r := range group {
		if r.State == model.ReservationFrozen {
			frozen = append(frozen, r)
		}
	}
	if len(frozen) == 0 {
		return nil, ErrGroupNotFound
	}

	// Every frozen reservation must have a spec before anything is
	// written; the group settles as a whole or not at all.
	byReservation := make(map[string]SettlementSpec, len(specs))
	for _, spec := range specs {
		byReservation[spec.ReservationID] = spec
	}
	for _, r := range frozen {
		if _, ok := byReservation[r.ID]; !ok {
			return nil, ErrGroupNotFound
		}
	}

	result := &SettleResult{
		GroupID:        groupID,
		RequestID:      frozen[0].RequestID,
		TotalWithdrawn: decimal.Zero,
		TotalFee:       decimal.Zero,
	}

	now := time.Now().UTC()
	for _, r := range frozen {
		spec := byReservation[r.ID]
		settlement := model.Settlement{
			ID:            uuid.New().String(),
			ReservationID: r.ID,
			WalletID:      r.WalletID,
			Amount:        r.Amount,
			Fee:           spec.Fee,
			Commission:    spec.Commission,
			NetAmount:     spec.NetAmount,
			ReferenceHash: spec.ReferenceHash,
			Status:        "completed",
			CreatedAt:     now,
		}
		s.settlements = append(s.settlements, settlement)

		r.State = model.ReservationWithdrawn
		r.UpdatedAt = now

		result.TotalWithdrawn = result.TotalWithdrawn.Add(r.Amount)
		result.TotalFee = result.TotalFee.Add(spec.Fee).Add(spec.Commission)
		result.Settlements = append(result.Settlements, settlement)
	}

	return result, nil
}

// groupMembers must be called under the lock.
func (s *MemoryStore) groupMembers(groupID string) []*model.Reservation {
	var group []*model.Reservation
	for _, r := range s.reservations {
		if r.GroupID == groupID {
			group = append(group, r)
		}
	}
	return group
}

func (s *MemoryStore) GetReservationsByGroup(_ context.Context, groupID string) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Reservation
	for _, r := range s.reservations {
		if r.GroupID == groupID {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetSettlementsByGroup(_ context.Context, groupID string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservationIDs := make(map[string]bool)
	for _, r := range s.reservations {
		if r.GroupID == groupID {
			reservationIDs[r.ID] = true
		}
	}

	var result []model.Settlement
	for _, st := range s.settlements {
		if reservationIDs[st.ReservationID] {
			result = append(result, st)
		}
	}
	return result, nil
}
