package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
	"github.com/rewardgrid/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seedWallet creates an account and wallet with the given spendable balance.
func seedWallet(t *testing.T, ms *store.MemoryStore, externalRef string, balance float64) *model.Wallet {
	t.Helper()
	ctx := context.Background()

	account, err := ms.EnsureAccount(ctx, externalRef)
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	wallet, err := ms.EnsureWallet(ctx, account.ID, "RWD")
	if err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
	if balance > 0 {
		deposit(t, ms, wallet, balance)
	}
	return wallet
}

func deposit(t *testing.T, ms *store.MemoryStore, wallet *model.Wallet, amount float64) *model.LedgerEntry {
	t.Helper()
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		WalletID:  wallet.ID,
		AccountID: wallet.AccountID,
		Flow:      model.FlowIn,
		Amount:    d(amount),
		Kind:      model.KindDeposit,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.InsertLedgerEntry(context.Background(), entry); err != nil {
		t.Fatalf("failed to deposit: %v", err)
	}
	return entry
}

func freeze(t *testing.T, ms *store.MemoryStore, requestID string, items ...store.FreezeItem) *store.FreezeResult {
	t.Helper()
	result, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   requestID,
		RequestHash: "hash-" + requestID,
		VendorTag:   "vendor-a",
		Items:       items,
	})
	if err != nil {
		t.Fatalf("freeze failed: %v", err)
	}
	return result
}

func balance(t *testing.T, ms *store.MemoryStore, walletID string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	spendable, frozen, err := ms.GetBalance(context.Background(), walletID)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	return spendable, frozen
}

// --- Balance fold ---

func TestBalanceFold_InMinusOut(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 0)
	ctx := context.Background()

	flows := []struct {
		flow   string
		amount float64
	}{
		{model.FlowIn, 100},
		{model.FlowOut, 30},
		{model.FlowIn, 5.5},
		{model.FlowOut, 0.5},
	}
	for _, f := range flows {
		err := ms.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID:        uuid.New().String(),
			WalletID:  w.ID,
			AccountID: w.AccountID,
			Flow:      f.flow,
			Amount:    d(f.amount),
			Kind:      model.KindTransfer,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(75)) {
		t.Errorf("expected spendable 75, got %s", spendable)
	}
	if !frozen.IsZero() {
		t.Errorf("expected frozen 0, got %s", frozen)
	}
}

func TestBalanceFold_SoftDeletedEntriesExcluded(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	entry := deposit(t, ms, w, 40)

	if err := ms.SoftDeleteLedgerEntry(context.Background(), entry.ID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	spendable, _ := balance(t, ms, w.ID)
	if !spendable.Equal(d(100)) {
		t.Errorf("expected spendable 100 after soft delete, got %s", spendable)
	}

	// The entry stays visible for audit.
	entries, err := ms.GetLedgerEntriesByWallet(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get entries failed: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.ID == entry.ID {
			found = true
			if e.DeletedAt == nil {
				t.Error("expected deleted_at to be set")
			}
		}
	}
	if !found {
		t.Error("soft-deleted entry should remain in history")
	}
}

// --- Freeze ---

func TestFreeze_DebitsSpendableTracksFrozen(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})
	if result.GroupID == "" {
		t.Fatal("expected non-empty group id")
	}
	if !result.TotalFrozen.Equal(d(40)) {
		t.Errorf("expected total 40, got %s", result.TotalFrozen)
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(60)) {
		t.Errorf("expected spendable 60, got %s", spendable)
	}
	if !frozen.Equal(d(40)) {
		t.Errorf("expected frozen 40, got %s", frozen)
	}
}

func TestFreeze_InsufficientFunds(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 30)

	_, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   "r1",
		RequestHash: "h1",
		VendorTag:   "vendor-a",
		Items:       []store.FreezeItem{{WalletID: w.ID, Amount: d(31)}},
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(30)) || !frozen.IsZero() {
		t.Errorf("failed freeze must not move funds: spendable=%s frozen=%s", spendable, frozen)
	}
}

func TestFreeze_AtomicAcrossItems(t *testing.T) {
	ms := store.NewMemoryStore()
	w1 := seedWallet(t, ms, "u1", 100)
	w2 := seedWallet(t, ms, "u2", 100)
	w3 := seedWallet(t, ms, "u3", 10)

	_, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   "r1",
		RequestHash: "h1",
		VendorTag:   "vendor-a",
		Items: []store.FreezeItem{
			{WalletID: w1.ID, Amount: d(50)},
			{WalletID: w2.ID, Amount: d(50)},
			{WalletID: w3.ID, Amount: d(50)}, // fails
		},
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	for _, w := range []*model.Wallet{w1, w2, w3} {
		_, frozen := balance(t, ms, w.ID)
		if !frozen.IsZero() {
			t.Errorf("wallet %s: expected zero frozen after aborted group, got %s", w.ID, frozen)
		}
		entries, _ := ms.GetLedgerEntriesByWallet(context.Background(), w.ID)
		for _, e := range entries {
			if e.Kind == model.KindFreeze {
				t.Errorf("wallet %s: aborted group left a freeze entry", w.ID)
			}
		}
	}
}

func TestFreeze_MultipleItemsSameWalletCumulative(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	// 60 + 60 exceeds 100 even though each item alone fits.
	_, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   "r1",
		RequestHash: "h1",
		VendorTag:   "vendor-a",
		Items: []store.FreezeItem{
			{WalletID: w.ID, Amount: d(60)},
			{WalletID: w.ID, Amount: d(60)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// 60 + 40 fits exactly.
	result := freeze(t, ms, "r2",
		store.FreezeItem{WalletID: w.ID, Amount: d(60)},
		store.FreezeItem{WalletID: w.ID, Amount: d(40)},
	)
	if !result.TotalFrozen.Equal(d(100)) {
		t.Errorf("expected total 100, got %s", result.TotalFrozen)
	}
	spendable, _ := balance(t, ms, w.ID)
	if !spendable.IsZero() {
		t.Errorf("expected spendable 0, got %s", spendable)
	}
}

func TestFreeze_IdempotentReplay(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	first := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})

	second, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   "r1",
		RequestHash: "hash-r1",
		VendorTag:   "vendor-a",
		Items:       []store.FreezeItem{{WalletID: w.ID, Amount: d(40)}},
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed {
		t.Error("expected replayed result")
	}
	if second.GroupID != first.GroupID {
		t.Errorf("replay must return original group: got %s want %s", second.GroupID, first.GroupID)
	}

	// No double debit.
	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(60)) || !frozen.Equal(d(40)) {
		t.Errorf("replay must not move funds: spendable=%s frozen=%s", spendable, frozen)
	}
}

func TestFreeze_DuplicateRequestDifferentPayload(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})

	_, err := ms.FreezeGroup(context.Background(), store.FreezeCommand{
		RequestID:   "r1",
		RequestHash: "different-hash",
		VendorTag:   "vendor-a",
		Items:       []store.FreezeItem{{WalletID: w.ID, Amount: d(10)}},
	})
	if !errors.Is(err, store.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

// --- Unfreeze ---

func TestUnfreeze_RoundTripRestoresBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})

	release, err := ms.ReleaseGroup(context.Background(), result.GroupID)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if release.Released != 1 || !release.TotalReleased.Equal(d(40)) {
		t.Errorf("expected 1 release of 40, got %d of %s", release.Released, release.TotalReleased)
	}
	if release.RequestID != "r1" {
		t.Errorf("expected request id r1, got %s", release.RequestID)
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(100)) {
		t.Errorf("expected spendable restored to 100, got %s", spendable)
	}
	if !frozen.IsZero() {
		t.Errorf("expected frozen 0, got %s", frozen)
	}
}

func TestUnfreeze_SecondCallIsNoOp(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})

	if _, err := ms.ReleaseGroup(context.Background(), result.GroupID); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	second, err := ms.ReleaseGroup(context.Background(), result.GroupID)
	if err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
	if second.Released != 0 || !second.TotalReleased.IsZero() {
		t.Errorf("second release must report zero, got %d of %s", second.Released, second.TotalReleased)
	}

	spendable, _ := balance(t, ms, w.ID)
	if !spendable.Equal(d(100)) {
		t.Errorf("double release must not double credit: spendable=%s", spendable)
	}
}

func TestUnfreeze_UnknownGroup(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.ReleaseGroup(context.Background(), uuid.New().String())
	if !errors.Is(err, store.ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

// --- Settle ---

func settleSpecs(t *testing.T, ms *store.MemoryStore, groupID string) []store.SettlementSpec {
	t.Helper()
	reservations, err := ms.GetReservationsByGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get reservations failed: %v", err)
	}
	var specs []store.SettlementSpec
	for _, r := range reservations {
		specs = append(specs, store.SettlementSpec{
			ReservationID: r.ID,
			Fee:           d(0.5),
			Commission:    decimal.Zero,
			NetAmount:     r.Amount.Sub(d(0.5)),
			ReferenceHash: "ref-" + r.ID,
		})
	}
	return specs
}

func TestSettle_FinalizesWithoutNewLedgerEntries(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	ctx := context.Background()

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})
	entriesBefore, _ := ms.GetLedgerEntriesByWallet(ctx, w.ID)

	settled, err := ms.SettleGroup(ctx, result.GroupID, settleSpecs(t, ms, result.GroupID))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !settled.TotalWithdrawn.Equal(d(40)) {
		t.Errorf("expected total withdrawn 40, got %s", settled.TotalWithdrawn)
	}
	if settled.RequestID != "r1" {
		t.Errorf("expected request id r1, got %s", settled.RequestID)
	}
	if len(settled.Settlements) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(settled.Settlements))
	}
	if settled.Settlements[0].Status != "completed" {
		t.Errorf("expected completed settlement, got %s", settled.Settlements[0].Status)
	}

	// The debit happened at freeze time: settling writes no ledger entry.
	entriesAfter, _ := ms.GetLedgerEntriesByWallet(ctx, w.ID)
	if len(entriesAfter) != len(entriesBefore) {
		t.Errorf("settle must not write ledger entries: before=%d after=%d",
			len(entriesBefore), len(entriesAfter))
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(60)) {
		t.Errorf("expected spendable 60, got %s", spendable)
	}
	if !frozen.IsZero() {
		t.Errorf("withdrawn reservations must not count as frozen, got %s", frozen)
	}
}

func TestSettle_SecondCallRejected(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	ctx := context.Background()

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})
	specs := settleSpecs(t, ms, result.GroupID)

	if _, err := ms.SettleGroup(ctx, result.GroupID, specs); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if _, err := ms.SettleGroup(ctx, result.GroupID, specs); !errors.Is(err, store.ErrGroupNotFound) {
		t.Fatalf("second settle must be rejected, got %v", err)
	}

	settlements, err := ms.GetSettlementsByGroup(ctx, result.GroupID)
	if err != nil {
		t.Fatalf("get settlements failed: %v", err)
	}
	if len(settlements) != 1 {
		t.Errorf("expected exactly 1 settlement, got %d", len(settlements))
	}
}

func TestSettle_MissingSpecWritesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	w1 := seedWallet(t, ms, "u1", 100)
	w2 := seedWallet(t, ms, "u2", 100)
	ctx := context.Background()

	result := freeze(t, ms, "r1",
		store.FreezeItem{WalletID: w1.ID, Amount: d(30)},
		store.FreezeItem{WalletID: w2.ID, Amount: d(20)},
	)

	// A spec for only one of the two frozen reservations must abort
	// the whole group, not settle half of it.
	specs := settleSpecs(t, ms, result.GroupID)[:1]
	if _, err := ms.SettleGroup(ctx, result.GroupID, specs); !errors.Is(err, store.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}

	reservations, err := ms.GetReservationsByGroup(ctx, result.GroupID)
	if err != nil {
		t.Fatalf("get reservations failed: %v", err)
	}
	for _, r := range reservations {
		if r.State != model.ReservationFrozen {
			t.Errorf("reservation %s: expected frozen after aborted settle, got %s", r.ID, r.State)
		}
	}

	settlements, err := ms.GetSettlementsByGroup(ctx, result.GroupID)
	if err != nil {
		t.Fatalf("get settlements failed: %v", err)
	}
	if len(settlements) != 0 {
		t.Errorf("aborted settle must not leave settlements, got %d", len(settlements))
	}

	// The group is still fully frozen, so a release must work in full.
	release, err := ms.ReleaseGroup(ctx, result.GroupID)
	if err != nil {
		t.Fatalf("release after aborted settle failed: %v", err)
	}
	if release.Released != 2 || !release.TotalReleased.Equal(d(50)) {
		t.Errorf("expected 2 releases of 50, got %d of %s", release.Released, release.TotalReleased)
	}
}

func TestSettle_ThenUnfreezeIsNoOp(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	ctx := context.Background()

	result := freeze(t, ms, "r1", store.FreezeItem{WalletID: w.ID, Amount: d(40)})
	if _, err := ms.SettleGroup(ctx, result.GroupID, settleSpecs(t, ms, result.GroupID)); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	release, err := ms.ReleaseGroup(ctx, result.GroupID)
	if err != nil {
		t.Fatalf("release after settle should be a no-op, got %v", err)
	}
	if release.Released != 0 {
		t.Errorf("release after settle must not release anything, got %d", release.Released)
	}

	spendable, _ := balance(t, ms, w.ID)
	if !spendable.Equal(d(60)) {
		t.Errorf("settled funds must not come back: spendable=%s", spendable)
	}
}

// --- Concurrency ---

func TestFreeze_NoDoubleFreezeUnderConcurrency(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	ctx := context.Background()

	// Each of 10 concurrent calls asks for 60; the wallet holds 100.
	// Exactly one may succeed.
	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ms.FreezeGroup(ctx, store.FreezeCommand{
				RequestID:   fmt.Sprintf("r%d", i),
				RequestHash: fmt.Sprintf("h%d", i),
				VendorTag:   "vendor-a",
				Items:       []store.FreezeItem{{WalletID: w.ID, Amount: d(60)}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 successful freeze, got %d", succeeded)
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(40)) || !frozen.Equal(d(60)) {
		t.Errorf("expected spendable 40 / frozen 60, got %s / %s", spendable, frozen)
	}
}

func TestConcurrentReplaySingleGroup(t *testing.T) {
	ms := store.NewMemoryStore()
	w := seedWallet(t, ms, "u1", 100)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	groups := make([]string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ms.FreezeGroup(ctx, store.FreezeCommand{
				RequestID:   "same-request",
				RequestHash: "same-hash",
				VendorTag:   "vendor-a",
				Items:       []store.FreezeItem{{WalletID: w.ID, Amount: d(40)}},
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			groups[i] = res.GroupID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if groups[i] != groups[0] {
			t.Fatalf("all callers must see the same group: %s vs %s", groups[i], groups[0])
		}
	}

	spendable, frozen := balance(t, ms, w.ID)
	if !spendable.Equal(d(60)) || !frozen.Equal(d(40)) {
		t.Errorf("expected a single debit: spendable=%s frozen=%s", spendable, frozen)
	}
}

// --- Lazy creation ---

func TestEnsureWallet_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	account, _ := ms.EnsureAccount(ctx, "u1")
	w1, err := ms.EnsureWallet(ctx, account.ID, "rwd")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	w2, err := ms.EnsureWallet(ctx, account.ID, "RWD")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if w1.ID != w2.ID {
		t.Errorf("token case must not split wallets: %s vs %s", w1.ID, w2.ID)
	}
	if w1.Token != "RWD" {
		t.Errorf("expected normalized token RWD, got %s", w1.Token)
	}
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	a1, _ := ms.EnsureAccount(ctx, "ext-1")
	a2, _ := ms.EnsureAccount(ctx, "ext-1")
	if a1.ID != a2.ID {
		t.Errorf("same external ref must resolve to same account: %s vs %s", a1.ID, a2.ID)
	}
}
