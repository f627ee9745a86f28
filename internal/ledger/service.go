// Package ledger provides the HTTP handlers and business logic for the
// wallet ledger and fund-reservation engine: freezing funds for an
// external vendor, releasing them, and finalizing withdrawals.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/fees"
	"github.com/rewardgrid/wallet-engine/internal/limits"
	"github.com/rewardgrid/wallet-engine/internal/metrics"
	"github.com/rewardgrid/wallet-engine/internal/model"
	"github.com/rewardgrid/wallet-engine/internal/settings"
	"github.com/rewardgrid/wallet-engine/internal/store"
	"github.com/rewardgrid/wallet-engine/internal/walletref"
)

// ErrChannelDisabled is returned when the withdrawal channel for a
// (token, vendor) pair exists but is switched off.
var ErrChannelDisabled = errors.New("ledger: withdrawal channel disabled")

// depositKinds are the entry kinds accepted on the deposit endpoint.
var depositKinds = map[string]bool{
	model.KindDeposit:  true,
	model.KindTransfer: true,
	model.KindStake:    true,
	model.KindBonus:    true,
}

// Service handles ledger operations. The store's group operations are
// the atomic scope; the service validates, orchestrates, and maps
// errors — it never holds its own locks.
type Service struct {
	store    store.Store
	settings settings.Resolver
	limiter  *limits.ReservationLimiter
	hub      *EventHub // optional event hub for lifecycle broadcasts
}

// NewService creates a new ledger service.
// Pass nil for hub if event broadcasting is not needed.
func NewService(st store.Store, resolver settings.Resolver, limiter *limits.ReservationLimiter, hub *EventHub) *Service {
	return &Service{
		store:    st,
		settings: resolver,
		limiter:  limiter,
		hub:      hub,
	}
}

// --- Request/Response types ---

// FreezeItemRequest is one per-wallet debit in a freeze call.
type FreezeItemRequest struct {
	WalletRef string          `json:"wallet_ref"` // {accountRef}:{TOKEN}
	Amount    decimal.Decimal `json:"amount"`
}

// FreezeRequest is the JSON body for POST /freeze.
type FreezeRequest struct {
	RequestID string              `json:"request_id"`
	VendorTag string              `json:"vendor_tag"`
	Meta      string              `json:"meta,omitempty"`
	Notify    bool                `json:"notify"`
	Items     []FreezeItemRequest `json:"items"`
}

// FreezeResponse is the JSON body returned from POST /freeze.
type FreezeResponse struct {
	FreezeGroupID string          `json:"freeze_group_id"`
	TotalFrozen   decimal.Decimal `json:"total_frozen"`
	Replayed      bool            `json:"replayed"`
}

// GroupRequest is the JSON body for POST /unfreeze and POST /withdraw.
type GroupRequest struct {
	FreezeGroupID string `json:"freeze_group_id"`
	Notify        bool   `json:"notify"`
}

// UnfreezeResponse is the JSON body returned from POST /unfreeze.
type UnfreezeResponse struct {
	TotalReleased decimal.Decimal `json:"total_released"`
	ReleasedCount int             `json:"released_count"`
	RequestID     string          `json:"request_id"`
}

// WithdrawResponse is the JSON body returned from POST /withdraw.
type WithdrawResponse struct {
	TotalWithdrawn decimal.Decimal    `json:"total_withdrawn"`
	TotalFee       decimal.Decimal    `json:"total_fee"`
	RequestID      string             `json:"request_id"`
	Settlements    []model.Settlement `json:"settlements"`
}

// DepositRequest is the JSON body for POST /deposit.
type DepositRequest struct {
	WalletRef string          `json:"wallet_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      string          `json:"kind,omitempty"` // default "deposit"
	Notify    bool            `json:"notify"`
}

// GroupView is returned from GET /reservations/{groupID}.
type GroupView struct {
	GroupID      string              `json:"group_id"`
	Reservations []model.Reservation `json:"reservations"`
	Settlements  []model.Settlement  `json:"settlements,omitempty"`
}

// --- HTTP Handlers ---

// Freeze handles POST /api/v1/freeze.
// Atomically debits N wallets and creates one freeze group. Retrying
// with the same request id and payload replays the original result.
func (s *Service) Freeze(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.GroupOpLatency.WithLabelValues("freeze"))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])

	var req FreezeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.RequestID == "" {
		writeError(w, "request_id is required", http.StatusBadRequest)
		return
	}
	if req.VendorTag == "" {
		writeError(w, "vendor_tag is required", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, "at least one item is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Per-item validation. Problems across all items are collected into
	// one error: the group fails as a whole, never item by item.
	refs := make([]*walletref.Ref, len(req.Items))
	var problems []string
	for i, item := range req.Items {
		ref, err := walletref.Parse(item.WalletRef)
		if err != nil {
			problems = append(problems, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		refs[i] = ref

		if !item.Amount.IsPositive() {
			problems = append(problems, fmt.Sprintf("item %d: amount must be positive", i))
			continue
		}

		cfg, err := s.settings.WithdrawSettings(ctx, ref.Token, req.VendorTag)
		if err != nil || !cfg.Enabled {
			problems = append(problems,
				fmt.Sprintf("item %d: withdrawal channel disabled for %s/%s", i, ref.Token, req.VendorTag))
			continue
		}
		if item.Amount.LessThan(cfg.MinAmount) {
			problems = append(problems,
				fmt.Sprintf("item %d: amount below minimum %s", i, cfg.MinAmount))
		}
	}
	if len(problems) > 0 {
		metrics.FreezesTotal.WithLabelValues("rejected").Inc()
		writeError(w, strings.Join(problems, "; "), http.StatusUnprocessableEntity)
		return
	}

	// Resolve wallets (lazy creation) and check reservation caps.
	// The caps are soft vendor limits; the hard guard is the balance
	// fold inside the store's atomic scope.
	items := make([]store.FreezeItem, len(req.Items))
	staged := make(map[string]decimal.Decimal)
	for i, item := range req.Items {
		account, err := s.store.EnsureAccount(ctx, refs[i].AccountRef)
		if err != nil {
			writeError(w, "failed to resolve account", http.StatusInternalServerError)
			return
		}
		wallet, err := s.store.EnsureWallet(ctx, account.ID, refs[i].Token)
		if err != nil {
			writeError(w, "failed to resolve wallet", http.StatusInternalServerError)
			return
		}

		_, frozen, err := s.store.GetBalance(ctx, wallet.ID)
		if err != nil {
			writeError(w, "failed to read balance", http.StatusInternalServerError)
			return
		}
		if err := s.limiter.Check(item.Amount, frozen.Add(staged[wallet.ID])); err != nil {
			metrics.FreezesTotal.WithLabelValues("rejected").Inc()
			writeError(w, fmt.Sprintf("item %d: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
		staged[wallet.ID] = staged[wallet.ID].Add(item.Amount)

		items[i] = store.FreezeItem{WalletID: wallet.ID, Amount: item.Amount}
	}

	result, err := s.store.FreezeGroup(ctx, store.FreezeCommand{
		RequestID:   req.RequestID,
		RequestHash: reqHash,
		VendorTag:   req.VendorTag,
		Meta:        req.Meta,
		Items:       items,
	})
	if err != nil {
		metrics.FreezesTotal.WithLabelValues(freezeOutcome(err)).Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}

	outcome := "committed"
	status := http.StatusCreated
	if result.Replayed {
		outcome = "replayed"
		status = http.StatusOK
	}
	metrics.FreezesTotal.WithLabelValues(outcome).Inc()

	if !result.Replayed {
		metrics.FrozenAmount.WithLabelValues("freeze", req.VendorTag).
			Add(result.TotalFrozen.InexactFloat64())

		slog.Info("freeze committed",
			"group", result.GroupID,
			"request", req.RequestID,
			"vendor", req.VendorTag,
			"items", len(items),
			"total", result.TotalFrozen.String(),
		)

		if req.Notify && s.hub != nil {
			s.hub.Broadcast(Event{
				Type:      "frozen",
				GroupID:   result.GroupID,
				RequestID: req.RequestID,
				VendorTag: req.VendorTag,
				Amount:    result.TotalFrozen.String(),
				Count:     len(items),
			})
		}
	}

	writeJSON(w, status, FreezeResponse{
		FreezeGroupID: result.GroupID,
		TotalFrozen:   result.TotalFrozen,
		Replayed:      result.Replayed,
	})
}

// Unfreeze handles POST /api/v1/unfreeze.
// Releases every frozen reservation in the group back into spendable
// balance. A repeated call is an idempotent no-op reporting zero
// released; an unknown group id is a not-found error.
func (s *Service) Unfreeze(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.GroupOpLatency.WithLabelValues("unfreeze"))
	defer timer.ObserveDuration()

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FreezeGroupID == "" {
		writeError(w, "freeze_group_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.store.ReleaseGroup(r.Context(), req.FreezeGroupID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if result.Released > 0 {
		metrics.FrozenAmount.WithLabelValues("unfreeze", "").
			Add(result.TotalReleased.InexactFloat64())

		slog.Info("freeze released",
			"group", result.GroupID,
			"request", result.RequestID,
			"released", result.Released,
			"total", result.TotalReleased.String(),
		)

		if req.Notify && s.hub != nil {
			s.hub.Broadcast(Event{
				Type:      "released",
				GroupID:   result.GroupID,
				RequestID: result.RequestID,
				Amount:    result.TotalReleased.String(),
				Count:     result.Released,
			})
		}
	}

	writeJSON(w, http.StatusOK, UnfreezeResponse{
		TotalReleased: result.TotalReleased,
		ReleasedCount: result.Released,
		RequestID:     result.RequestID,
	})
}

// Withdraw handles POST /api/v1/withdraw.
// Finalizes a frozen group into settlements, applying the fee schedule
// per wallet. The funds already left the ledger at freeze time, so no
// new ledger entries are written. A second call is a not-found error —
// a group can never settle twice.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.GroupOpLatency.WithLabelValues("withdraw"))
	defer timer.ObserveDuration()

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FreezeGroupID == "" {
		writeError(w, "freeze_group_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	reservations, err := s.store.GetReservationsByGroup(ctx, req.FreezeGroupID)
	if err != nil {
		writeError(w, "failed to load reservations", http.StatusInternalServerError)
		return
	}

	// Fee breakdowns are computed before the atomic scope: reservation
	// amounts are immutable, so only the state transition needs the
	// store's locks. If the group settles or releases concurrently, the
	// store rejects the transition and nothing is written.
	var specs []store.SettlementSpec
	for _, res := range reservations {
		if res.State != model.ReservationFrozen {
			continue
		}
		spec, err := s.settlementSpec(ctx, res)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		writeError(w, "no frozen reservations for group", http.StatusNotFound)
		return
	}

	result, err := s.store.SettleGroup(ctx, req.FreezeGroupID, specs)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.FrozenAmount.WithLabelValues("withdraw", "").
		Add(result.TotalWithdrawn.InexactFloat64())

	slog.Info("freeze withdrawn",
		"group", result.GroupID,
		"request", result.RequestID,
		"settlements", len(result.Settlements),
		"total", result.TotalWithdrawn.String(),
		"fees", result.TotalFee.String(),
	)

	if req.Notify && s.hub != nil {
		s.hub.Broadcast(Event{
			Type:      "withdrawn",
			GroupID:   result.GroupID,
			RequestID: result.RequestID,
			Amount:    result.TotalWithdrawn.String(),
			Count:     len(result.Settlements),
		})
	}

	writeJSON(w, http.StatusOK, WithdrawResponse{
		TotalWithdrawn: result.TotalWithdrawn,
		TotalFee:       result.TotalFee,
		RequestID:      result.RequestID,
		Settlements:    result.Settlements,
	})
}

// settlementSpec resolves the fee schedule for one reservation and
// computes its settlement breakdown. Any failure aborts the whole
// group: no settlement records are created if one wallet lacks an
// enabled channel.
func (s *Service) settlementSpec(ctx context.Context, res model.Reservation) (store.SettlementSpec, error) {
	wallet, err := s.store.GetWalletByID(ctx, res.WalletID)
	if err != nil {
		return store.SettlementSpec{}, err
	}

	cfg, err := s.settings.WithdrawSettings(ctx, wallet.Token, res.VendorTag)
	if err != nil {
		return store.SettlementSpec{}, err
	}
	if !cfg.Enabled {
		return store.SettlementSpec{}, fmt.Errorf("%w: %s/%s", ErrChannelDisabled, wallet.Token, res.VendorTag)
	}

	schedule, err := fees.NewSchedule(cfg.Fee, cfg.Commission)
	if err != nil {
		return store.SettlementSpec{}, err
	}
	breakdown, err := schedule.Compute(res.Amount)
	if err != nil {
		return store.SettlementSpec{}, err
	}

	ref := sha256.Sum256([]byte(res.GroupID + "|" + res.ID + "|" + res.RequestID))
	return store.SettlementSpec{
		ReservationID: res.ID,
		Fee:           breakdown.Fee,
		Commission:    breakdown.Commission,
		NetAmount:     breakdown.Net,
		ReferenceHash: hex.EncodeToString(ref[:]),
	}, nil
}

// Deposit handles POST /api/v1/deposit.
// Credits a wallet with an "in" entry. Wallets and accounts are created
// lazily on first reference.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ref, err := walletref.Parse(req.WalletRef)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusUnprocessableEntity)
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = model.KindDeposit
	}
	if !depositKinds[kind] {
		writeError(w, "unsupported entry kind: "+kind, http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	account, err := s.store.EnsureAccount(ctx, ref.AccountRef)
	if err != nil {
		writeError(w, "failed to resolve account", http.StatusInternalServerError)
		return
	}
	wallet, err := s.store.EnsureWallet(ctx, account.ID, ref.Token)
	if err != nil {
		writeError(w, "failed to resolve wallet", http.StatusInternalServerError)
		return
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		WalletID:  wallet.ID,
		AccountID: account.ID,
		Flow:      model.FlowIn,
		Amount:    req.Amount,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("deposit recorded",
		"wallet", wallet.ID,
		"token", wallet.Token,
		"kind", kind,
		"amount", req.Amount.String(),
	)

	if req.Notify && s.hub != nil {
		s.hub.Broadcast(Event{
			Type:     "deposited",
			WalletID: wallet.ID,
			Amount:   req.Amount.String(),
		})
	}

	writeJSON(w, http.StatusCreated, entry)
}

// GetBalances handles GET /api/v1/balances/{accountRef}?tokens=RWD,GLD.
// Spendable and frozen balances are always reported separately; callers
// net them if they need to.
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	accountRef := chi.URLParam(r, "accountRef")
	tokensParam := r.URL.Query().Get("tokens")
	if tokensParam == "" {
		writeError(w, "tokens query parameter is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := s.store.EnsureAccount(ctx, accountRef)
	if err != nil {
		writeError(w, "failed to resolve account", http.StatusInternalServerError)
		return
	}

	balances := []model.TokenBalance{}
	for _, token := range strings.Split(tokensParam, ",") {
		token = strings.ToUpper(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		wallet, err := s.store.EnsureWallet(ctx, account.ID, token)
		if err != nil {
			writeError(w, "failed to resolve wallet", http.StatusInternalServerError)
			return
		}
		spendable, frozen, err := s.store.GetBalance(ctx, wallet.ID)
		if err != nil {
			writeError(w, "failed to read balance", http.StatusInternalServerError)
			return
		}
		balances = append(balances, model.TokenBalance{
			Token:         token,
			Balance:       spendable,
			FrozenBalance: frozen,
		})
	}

	writeJSON(w, http.StatusOK, balances)
}

// GetEntries handles GET /api/v1/wallets/{accountRef}/{token}/entries.
// Returns the wallet's full ledger history, soft-deleted entries
// included, for audit.
func (s *Service) GetEntries(w http.ResponseWriter, r *http.Request) {
	accountRef := chi.URLParam(r, "accountRef")
	token := chi.URLParam(r, "token")

	ctx := r.Context()
	account, err := s.store.EnsureAccount(ctx, accountRef)
	if err != nil {
		writeError(w, "failed to resolve account", http.StatusInternalServerError)
		return
	}
	wallet, err := s.store.GetWallet(ctx, account.ID, token)
	if err != nil {
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	}

	entries, err := s.store.GetLedgerEntriesByWallet(ctx, wallet.ID)
	if err != nil {
		writeError(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetGroup handles GET /api/v1/reservations/{groupID}.
func (s *Service) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	ctx := r.Context()

	reservations, err := s.store.GetReservationsByGroup(ctx, groupID)
	if err != nil {
		writeError(w, "failed to load reservations", http.StatusInternalServerError)
		return
	}
	if len(reservations) == 0 {
		writeError(w, "freeze group not found", http.StatusNotFound)
		return
	}

	settlements, err := s.store.GetSettlementsByGroup(ctx, groupID)
	if err != nil {
		writeError(w, "failed to load settlements", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, GroupView{
		GroupID:      groupID,
		Reservations: reservations,
		Settlements:  settlements,
	})
}

// --- Error mapping ---

// statusFor maps domain errors to HTTP statuses. Every group operation
// fails with one error for the whole call.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrNotConfigured),
		errors.Is(err, ErrChannelDisabled),
		errors.Is(err, fees.ErrNetNotPositive),
		errors.Is(err, fees.ErrInvalidFee),
		errors.Is(err, fees.ErrInvalidCommission),
		errors.Is(err, limits.ErrItemLimitExceeded),
		errors.Is(err, limits.ErrFrozenLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, walletref.ErrInvalidRef):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func freezeOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "failed"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
