package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rewardgrid/wallet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Group operations run in a single REPEATABLE READ transaction. Wallet
// rows are locked FOR UPDATE in sorted-id order (deadlock prevention),
// and the spendable balance is folded from the ledger inside the same
// transaction, so a stale read can never race a concurrent freeze.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id           UUID PRIMARY KEY,
			external_ref TEXT NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS wallets (
			id             UUID PRIMARY KEY,
			account_id     UUID NOT NULL REFERENCES accounts(id),
			token          TEXT NOT NULL,
			cached_balance NUMERIC(30,8) NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL,
			deleted_at     TIMESTAMPTZ,
			UNIQUE (account_id, token)
		);
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id         UUID PRIMARY KEY,
			wallet_id  UUID NOT NULL REFERENCES wallets(id),
			account_id UUID NOT NULL REFERENCES accounts(id),
			flow       TEXT NOT NULL CHECK (flow IN ('in', 'out')),
			amount     NUMERIC(30,8) NOT NULL CHECK (amount >= 0),
			kind       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_wallet ON ledger_entries (wallet_id, created_at);
		CREATE TABLE IF NOT EXISTS reservations (
			id           UUID PRIMARY KEY,
			group_id     UUID NOT NULL,
			wallet_id    UUID NOT NULL REFERENCES wallets(id),
			amount       NUMERIC(30,8) NOT NULL CHECK (amount > 0),
			entry_id     UUID NOT NULL REFERENCES ledger_entries(id),
			state        TEXT NOT NULL CHECK (state IN ('frozen', 'released', 'withdrawn')),
			request_id   TEXT NOT NULL,
			vendor_tag   TEXT NOT NULL,
			prev_balance NUMERIC(30,8) NOT NULL,
			new_balance  NUMERIC(30,8) NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reservations_group ON reservations (group_id);
		CREATE INDEX IF NOT EXISTS idx_reservations_wallet_state ON reservations (wallet_id, state);
		CREATE TABLE IF NOT EXISTS settlements (
			id             UUID PRIMARY KEY,
			reservation_id UUID NOT NULL UNIQUE REFERENCES reservations(id),
			wallet_id      UUID NOT NULL REFERENCES wallets(id),
			amount         NUMERIC(30,8) NOT NULL,
			fee            NUMERIC(30,8) NOT NULL,
			commission     NUMERIC(30,8) NOT NULL,
			net_amount     NUMERIC(30,8) NOT NULL,
			reference_hash TEXT NOT NULL,
			status         TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS idempotency_markers (
			request_id   TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			group_id     UUID,
			total_frozen NUMERIC(30,8) NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, externalRef string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, external_ref, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (external_ref) DO UPDATE SET external_ref = EXCLUDED.external_ref
		 RETURNING id, external_ref, created_at`,
		uuid.New().String(), externalRef, time.Now().UTC()).
		Scan(&a.ID, &a.ExternalRef, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", externalRef, err)
	}
	return &a, nil
}

func (s *PostgresStore) EnsureWallet(ctx context.Context, accountID, token string) (*model.Wallet, error) {
	token = strings.ToUpper(token)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (id, account_id, token, cached_balance, created_at)
		 VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (account_id, token) DO NOTHING`,
		uuid.New().String(), accountID, token, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("ensure wallet %s/%s: %w", accountID, token, err)
	}
	return s.GetWallet(ctx, accountID, token)
}

func (s *PostgresStore) GetWallet(ctx context.Context, accountID, token string) (*model.Wallet, error) {
	return s.scanWallet(s.pool.QueryRow(ctx,
		`SELECT id, account_id, token, cached_balance::TEXT, created_at, deleted_at
		 FROM wallets WHERE account_id = $1 AND token = $2 AND deleted_at IS NULL`,
		accountID, strings.ToUpper(token)))
}

func (s *PostgresStore) GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error) {
	return s.scanWallet(s.pool.QueryRow(ctx,
		`SELECT id, account_id, token, cached_balance::TEXT, created_at, deleted_at
		 FROM wallets WHERE id = $1 AND deleted_at IS NULL`, walletID))
}

func (s *PostgresStore) scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	var balance string
	err := row.Scan(&w.ID, &w.AccountID, &w.Token, &balance, &w.CreatedAt, &w.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	w.CachedBalance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, wallet_id, account_id, flow, amount, kind, created_at)
		 SELECT $1, $2, $3, $4, $5::NUMERIC, $6, $7
		 WHERE EXISTS (SELECT 1 FROM wallets WHERE id = $2 AND deleted_at IS NULL)`,
		e.ID, e.WalletID, e.AccountID, e.Flow, e.Amount.String(), e.Kind, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	_, err = s.pool.Exec(ctx, refreshCachedBalanceSQL, e.WalletID)
	return err
}

// refreshCachedBalanceSQL recomputes the display-only wallet balance
// from the ledger fold. Never read for decisions.
const refreshCachedBalanceSQL = `
	UPDATE wallets SET cached_balance = (
		SELECT COALESCE(SUM(CASE WHEN flow = 'in' THEN amount ELSE -amount END), 0)
		FROM ledger_entries WHERE wallet_id = $1 AND deleted_at IS NULL
	) WHERE id = $1`

func (s *PostgresStore) GetLedgerEntriesByWallet(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_id, account_id, flow, amount::TEXT, kind, created_at, deleted_at
		 FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.WalletID, &e.AccountID, &e.Flow, &amount,
			&e.Kind, &e.CreatedAt, &e.DeletedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SoftDeleteLedgerEntry(ctx context.Context, entryID string) error {
	var walletID string
	err := s.pool.QueryRow(ctx,
		`UPDATE ledger_entries SET deleted_at = $2
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING wallet_id`, entryID, time.Now().UTC()).Scan(&walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		return err
	}
	_, err = s.pool.Exec(ctx, refreshCachedBalanceSQL, walletID)
	return err
}

func (s *PostgresStore) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	var spendableS, frozenS string
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COALESCE(SUM(CASE WHEN flow = 'in' THEN amount ELSE -amount END), 0)
			 FROM ledger_entries WHERE wallet_id = w.id AND deleted_at IS NULL)::TEXT,
			(SELECT COALESCE(SUM(amount), 0)
			 FROM reservations WHERE wallet_id = w.id AND state = 'frozen')::TEXT
		 FROM wallets w WHERE w.id = $1 AND w.deleted_at IS NULL`, walletID).
		Scan(&spendableS, &frozenS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("get balance %s: %w", walletID, err)
	}
	spendable, _ := decimal.NewFromString(spendableS)
	frozen, _ := decimal.NewFromString(frozenS)
	return spendable, frozen, nil
}

func (s *PostgresStore) FreezeGroup(ctx context.Context, cmd FreezeCommand) (*FreezeResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrConflict, err)
	}
	defer tx.Rollback(ctx)

	// Idempotency guard, inside the same atomic scope as the writes.
	var storedHash, storedGroup string
	var storedTotal string
	err = tx.QueryRow(ctx,
		`SELECT request_hash, COALESCE(group_id::TEXT, ''), total_frozen::TEXT
		 FROM idempotency_markers WHERE request_id = $1`, cmd.RequestID).
		Scan(&storedHash, &storedGroup, &storedTotal)
	if err == nil {
		if storedHash != cmd.RequestHash {
			return nil, ErrDuplicateRequest
		}
		total, _ := decimal.NewFromString(storedTotal)
		return &FreezeResult{GroupID: storedGroup, TotalFrozen: total, Replayed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query: %w", err)
	}

	// Reserve the request id up front; a concurrent call with the same id
	// hits the primary key and aborts.
	_, err = tx.Exec(ctx,
		`INSERT INTO idempotency_markers (request_id, request_hash, created_at)
		 VALUES ($1, $2, $3)`,
		cmd.RequestID, cmd.RequestHash, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The competing call has committed by the time the unique
			// violation surfaces, but this transaction's snapshot predates
			// its marker. Re-read on a fresh snapshot so a same-payload
			// race replays the winner's result, exactly like a sequential
			// retry would.
			var hash, group, totalS string
			rerr := s.pool.QueryRow(ctx,
				`SELECT request_hash, COALESCE(group_id::TEXT, ''), total_frozen::TEXT
				 FROM idempotency_markers WHERE request_id = $1`, cmd.RequestID).
				Scan(&hash, &group, &totalS)
			if rerr == nil && hash == cmd.RequestHash && group != "" {
				total, _ := decimal.NewFromString(totalS)
				return &FreezeResult{GroupID: group, TotalFrozen: total, Replayed: true}, nil
			}
			return nil, ErrDuplicateRequest
		}
		return nil, fmt.Errorf("idempotency insert: %w", err)
	}

	// Lock wallet rows in sorted order to avoid deadlocks between
	// concurrent groups touching overlapping wallets.
	walletIDs := make([]string, 0, len(cmd.Items))
	seen := make(map[string]bool)
	for _, item := range cmd.Items {
		if !seen[item.WalletID] {
			seen[item.WalletID] = true
			walletIDs = append(walletIDs, item.WalletID)
		}
	}
	sort.Strings(walletIDs)

	accountByWallet := make(map[string]string, len(walletIDs))
	for _, id := range walletIDs {
		var accountID string
		err = tx.QueryRow(ctx,
			`SELECT account_id FROM wallets WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id).
			Scan(&accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrWalletNotFound
			}
			if serializationFailure(err) {
				return nil, fmt.Errorf("%w: lock wallet %s: %v", ErrConflict, id, err)
			}
			return nil, fmt.Errorf("lock wallet %s: %w", id, err)
		}
		accountByWallet[id] = accountID
	}

	groupID, err := s.newGroupID(ctx, tx)
	if err != nil {
		return nil, err
	}

	// Balance check and writes under the same locks. Items on the same
	// wallet accumulate against the fold.
	staged := make(map[string]decimal.Decimal)
	now := time.Now().UTC()
	total := decimal.Zero

	for _, item := range cmd.Items {
		var spendableS string
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(CASE WHEN flow = 'in' THEN amount ELSE -amount END), 0)::TEXT
			 FROM ledger_entries WHERE wallet_id = $1 AND deleted_at IS NULL`, item.WalletID).
			Scan(&spendableS)
		if err != nil {
			return nil, fmt.Errorf("balance fold %s: %w", item.WalletID, err)
		}
		folded, _ := decimal.NewFromString(spendableS)
		spendable := folded.Sub(staged[item.WalletID])
		if spendable.LessThan(item.Amount) {
			return nil, ErrInsufficientFunds
		}

		entryID := uuid.New().String()
		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, wallet_id, account_id, flow, amount, kind, created_at)
			 VALUES ($1, $2, $3, 'out', $4::NUMERIC, 'freeze', $5)`,
			entryID, item.WalletID, accountByWallet[item.WalletID], item.Amount.String(), now)
		if err != nil {
			return nil, fmt.Errorf("freeze entry: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO reservations
			 (id, group_id, wallet_id, amount, entry_id, state, request_id, vendor_tag,
			  prev_balance, new_balance, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, 'frozen', $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $10)`,
			uuid.New().String(), groupID, item.WalletID, item.Amount.String(), entryID,
			cmd.RequestID, cmd.VendorTag,
			spendable.String(), spendable.Sub(item.Amount).String(), now)
		if err != nil {
			return nil, fmt.Errorf("reservation insert: %w", err)
		}

		staged[item.WalletID] = staged[item.WalletID].Add(item.Amount)
		total = total.Add(item.Amount)
	}

	for _, id := range walletIDs {
		if _, err = tx.Exec(ctx, refreshCachedBalanceSQL, id); err != nil {
			return nil, fmt.Errorf("cached balance: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE idempotency_markers SET group_id = $1, total_frozen = $2::NUMERIC
		 WHERE request_id = $3`,
		groupID, total.String(), cmd.RequestID)
	if err != nil {
		return nil, fmt.Errorf("idempotency update: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrConflict, err)
	}
	return &FreezeResult{GroupID: groupID, TotalFrozen: total}, nil
}

// serializationFailure reports whether err is a serialization or
// deadlock failure (SQLSTATE 40001/40P01). Under RepeatableRead these
// surface at the FOR UPDATE lock when a concurrent transaction already
// updated the row; the operation had no effect and may be retried.
func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// newGroupID generates a freeze-group id, regenerating on the off chance
// of a collision with an existing group.
func (s *PostgresStore) newGroupID(ctx context.Context, tx pgx.Tx) (string, error) {
	for i := 0; i < 5; i++ {
		id := uuid.New().String()
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM reservations WHERE group_id = $1)`, id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("group id check: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("group id generation exhausted retries")
}

func (s *PostgresStore) ReleaseGroup(ctx context.Context, groupID string) (*ReleaseResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrConflict, err)
	}
	defer tx.Rollback(ctx)

	group, err := lockGroup(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, ErrGroupNotFound
	}

	result := &ReleaseResult{
		GroupID:       groupID,
		RequestID:     group[0].RequestID,
		TotalReleased: decimal.Zero,
	}

	now := time.Now().UTC()
	touched := make(map[string]bool)
	for _, r := range group {
		if r.State != model.ReservationFrozen {
			continue // already terminal; second release is a no-op
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, wallet_id, account_id, flow, amount, kind, created_at)
			 SELECT $1, $2, w.account_id, 'in', $3::NUMERIC, 'unfreeze', $4
			 FROM wallets w WHERE w.id = $2`,
			uuid.New().String(), r.WalletID, r.Amount.String(), now)
		if err != nil {
			return nil, fmt.Errorf("unfreeze entry: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE reservations SET state = 'released', updated_at = $2 WHERE id = $1`,
			r.ID, now)
		if err != nil {
			return nil, fmt.Errorf("reservation release: %w", err)
		}
		touched[r.WalletID] = true
		result.TotalReleased = result.TotalReleased.Add(r.Amount)
		result.Released++
	}

	for id := range touched {
		if _, err = tx.Exec(ctx, refreshCachedBalanceSQL, id); err != nil {
			return nil, fmt.Errorf("cached balance: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrConflict, err)
	}
	return result, nil
}

func (s *PostgresStore) SettleGroup(ctx context.Context, groupID string, specs []SettlementSpec) (*SettleResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrConflict, err)
	}
	defer tx.Rollback(ctx)

	group, err := lockGroup(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}

	var frozen []model.Reservation
	for _, r := range group {
		if r.State == model.ReservationFrozen {
			frozen = append(frozen, r)
		}
	}
	if len(frozen) == 0 {
		return nil, ErrGroupNotFound
	}

	byReservation := make(map[string]SettlementSpec, len(specs))
	for _, spec := range specs {
		byReservation[spec.ReservationID] = spec
	}

	result := &SettleResult{
		GroupID:        groupID,
		RequestID:      frozen[0].RequestID,
		TotalWithdrawn: decimal.Zero,
		TotalFee:       decimal.Zero,
	}

	now := time.Now().UTC()
	for _, r := range frozen {
		spec, ok := byReservation[r.ID]
		if !ok {
			return nil, ErrGroupNotFound
		}
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
		_, err = tx.Exec(ctx,
			`INSERT INTO settlements
			 (id, reservation_id, wallet_id, amount, fee, commission, net_amount,
			  reference_hash, status, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, 'completed', $9)`,
			settlement.ID, settlement.ReservationID, settlement.WalletID,
			settlement.Amount.String(), settlement.Fee.String(),
			settlement.Commission.String(), settlement.NetAmount.String(),
			settlement.ReferenceHash, now)
		if err != nil {
			return nil, fmt.Errorf("settlement insert: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE reservations SET state = 'withdrawn', updated_at = $2 WHERE id = $1`,
			r.ID, now)
		if err != nil {
			return nil, fmt.Errorf("reservation withdraw: %w", err)
		}
		result.TotalWithdrawn = result.TotalWithdrawn.Add(r.Amount)
		result.TotalFee = result.TotalFee.Add(spec.Fee).Add(spec.Commission)
		result.Settlements = append(result.Settlements, settlement)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrConflict, err)
	}
	return result, nil
}

// lockGroup reads a group's reservations FOR UPDATE, in id order so two
// state-changing operations on the same group cannot interleave.
func lockGroup(ctx context.Context, tx pgx.Tx, groupID string) ([]model.Reservation, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, group_id, wallet_id, amount::TEXT, entry_id, state, request_id,
		        vendor_tag, prev_balance::TEXT, new_balance::TEXT, created_at, updated_at
		 FROM reservations WHERE group_id = $1 ORDER BY id FOR UPDATE`, groupID)
	if err != nil {
		if serializationFailure(err) {
			return nil, fmt.Errorf("%w: lock group %s: %v", ErrConflict, groupID, err)
		}
		return nil, fmt.Errorf("lock group %s: %w", groupID, err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *PostgresStore) GetReservationsByGroup(ctx context.Context, groupID string) ([]model.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, group_id, wallet_id, amount::TEXT, entry_id, state, request_id,
		        vendor_tag, prev_balance::TEXT, new_balance::TEXT, created_at, updated_at
		 FROM reservations WHERE group_id = $1 ORDER BY created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *PostgresStore) GetSettlementsByGroup(ctx context.Context, groupID string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT st.id, st.reservation_id, st.wallet_id, st.amount::TEXT, st.fee::TEXT,
		        st.commission::TEXT, st.net_amount::TEXT, st.reference_hash, st.status, st.created_at
		 FROM settlements st
		 JOIN reservations r ON r.id = st.reservation_id
		 WHERE r.group_id = $1 ORDER BY st.created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var amount, fee, commission, net string
		if err := rows.Scan(&st.ID, &st.ReservationID, &st.WalletID, &amount, &fee,
			&commission, &net, &st.ReferenceHash, &st.Status, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Amount, _ = decimal.NewFromString(amount)
		st.Fee, _ = decimal.NewFromString(fee)
		st.Commission, _ = decimal.NewFromString(commission)
		st.NetAmount, _ = decimal.NewFromString(net)
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

// scanReservations reads pgx rows into Reservation slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanReservations(rows pgxRows) ([]model.Reservation, error) {
	var reservations []model.Reservation
	for rows.Next() {
		var r model.Reservation
		var amount, prev, next string
		if err := rows.Scan(&r.ID, &r.GroupID, &r.WalletID, &amount, &r.EntryID,
			&r.State, &r.RequestID, &r.VendorTag, &prev, &next,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Amount, _ = decimal.NewFromString(amount)
		r.PrevBalance, _ = decimal.NewFromString(prev)
		r.NewBalance, _ = decimal.NewFromString(next)
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}
