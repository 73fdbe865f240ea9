package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/pkg/logger"
)

const (
	// minIdempotencyKeyLen is enforced after trimming whitespace.
	minIdempotencyKeyLen = 8

	// ledgerWriteAttempts bounds retries of a failing ledger entry insert.
	ledgerWriteAttempts = 3

	// conflictLookupAttempts and conflictInitialBackoff bound the re-read
	// loop after losing the pending-insert race. Total sleep stays under
	// 500ms (25+50+100+200).
	conflictLookupAttempts = 5
	conflictInitialBackoff = 25 * time.Millisecond
)

// TransferParams are the inputs to ExecuteTransfer.
type TransferParams struct {
	IdempotencyKey string
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	AssetTypeID    uuid.UUID
	Amount         decimal.Decimal
	Type           TransactionType
	Description    string
	Metadata       map[string]interface{}
}

// TransferResult is the outcome of ExecuteTransfer. IsReplay is true when the
// returned transaction was produced by an earlier invocation with the same
// (idempotency key, asset type) pair.
type TransferResult struct {
	Transaction *Transaction
	IsReplay    bool
}

// Service is the transfer engine. It drives the pending -> completed/failed
// state machine: insert the pending transaction under the unique idempotency
// index, apply the conditional debit and the credit in deterministic account
// order, write the paired ledger entries, and finalize the transaction.
//
// The service is stateless; all state lives in the store. Any number of
// replicas across any number of processes is safe.
type Service struct {
	store     Store
	resolver  *accountResolver
	guard     *idempotencyGuard
	maxAmount decimal.Decimal // zero means unbounded
	log       *logger.Logger
}

// NewService creates a new transfer engine. maxAmount caps single transfers;
// pass decimal.Zero to leave transfers unbounded.
func NewService(store Store, maxAmount decimal.Decimal, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		resolver:  &accountResolver{store: store},
		guard:     &idempotencyGuard{store: store, log: log},
		maxAmount: maxAmount,
		log:       log.WithField("component", "transfer_engine"),
	}
}

// ExecuteTransfer moves amount from one account to another with at-most-once
// semantics per (idempotency key, asset type).
func (s *Service) ExecuteTransfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	key := strings.TrimSpace(p.IdempotencyKey)
	if len(key) < minIdempotencyKeyLen {
		return nil, ErrInvalidIdempotencyKey
	}

	// Replay check before any validation: a retry must observe the original
	// outcome verbatim, even if the replayed request would now fail validation.
	if prior, err := s.guard.lookup(ctx, key, p.AssetTypeID); err != nil {
		return nil, err
	} else if prior != nil {
		return &TransferResult{Transaction: prior, IsReplay: true}, nil
	}

	asset, err := s.resolver.resolveAssetByID(ctx, p.AssetTypeID)
	if err != nil {
		return nil, err
	}

	amount := asset.Round(p.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if s.maxAmount.IsPositive() && amount.GreaterThan(s.maxAmount) {
		return nil, ErrAmountExceedsLimit
	}
	if p.FromAccountID == p.ToAccountID {
		return nil, ErrInvalidTransfer
	}
	if !p.Type.IsValid() {
		return nil, ErrInvalidTransactionType
	}

	from, err := s.resolver.resolveAccount(ctx, p.FromAccountID, asset.ID)
	if err != nil {
		return nil, err
	}
	to, err := s.resolver.resolveAccount(ctx, p.ToAccountID, asset.ID)
	if err != nil {
		return nil, err
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:             uuid.New(),
		IdempotencyKey: key,
		AssetTypeID:    asset.ID,
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         amount,
		Type:           p.Type,
		Status:         TransactionStatusPending,
		Description:    p.Description,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	// The insert under the unique (idempotency_key, asset_type) index is the
	// serialization point. Losing the race means another worker owns this key.
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			winner, werr := s.guard.awaitWinner(ctx, key, asset.ID)
			if werr != nil {
				return nil, werr
			}
			return &TransferResult{Transaction: winner, IsReplay: true}, nil
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := s.settle(ctx, tx, from, to); err != nil {
		return &TransferResult{Transaction: tx}, err
	}

	s.log.Info("transfer completed",
		"transaction_id", tx.ID,
		"type", string(tx.Type),
		"asset", asset.Code,
		"amount", amount.String(),
	)
	return &TransferResult{Transaction: tx}, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions lists transactions with filters.
func (s *Service) ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error) {
	return s.store.ListTransactions(ctx, filters)
}

// settle advances a pending transaction to completed, or flips it to failed
// and returns the classified error.
func (s *Service) settle(ctx context.Context, tx *Transaction, from, to *Account) error {
	debited, credited, err := s.applyBalanceUpdates(ctx, tx, from, to)
	if err != nil {
		return s.failTransaction(ctx, tx, err)
	}

	debitEntry, creditEntry, err := s.writeLedgerEntries(ctx, tx, debited, credited)
	if err != nil {
		// Balance updates already committed. The transaction is flipped to
		// failed with the updates left intact; the verification endpoint
		// detects the resulting inconsistency for operator reconciliation.
		return s.failTransaction(ctx, tx, err)
	}

	if err := s.store.MarkTransactionCompleted(ctx, tx.ID, debitEntry.ID, creditEntry.ID); err != nil {
		return s.failTransaction(ctx, tx, fmt.Errorf("failed to finalize transaction: %w", err))
	}

	tx.Status = TransactionStatusCompleted
	tx.DebitEntryID = &debitEntry.ID
	tx.CreditEntryID = &creditEntry.ID
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// applyBalanceUpdates performs the conditional debit and the credit in
// ascending account-ID order. The sorted order is a defensive convention: it
// prevents reversed transfers between the same pair of accounts from
// deadlocking under storage backends that take row-level locks.
func (s *Service) applyBalanceUpdates(ctx context.Context, tx *Transaction, from, to *Account) (debited, credited *Account, err error) {
	type step struct {
		accountID uuid.UUID
		debit     bool
	}
	steps := []step{{from.ID, true}, {to.ID, false}}
	if strings.Compare(to.ID.String(), from.ID.String()) < 0 {
		steps[0], steps[1] = steps[1], steps[0]
	}

	for i, st := range steps {
		var updated *Account
		var opErr error
		if st.debit {
			updated, opErr = s.store.DebitAccount(ctx, st.accountID, tx.Amount)
		} else {
			updated, opErr = s.store.CreditAccount(ctx, st.accountID, tx.Amount)
		}
		if opErr != nil {
			if i == 1 {
				// The first update already landed; put the money back.
				s.compensate(ctx, tx, steps[0].debit, steps[0].accountID)
			}
			return nil, nil, classifyUpdateError(opErr, st.debit)
		}
		if st.debit {
			debited = updated
		} else {
			credited = updated
		}
	}
	return debited, credited, nil
}

// compensate reverses a committed balance update after its counterpart
// failed. Best-effort: a double fault is recorded on the transaction for
// out-of-band reconciliation via the verification endpoint.
func (s *Service) compensate(ctx context.Context, tx *Transaction, wasDebit bool, accountID uuid.UUID) {
	var err error
	if wasDebit {
		_, err = s.store.CreditAccount(ctx, accountID, tx.Amount)
	} else {
		_, err = s.store.DebitAccount(ctx, accountID, tx.Amount)
	}
	if err != nil {
		s.log.Error("compensation failed, manual reconciliation required",
			"transaction_id", tx.ID,
			"account_id", accountID,
			"amount", tx.Amount.String(),
			"error", err,
		)
		note := fmt.Sprintf("compensation failed for account %s: %v", accountID, err)
		tx.Metadata["compensation_error"] = note
	}
}

// writeLedgerEntries persists the debit/credit pair with the post-update
// balances as snapshots. Each side is retried a bounded number of times.
func (s *Service) writeLedgerEntries(ctx context.Context, tx *Transaction, debited, credited *Account) (*LedgerEntry, *LedgerEntry, error) {
	now := time.Now().UTC()
	debitEntry := &LedgerEntry{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AccountID:     debited.ID,
		AssetTypeID:   tx.AssetTypeID,
		EntryType:     EntryTypeDebit,
		Amount:        tx.Amount,
		BalanceAfter:  debited.Balance,
		CreatedAt:     now,
	}
	creditEntry := &LedgerEntry{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AccountID:     credited.ID,
		AssetTypeID:   tx.AssetTypeID,
		EntryType:     EntryTypeCredit,
		Amount:        tx.Amount,
		BalanceAfter:  credited.Balance,
		CreatedAt:     now,
	}

	for _, entry := range []*LedgerEntry{debitEntry, creditEntry} {
		if err := s.writeEntryWithRetry(ctx, entry); err != nil {
			return nil, nil, fmt.Errorf("failed to write %s ledger entry: %w", entry.EntryType, err)
		}
	}
	return debitEntry, creditEntry, nil
}

func (s *Service) writeEntryWithRetry(ctx context.Context, entry *LedgerEntry) error {
	var err error
	for attempt := 1; attempt <= ledgerWriteAttempts; attempt++ {
		if err = s.store.CreateLedgerEntry(ctx, entry); err == nil {
			return nil
		}
		s.log.Warn("ledger entry write failed",
			"transaction_id", entry.TransactionID,
			"entry_type", string(entry.EntryType),
			"attempt", attempt,
			"error", err,
		)
	}
	return err
}

// failTransaction flips the transaction to failed with the error as reason,
// then returns the original error for propagation. Completed and failed are
// terminal; this is the only transition out of pending besides completion.
func (s *Service) failTransaction(ctx context.Context, tx *Transaction, cause error) error {
	reason := cause.Error()
	if note, ok := tx.Metadata["compensation_error"].(string); ok {
		reason = fmt.Sprintf("%s; %s", reason, note)
	}
	if err := s.store.MarkTransactionFailed(ctx, tx.ID, reason); err != nil {
		s.log.Error("failed to mark transaction failed",
			"transaction_id", tx.ID,
			"reason", reason,
			"error", err,
		)
	}
	tx.Status = TransactionStatusFailed
	tx.FailureReason = &reason
	tx.UpdatedAt = time.Now().UTC()
	return cause
}

// classifyUpdateError maps store failures from balance updates onto the
// engine taxonomy.
func classifyUpdateError(err error, debit bool) error {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountNotFound):
		return err
	default:
		op := "credit"
		if debit {
			op = "debit"
		}
		return fmt.Errorf("%s update failed: %w", op, err)
	}
}

// accountResolver resolves symbolic inputs to concrete, active account and
// asset records.
type accountResolver struct {
	store Store
}

// resolveAssetByCode looks up an active asset type by its (case-insensitive)
// code.
func (r *accountResolver) resolveAssetByCode(ctx context.Context, code string) (*AssetType, error) {
	asset, err := r.store.GetAssetTypeByCode(ctx, NormalizeAssetCode(code))
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to look up asset type %q: %w", code, err)
	}
	if !asset.IsActive {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

// resolveAssetByID looks up an active asset type by ID.
func (r *accountResolver) resolveAssetByID(ctx context.Context, id uuid.UUID) (*AssetType, error) {
	asset, err := r.store.GetAssetType(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to look up asset type: %w", err)
	}
	if !asset.IsActive {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

// resolveAccount loads an account by ID and validates activity and asset
// consistency.
func (r *accountResolver) resolveAccount(ctx context.Context, id uuid.UUID, assetTypeID uuid.UUID) (*Account, error) {
	account, err := r.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	if account.AssetTypeID != assetTypeID {
		return nil, ErrAssetMismatch
	}
	return account, nil
}

// resolveUserAccount resolves a user's wallet for an asset type.
func (r *accountResolver) resolveUserAccount(ctx context.Context, userID string, assetTypeID uuid.UUID) (*Account, error) {
	account, err := r.store.GetAccountByUser(ctx, userID, assetTypeID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up wallet for user %q: %w", userID, err)
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	return account, nil
}

// resolveSystemAccount resolves one of the well-known system accounts for an
// asset type.
func (r *accountResolver) resolveSystemAccount(ctx context.Context, name string, assetTypeID uuid.UUID) (*Account, error) {
	if !IsSystemAccountName(name) {
		return nil, ErrInvalidSystemAccount
	}
	account, err := r.resolveUserAccount(ctx, name, assetTypeID)
	if err != nil {
		return nil, err
	}
	if account.Type != AccountTypeSystem {
		return nil, ErrInvalidSystemAccount
	}
	return account, nil
}

// idempotencyGuard enforces at-most-once execution per (idempotency key,
// asset type). The unique index in the store is the authoritative lock, not
// an in-process mutex.
type idempotencyGuard struct {
	store Store
	log   *logger.Logger
}

// lookup returns the prior transaction for the key, or nil when none exists.
// A pending transaction is returned as-is; the engine never retries another
// worker's in-flight transaction.
func (g *idempotencyGuard) lookup(ctx context.Context, key string, assetTypeID uuid.UUID) (*Transaction, error) {
	tx, err := g.store.GetTransactionByKey(ctx, key, assetTypeID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return tx, nil
}

// awaitWinner re-reads the transaction owned by the worker that won the
// pending-insert race. The bounded backoff loop covers stores without
// read-your-writes on the unique index; if the winner never becomes visible
// the caller gets ErrTransactionConflict and may retry.
func (g *idempotencyGuard) awaitWinner(ctx context.Context, key string, assetTypeID uuid.UUID) (*Transaction, error) {
	backoff := conflictInitialBackoff
	for attempt := 1; attempt <= conflictLookupAttempts; attempt++ {
		tx, err := g.lookup(ctx, key, assetTypeID)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
		if attempt == conflictLookupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	g.log.Warn("lost idempotency race but winner not visible after backoff",
		"idempotency_key", key,
		"asset_type_id", assetTypeID,
	)
	return nil, ErrTransactionConflict
}
