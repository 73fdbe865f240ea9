package wallet_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

// memStore is an in-memory wallet.Store with the same contract as the
// PostgreSQL implementation: per-row atomic conditional updates under a
// mutex, and unique-key enforcement for transactions, accounts and asset
// codes. Failure hooks let tests inject partial failures at specific steps.
type memStore struct {
	mu           sync.Mutex
	assets       map[uuid.UUID]*wallet.AssetType
	accounts     map[uuid.UUID]*wallet.Account
	transactions map[uuid.UUID]*wallet.Transaction
	txByKey      map[string]uuid.UUID
	entries      []*wallet.LedgerEntry

	// Failure injection hooks. Each is consulted before the real operation.
	failDebit  func(accountID uuid.UUID) error
	failCredit func(accountID uuid.UUID) error
	failLedger func(entry *wallet.LedgerEntry) error

	// lookupMisses makes GetTransactionByKey report not-found this many
	// times, simulating a store without read-your-writes on the unique index.
	lookupMisses int
}

func newMemStore() *memStore {
	return &memStore{
		assets:       make(map[uuid.UUID]*wallet.AssetType),
		accounts:     make(map[uuid.UUID]*wallet.Account),
		transactions: make(map[uuid.UUID]*wallet.Transaction),
		txByKey:      make(map[string]uuid.UUID),
	}
}

func txKey(idempotencyKey string, assetTypeID uuid.UUID) string {
	return idempotencyKey + "|" + assetTypeID.String()
}

func (s *memStore) addAsset(code string, decimalPlaces int32) *wallet.AssetType {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := &wallet.AssetType{
		ID:            uuid.New(),
		Code:          code,
		Name:          code + " test asset",
		DecimalPlaces: decimalPlaces,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	s.assets[at.ID] = at
	return copyAsset(at)
}

func (s *memStore) addAccount(userID string, accountType wallet.AccountType, assetTypeID uuid.UUID, balance decimal.Decimal) *wallet.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := &wallet.Account{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        accountType,
		AssetTypeID: assetTypeID,
		Balance:     balance,
		Metadata:    map[string]interface{}{},
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.accounts[account.ID] = account
	return copyAccount(account)
}

func (s *memStore) deactivateAccount(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id].IsActive = false
}

func (s *memStore) balance(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

func (s *memStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func copyAsset(at *wallet.AssetType) *wallet.AssetType {
	c := *at
	return &c
}

func copyAccount(a *wallet.Account) *wallet.Account {
	c := *a
	return &c
}

func copyTransaction(tx *wallet.Transaction) *wallet.Transaction {
	c := *tx
	return &c
}

// Asset type operations

func (s *memStore) CreateAssetType(ctx context.Context, at *wallet.AssetType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assets {
		if existing.Code == at.Code {
			return fmt.Errorf("asset type code %s: %w", at.Code, wallet.ErrDuplicateKey)
		}
	}
	s.assets[at.ID] = copyAsset(at)
	return nil
}

func (s *memStore) GetAssetType(ctx context.Context, id uuid.UUID) (*wallet.AssetType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.assets[id]
	if !ok {
		return nil, wallet.ErrAssetNotFound
	}
	return copyAsset(at), nil
}

func (s *memStore) GetAssetTypeByCode(ctx context.Context, code string) (*wallet.AssetType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, at := range s.assets {
		if at.Code == wallet.NormalizeAssetCode(code) {
			return copyAsset(at), nil
		}
	}
	return nil, wallet.ErrAssetNotFound
}

func (s *memStore) ListAssetTypes(ctx context.Context) ([]*wallet.AssetType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wallet.AssetType, 0, len(s.assets))
	for _, at := range s.assets {
		out = append(out, copyAsset(at))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) DeactivateAssetType(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.assets[id]
	if !ok {
		return wallet.ErrAssetNotFound
	}
	at.IsActive = false
	return nil
}

// Account operations

func (s *memStore) CreateAccount(ctx context.Context, account *wallet.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.UserID == account.UserID && existing.AssetTypeID == account.AssetTypeID {
			return fmt.Errorf("account for user %s: %w", account.UserID, wallet.ErrDuplicateKey)
		}
	}
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

func (s *memStore) GetAccount(ctx context.Context, id uuid.UUID) (*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, wallet.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (s *memStore) GetAccountByUser(ctx context.Context, userID string, assetTypeID uuid.UUID) (*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.UserID == userID && account.AssetTypeID == assetTypeID {
			return copyAccount(account), nil
		}
	}
	return nil, wallet.ErrAccountNotFound
}

func (s *memStore) ListAccounts(ctx context.Context, filters wallet.AccountFilters) ([]*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.Account
	for _, account := range s.accounts {
		if filters.UserID != nil && account.UserID != *filters.UserID {
			continue
		}
		if filters.Type != nil && account.Type != *filters.Type {
			continue
		}
		if filters.AssetTypeID != nil && account.AssetTypeID != *filters.AssetTypeID {
			continue
		}
		out = append(out, copyAccount(account))
	}
	return out, nil
}

func (s *memStore) DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDebit != nil {
		if err := s.failDebit(id); err != nil {
			return nil, err
		}
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, wallet.ErrAccountNotFound
	}
	if !account.IsActive {
		return nil, wallet.ErrAccountInactive
	}
	if account.Balance.LessThan(amount) {
		return nil, wallet.ErrInsufficientBalance
	}
	account.Balance = account.Balance.Sub(amount)
	account.UpdatedAt = time.Now().UTC()
	return copyAccount(account), nil
}

func (s *memStore) CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCredit != nil {
		if err := s.failCredit(id); err != nil {
			return nil, err
		}
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, wallet.ErrAccountNotFound
	}
	if !account.IsActive {
		return nil, wallet.ErrAccountInactive
	}
	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return copyAccount(account), nil
}

// Transaction operations

func (s *memStore) CreateTransaction(ctx context.Context, tx *wallet.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := txKey(tx.IdempotencyKey, tx.AssetTypeID)
	if _, exists := s.txByKey[key]; exists {
		return fmt.Errorf("transaction with idempotency key %s: %w", tx.IdempotencyKey, wallet.ErrDuplicateKey)
	}
	s.transactions[tx.ID] = copyTransaction(tx)
	s.txByKey[key] = tx.ID
	return nil
}

func (s *memStore) GetTransaction(ctx context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, wallet.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (s *memStore) GetTransactionByKey(ctx context.Context, idempotencyKey string, assetTypeID uuid.UUID) (*wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupMisses > 0 {
		s.lookupMisses--
		return nil, wallet.ErrTransactionNotFound
	}
	id, ok := s.txByKey[txKey(idempotencyKey, assetTypeID)]
	if !ok {
		return nil, wallet.ErrTransactionNotFound
	}
	return copyTransaction(s.transactions[id]), nil
}

func (s *memStore) ListTransactions(ctx context.Context, filters wallet.TransactionFilters) ([]*wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.Transaction
	for _, tx := range s.transactions {
		if filters.Status != nil && tx.Status != *filters.Status {
			continue
		}
		if filters.Type != nil && tx.Type != *filters.Type {
			continue
		}
		if filters.AssetTypeID != nil && tx.AssetTypeID != *filters.AssetTypeID {
			continue
		}
		if filters.AccountID != nil && tx.FromAccountID != *filters.AccountID && tx.ToAccountID != *filters.AccountID {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	return out, nil
}

func (s *memStore) MarkTransactionCompleted(ctx context.Context, id, debitEntryID, creditEntryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || tx.Status != wallet.TransactionStatusPending {
		return wallet.ErrTransactionNotFound
	}
	tx.Status = wallet.TransactionStatusCompleted
	tx.DebitEntryID = &debitEntryID
	tx.CreditEntryID = &creditEntryID
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) MarkTransactionFailed(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || tx.Status != wallet.TransactionStatusPending {
		return wallet.ErrTransactionNotFound
	}
	tx.Status = wallet.TransactionStatusFailed
	tx.FailureReason = &reason
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// Ledger entry operations

func (s *memStore) CreateLedgerEntry(ctx context.Context, entry *wallet.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLedger != nil {
		if err := s.failLedger(entry); err != nil {
			return err
		}
	}
	c := *entry
	s.entries = append(s.entries, &c)
	return nil
}

func (s *memStore) GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*wallet.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.LedgerEntry
	for _, entry := range s.entries {
		if entry.TransactionID == transactionID {
			c := *entry
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) ListAccountHistory(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*wallet.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*wallet.HistoryEntry
	for _, entry := range s.entries {
		if entry.AccountID != accountID {
			continue
		}
		tx := s.transactions[entry.TransactionID]
		all = append(all, &wallet.HistoryEntry{
			LedgerEntry:         *entry,
			TransactionType:     tx.Type,
			TransactionStatus:   tx.Status,
			Description:         tx.Description,
			TransactionMetadata: tx.Metadata,
		})
	}
	// Most recent first; entries append in chronological order.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) SumEntries(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, entry := range s.entries {
		if entry.AccountID == accountID {
			sum = sum.Add(entry.SignedAmount())
		}
	}
	return sum, nil
}
