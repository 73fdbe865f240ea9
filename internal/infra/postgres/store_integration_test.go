//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/testutil/testdb"
)

var testDB *testdb.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testdb.NewTestDB(ctx)
	if err != nil {
		panic("failed to create test database: " + err.Error())
	}

	code := m.Run()

	testDB.Close(ctx)
	if code != 0 {
		panic("tests failed")
	}
}

func setupTest(t *testing.T) (*Store, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))
	return NewStore(testDB.Pool), ctx
}

func createTestAsset(t *testing.T, ctx context.Context, store *Store, code string) *wallet.AssetType {
	t.Helper()
	now := time.Now().UTC()
	at := &wallet.AssetType{
		ID:            uuid.New(),
		Code:          code,
		Name:          code + " test asset",
		DecimalPlaces: 2,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateAssetType(ctx, at))
	return at
}

func createTestAccount(t *testing.T, ctx context.Context, store *Store, userID string, accountType wallet.AccountType, assetTypeID uuid.UUID, balance decimal.Decimal) *wallet.Account {
	t.Helper()
	now := time.Now().UTC()
	account := &wallet.Account{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        accountType,
		AssetTypeID: assetTypeID,
		Balance:     balance,
		Metadata:    map[string]interface{}{},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateAccount(ctx, account))
	return account
}

func createTestTransaction(t *testing.T, ctx context.Context, store *Store, key string, asset *wallet.AssetType, from, to uuid.UUID) *wallet.Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &wallet.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: key,
		AssetTypeID:    asset.ID,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         decimal.NewFromInt(10),
		Type:           wallet.TransactionTypeTopUp,
		Status:         wallet.TransactionStatusPending,
		Metadata:       map[string]interface{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))
	return tx
}

// Asset type tests

func TestStore_AssetTypes(t *testing.T) {
	store, ctx := setupTest(t)

	created := createTestAsset(t, ctx, store, "GOLD")

	got, err := store.GetAssetType(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "GOLD", got.Code)
	assert.Equal(t, int32(2), got.DecimalPlaces)

	got, err = store.GetAssetTypeByCode(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.GetAssetTypeByCode(ctx, "SILVER")
	assert.ErrorIs(t, err, wallet.ErrAssetNotFound)

	// Duplicate code is rejected by the unique index.
	dup := *created
	dup.ID = uuid.New()
	err = store.CreateAssetType(ctx, &dup)
	assert.ErrorIs(t, err, wallet.ErrDuplicateKey)

	require.NoError(t, store.DeactivateAssetType(ctx, created.ID))
	got, err = store.GetAssetType(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

// Account tests

func TestStore_CreateAccount_DuplicateUserAsset(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")

	createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.Zero)

	dup := &wallet.Account{
		ID:          uuid.New(),
		UserID:      "user_alice",
		Type:        wallet.AccountTypeUser,
		AssetTypeID: asset.ID,
		Balance:     decimal.Zero,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	err := store.CreateAccount(ctx, dup)
	assert.ErrorIs(t, err, wallet.ErrDuplicateKey)
}

func TestStore_GetAccountByUser(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	account := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.NewFromInt(500))

	got, err := store.GetAccountByUser(ctx, "user_alice", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(500)))

	_, err = store.GetAccountByUser(ctx, "user_nobody", asset.ID)
	assert.ErrorIs(t, err, wallet.ErrAccountNotFound)
}

// Conditional update tests

func TestStore_DebitAccount(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	account := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.NewFromInt(100))

	updated, err := store.DebitAccount(ctx, account.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(60)))

	// The predicate rejects an overdraw atomically.
	_, err = store.DebitAccount(ctx, account.ID, decimal.NewFromInt(61))
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	// Balance is untouched by the failed debit.
	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(60)))

	// Debiting the exact balance drains to zero, never below.
	updated, err = store.DebitAccount(ctx, account.ID, decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.True(t, updated.Balance.IsZero())

	_, err = store.DebitAccount(ctx, uuid.New(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, wallet.ErrAccountNotFound)
}

func TestStore_DebitAccount_Inactive(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	account := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.NewFromInt(100))

	_, err := testDB.Pool.Exec(ctx, `UPDATE accounts SET is_active = false WHERE id = $1`, account.ID)
	require.NoError(t, err)

	_, err = store.DebitAccount(ctx, account.ID, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, wallet.ErrAccountInactive)
}

func TestStore_CreditAccount(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	account := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.Zero)

	updated, err := store.CreditAccount(ctx, account.ID, decimal.RequireFromString("12.34"))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.RequireFromString("12.34")))

	_, err = store.CreditAccount(ctx, uuid.New(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, wallet.ErrAccountNotFound)
}

// Transaction tests

func TestStore_CreateTransaction_IdempotencyIndex(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	other := createTestAsset(t, ctx, store, "POINTS")
	from := createTestAccount(t, ctx, store, wallet.SystemTreasury, wallet.AccountTypeSystem, asset.ID, decimal.NewFromInt(1000))
	to := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.Zero)

	tx := createTestTransaction(t, ctx, store, "idem-key-1", asset, from.ID, to.ID)

	// Same key, same asset type: rejected.
	dup := *tx
	dup.ID = uuid.New()
	err := store.CreateTransaction(ctx, &dup)
	assert.ErrorIs(t, err, wallet.ErrDuplicateKey)

	// Same key under a different asset type is a distinct operation.
	fromOther := createTestAccount(t, ctx, store, wallet.SystemTreasury, wallet.AccountTypeSystem, other.ID, decimal.NewFromInt(1000))
	toOther := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, other.ID, decimal.Zero)
	createTestTransaction(t, ctx, store, "idem-key-1", other, fromOther.ID, toOther.ID)

	got, err := store.GetTransactionByKey(ctx, "idem-key-1", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestStore_TerminalStatusGuards(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	from := createTestAccount(t, ctx, store, wallet.SystemTreasury, wallet.AccountTypeSystem, asset.ID, decimal.NewFromInt(1000))
	to := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.Zero)
	tx := createTestTransaction(t, ctx, store, "terminal-key-1", asset, from.ID, to.ID)

	debitID, creditID := uuid.New(), uuid.New()
	require.NoError(t, store.MarkTransactionCompleted(ctx, tx.ID, debitID, creditID))

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.TransactionStatusCompleted, got.Status)
	require.NotNil(t, got.DebitEntryID)
	assert.Equal(t, debitID, *got.DebitEntryID)

	// Completed is terminal: neither transition applies again.
	err = store.MarkTransactionCompleted(ctx, tx.ID, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, wallet.ErrTransactionNotFound)
	err = store.MarkTransactionFailed(ctx, tx.ID, "too late")
	assert.ErrorIs(t, err, wallet.ErrTransactionNotFound)

	got, err = store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.TransactionStatusCompleted, got.Status)
	assert.Nil(t, got.FailureReason)
}

// Ledger entry tests

func TestStore_LedgerEntriesAndHistory(t *testing.T) {
	store, ctx := setupTest(t)
	asset := createTestAsset(t, ctx, store, "GOLD")
	from := createTestAccount(t, ctx, store, wallet.SystemTreasury, wallet.AccountTypeSystem, asset.ID, decimal.NewFromInt(1000))
	to := createTestAccount(t, ctx, store, "user_alice", wallet.AccountTypeUser, asset.ID, decimal.Zero)
	tx := createTestTransaction(t, ctx, store, "ledger-key-1", asset, from.ID, to.ID)

	now := time.Now().UTC()
	debit := &wallet.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AccountID:     from.ID,
		AssetTypeID:   asset.ID,
		EntryType:     wallet.EntryTypeDebit,
		Amount:        decimal.NewFromInt(10),
		BalanceAfter:  decimal.NewFromInt(990),
		CreatedAt:     now,
	}
	credit := &wallet.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AccountID:     to.ID,
		AssetTypeID:   asset.ID,
		EntryType:     wallet.EntryTypeCredit,
		Amount:        decimal.NewFromInt(10),
		BalanceAfter:  decimal.NewFromInt(10),
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateLedgerEntry(ctx, debit))
	require.NoError(t, store.CreateLedgerEntry(ctx, credit))
	require.NoError(t, store.MarkTransactionCompleted(ctx, tx.ID, debit.ID, credit.ID))

	entries, err := store.GetEntriesByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	history, err := store.ListAccountHistory(ctx, to.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, wallet.EntryTypeCredit, history[0].EntryType)
	assert.Equal(t, wallet.TransactionTypeTopUp, history[0].TransactionType)
	assert.Equal(t, wallet.TransactionStatusCompleted, history[0].TransactionStatus)
	assert.True(t, history[0].BalanceAfter.Equal(decimal.NewFromInt(10)))

	sum, err := store.SumEntries(ctx, to.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(10)))

	sum, err = store.SumEntries(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(-10)))
}
