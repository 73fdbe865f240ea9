package wallet_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/walletd/internal/wallet"
)

// memCache is an in-memory wallet.BalanceCache for facade tests.
type memCache struct {
	mu   sync.Mutex
	data map[string]*wallet.BalanceInfo
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]*wallet.BalanceInfo)}
}

func (c *memCache) key(userID, assetCode string) string { return userID + ":" + assetCode }

func (c *memCache) Get(ctx context.Context, userID, assetCode string) (*wallet.BalanceInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.data[c.key(userID, assetCode)]
	return info, ok, nil
}

func (c *memCache) Set(ctx context.Context, userID, assetCode string, info *wallet.BalanceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(userID, assetCode)] = info
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, userID, assetCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, c.key(userID, assetCode))
	return nil
}

// opsFixture wires the operation facade over a memStore seeded with the three
// system accounts and one funded user.
type opsFixture struct {
	store *memStore
	cache *memCache
	ops   *wallet.Operations
	asset *wallet.AssetType

	treasury *wallet.Account
	bonus    *wallet.Account
	revenue  *wallet.Account
	alice    *wallet.Account
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	asset := store.addAsset("GOLD", 2)

	f := &opsFixture{
		store:    store,
		cache:    cache,
		asset:    asset,
		treasury: store.addAccount(wallet.SystemTreasury, wallet.AccountTypeSystem, asset.ID, decimal.NewFromInt(1_000_000)),
		bonus:    store.addAccount(wallet.SystemBonusPool, wallet.AccountTypeSystem, asset.ID, decimal.NewFromInt(50_000)),
		revenue:  store.addAccount(wallet.SystemRevenue, wallet.AccountTypeSystem, asset.ID, decimal.Zero),
		alice:    store.addAccount("user_alice", wallet.AccountTypeUser, asset.ID, decimal.NewFromInt(500)),
	}
	engine := wallet.NewService(store, decimal.Zero, testLogger())
	f.ops = wallet.NewOperations(engine, store, cache, testLogger())
	return f
}

func flow(key string, amount int64) wallet.FlowParams {
	return wallet.FlowParams{
		UserID:         "user_alice",
		AssetCode:      "GOLD",
		Amount:         decimal.NewFromInt(amount),
		IdempotencyKey: key,
	}
}

func TestOperations_TopUp(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	result, err := f.ops.TopUp(ctx, flow("topup-flow-1", 100))
	require.NoError(t, err)

	tx := result.Transaction
	assert.Equal(t, wallet.TransactionTypeTopUp, tx.Type)
	assert.Equal(t, f.treasury.ID, tx.FromAccountID)
	assert.Equal(t, f.alice.ID, tx.ToAccountID)
	assert.True(t, f.store.balance(f.alice.ID).Equal(decimal.NewFromInt(600)))
	assert.True(t, f.store.balance(f.treasury.ID).Equal(decimal.NewFromInt(999_900)))
}

func TestOperations_Bonus(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	result, err := f.ops.Bonus(ctx, flow("bonus-flow-1", 50), "level_complete")
	require.NoError(t, err)

	tx := result.Transaction
	assert.Equal(t, wallet.TransactionTypeBonus, tx.Type)
	assert.Equal(t, f.bonus.ID, tx.FromAccountID)
	assert.Equal(t, "level_complete", tx.Metadata["reason"])
	assert.True(t, f.store.balance(f.alice.ID).Equal(decimal.NewFromInt(550)))
	assert.True(t, f.store.balance(f.bonus.ID).Equal(decimal.NewFromInt(49_950)))
}

func TestOperations_Spend(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	result, err := f.ops.Spend(ctx, flow("spend-flow-1", 30), "item_sword_of_fire")
	require.NoError(t, err)

	tx := result.Transaction
	assert.Equal(t, wallet.TransactionTypeSpend, tx.Type)
	assert.Equal(t, f.alice.ID, tx.FromAccountID)
	assert.Equal(t, f.revenue.ID, tx.ToAccountID)
	assert.Equal(t, "item_sword_of_fire", tx.Metadata["itemId"])
	assert.True(t, f.store.balance(f.alice.ID).Equal(decimal.NewFromInt(470)))
	assert.True(t, f.store.balance(f.revenue.ID).Equal(decimal.NewFromInt(30)))
}

func TestOperations_SpendRequiresItemID(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	_, err := f.ops.Spend(ctx, flow("spend-flow-2", 30), "  ")
	assert.ErrorIs(t, err, wallet.ErrMissingItemID)
}

func TestOperations_UnknownAsset(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	p := flow("unknown-asset-1", 10)
	p.AssetCode = "DIAMONDS"
	_, err := f.ops.TopUp(ctx, p)
	assert.ErrorIs(t, err, wallet.ErrAssetNotFound)
}

func TestOperations_UnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	p := flow("unknown-user-1", 10)
	p.UserID = "user_nobody"
	_, err := f.ops.TopUp(ctx, p)
	assert.ErrorIs(t, err, wallet.ErrAccountNotFound)
}

func TestOperations_GetBalance_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	info, err := f.ops.GetBalance(ctx, "user_alice", "gold")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "GOLD", info.AssetCode)

	// Stale reads are served from the cache until a write invalidates it.
	f.store.mu.Lock()
	f.store.accounts[f.alice.ID].Balance = decimal.NewFromInt(9999)
	f.store.mu.Unlock()

	info, err = f.ops.GetBalance(ctx, "user_alice", "GOLD")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(500)))

	// A write flow invalidates the read model.
	_, err = f.ops.TopUp(ctx, flow("cache-inval-1", 1))
	require.NoError(t, err)

	info, err = f.ops.GetBalance(ctx, "user_alice", "GOLD")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(10000)))
}

func TestOperations_GetHistory(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	_, err := f.ops.TopUp(ctx, flow("history-topup-1", 100))
	require.NoError(t, err)
	_, err = f.ops.Spend(ctx, flow("history-spend-1", 25), "item_potion")
	require.NoError(t, err)

	page, err := f.ops.GetHistory(ctx, "user_alice", "GOLD", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	require.Len(t, page.Entries, 2)

	// Most recent first: the spend's debit, then the topup's credit.
	assert.Equal(t, wallet.EntryTypeDebit, page.Entries[0].EntryType)
	assert.Equal(t, wallet.TransactionTypeSpend, page.Entries[0].TransactionType)
	assert.Equal(t, wallet.EntryTypeCredit, page.Entries[1].EntryType)
	assert.Equal(t, wallet.TransactionTypeTopUp, page.Entries[1].TransactionType)
}

func TestOperations_GetHistory_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	page, err := f.ops.GetHistory(ctx, "user_alice", "GOLD", -3, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
}

func TestOperations_VerifyLedgerIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newOpsFixture(t)

	// The seeded 500 has no ledger backing, so fund through the engine for a
	// clean baseline account.
	f.store.mu.Lock()
	f.store.accounts[f.alice.ID].Balance = decimal.Zero
	f.store.mu.Unlock()

	_, err := f.ops.TopUp(ctx, flow("verify-topup-1", 100))
	require.NoError(t, err)
	_, err = f.ops.Spend(ctx, flow("verify-spend-1", 30), "item_shield")
	require.NoError(t, err)

	report, err := f.ops.VerifyLedgerIntegrity(ctx, "user_alice", "GOLD")
	require.NoError(t, err)
	assert.True(t, report.IsConsistent)
	assert.True(t, report.CachedBalance.Equal(decimal.NewFromInt(70)))
	assert.True(t, report.ComputedBalance.Equal(decimal.NewFromInt(70)))

	// Tamper with the cached balance outside the engine; verify detects it.
	f.store.mu.Lock()
	f.store.accounts[f.alice.ID].Balance = decimal.NewFromInt(71)
	f.store.mu.Unlock()

	report, err = f.ops.VerifyLedgerIntegrity(ctx, "user_alice", "GOLD")
	require.NoError(t, err)
	assert.False(t, report.IsConsistent)
}
