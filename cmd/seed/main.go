// Command seed provisions a development database: the asset type catalog,
// the system accounts with their opening balances, and funded demo users.
// Re-running is safe; existing records and already-applied transfers are
// skipped via the same idempotency machinery the API uses.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/infra/postgres"
	"github.com/playforge/walletd/internal/platform/account"
	"github.com/playforge/walletd/internal/platform/asset"
	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/config"
	"github.com/playforge/walletd/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewDefault(cfg.Env)

	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := postgres.NewStore(db.Pool)
	assetSvc := asset.NewService(store, log)
	accountSvc := account.NewService(store, log)
	engine := wallet.NewService(store, decimal.Zero, log)

	if err := seed(ctx, store, assetSvc, accountSvc, engine, log); err != nil {
		log.Error("Seed failed", "error", err)
		os.Exit(1)
	}
	log.Info("Seed completed")
}

func seed(ctx context.Context, store *postgres.Store, assets *asset.Service, accounts *account.Service, engine *wallet.Service, log *logger.Logger) error {
	gold, err := ensureAsset(ctx, store, assets, asset.CreateParams{
		Code:          "GOLD",
		Name:          "Gold Coins",
		Description:   "Primary hard currency",
		DecimalPlaces: 2,
	})
	if err != nil {
		return err
	}
	points, err := ensureAsset(ctx, store, assets, asset.CreateParams{
		Code:          "POINTS",
		Name:          "Reward Points",
		Description:   "Soft currency earned through play",
		DecimalPlaces: 0,
	})
	if err != nil {
		return err
	}

	// System accounts. The treasury opens with the published float plus the
	// demo-user grants below, so that after funding it sits at its published
	// balance with every movement on the ledger.
	systemAccounts := []account.CreateParams{
		{UserID: wallet.SystemTreasury, AssetCode: gold.Code, Type: wallet.AccountTypeSystem, OpeningBalance: decimal.NewFromInt(10_000_650)},
		{UserID: wallet.SystemTreasury, AssetCode: points.Code, Type: wallet.AccountTypeSystem, OpeningBalance: decimal.NewFromInt(300)},
		{UserID: wallet.SystemBonusPool, AssetCode: gold.Code, Type: wallet.AccountTypeSystem},
		{UserID: wallet.SystemBonusPool, AssetCode: points.Code, Type: wallet.AccountTypeSystem, OpeningBalance: decimal.NewFromInt(5_000_000)},
		{UserID: wallet.SystemRevenue, AssetCode: gold.Code, Type: wallet.AccountTypeSystem},
		{UserID: wallet.SystemRevenue, AssetCode: points.Code, Type: wallet.AccountTypeSystem},
	}
	for _, p := range systemAccounts {
		if err := ensureAccount(ctx, accounts, p); err != nil {
			return err
		}
	}

	// Demo user wallets open empty and are funded through the engine so that
	// their balances reconcile against the ledger.
	userAccounts := []account.CreateParams{
		{UserID: "user_alice", AssetCode: gold.Code, Type: wallet.AccountTypeUser, DisplayName: "Alice"},
		{UserID: "user_bob", AssetCode: gold.Code, Type: wallet.AccountTypeUser, DisplayName: "Bob"},
		{UserID: "user_bob", AssetCode: points.Code, Type: wallet.AccountTypeUser, DisplayName: "Bob"},
	}
	for _, p := range userAccounts {
		if err := ensureAccount(ctx, accounts, p); err != nil {
			return err
		}
	}

	grants := []struct {
		key    string
		from   string
		to     string
		asset  *wallet.AssetType
		amount int64
	}{
		{"seed-grant-alice-gold", wallet.SystemTreasury, "user_alice", gold, 500},
		{"seed-grant-bob-gold", wallet.SystemTreasury, "user_bob", gold, 150},
		{"seed-grant-bob-points", wallet.SystemTreasury, "user_bob", points, 300},
	}
	for _, g := range grants {
		from, err := store.GetAccountByUser(ctx, g.from, g.asset.ID)
		if err != nil {
			return fmt.Errorf("lookup %s/%s: %w", g.from, g.asset.Code, err)
		}
		to, err := store.GetAccountByUser(ctx, g.to, g.asset.ID)
		if err != nil {
			return fmt.Errorf("lookup %s/%s: %w", g.to, g.asset.Code, err)
		}

		result, err := engine.ExecuteTransfer(ctx, wallet.TransferParams{
			IdempotencyKey: g.key,
			FromAccountID:  from.ID,
			ToAccountID:    to.ID,
			AssetTypeID:    g.asset.ID,
			Amount:         decimal.NewFromInt(g.amount),
			Type:           wallet.TransactionTypeAdjustment,
			Description:    "seed grant",
		})
		if err != nil {
			return fmt.Errorf("grant %s: %w", g.key, err)
		}
		log.Info("seed grant applied",
			"key", g.key,
			"user", g.to,
			"asset", g.asset.Code,
			"amount", g.amount,
			"replay", result.IsReplay,
		)
	}
	return nil
}

// ensureAsset creates the asset type or fetches it when it already exists.
func ensureAsset(ctx context.Context, store *postgres.Store, assets *asset.Service, p asset.CreateParams) (*wallet.AssetType, error) {
	at, err := assets.Create(ctx, p)
	if err == nil {
		return at, nil
	}
	if errors.Is(err, wallet.ErrDuplicateKey) {
		return store.GetAssetTypeByCode(ctx, wallet.NormalizeAssetCode(p.Code))
	}
	return nil, fmt.Errorf("create asset %s: %w", p.Code, err)
}

// ensureAccount creates the account, tolerating an existing one.
func ensureAccount(ctx context.Context, accounts *account.Service, p account.CreateParams) error {
	_, err := accounts.Create(ctx, p)
	if err != nil && !errors.Is(err, wallet.ErrDuplicateKey) {
		return fmt.Errorf("create account %s/%s: %w", p.UserID, p.AssetCode, err)
	}
	return nil
}
