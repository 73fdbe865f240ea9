package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

// ErrOpeningBalanceNotAllowed is returned when a user account is created
// with a nonzero opening balance. User balances may only move through the
// transfer engine so that the ledger stays complete; only system accounts
// (the mint roots) may open funded.
var ErrOpeningBalanceNotAllowed = errors.New("opening balance is only allowed for system accounts")

// Store is the subset of the wallet store the account admin service needs.
type Store interface {
	CreateAccount(ctx context.Context, account *wallet.Account) error
	GetAccountByUser(ctx context.Context, userID string, assetTypeID uuid.UUID) (*wallet.Account, error)
	ListAccounts(ctx context.Context, filters wallet.AccountFilters) ([]*wallet.Account, error)
	GetAssetTypeByCode(ctx context.Context, code string) (*wallet.AssetType, error)
	ListAssetTypes(ctx context.Context) ([]*wallet.AssetType, error)
}

// Service manages account creation and admin listings. Accounts are created
// by the admin/seed flow and mutated exclusively through the transfer
// engine's atomic primitives; they are never deleted.
type Service struct {
	store Store
	log   *logger.Logger
}

// NewService creates a new account admin service.
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log.WithField("component", "account_service"),
	}
}

// CreateParams are the inputs for creating an account.
type CreateParams struct {
	UserID      string
	AssetCode   string
	Type        wallet.AccountType
	DisplayName string
	Metadata    map[string]interface{}

	// OpeningBalance seeds system accounts (treasury, bonus pool). Zero for
	// user accounts.
	OpeningBalance decimal.Decimal
}

// Create opens a wallet for a user or system owner. One wallet exists per
// (user, asset type); duplicates surface wallet.ErrDuplicateKey.
func (s *Service) Create(ctx context.Context, p CreateParams) (*wallet.Account, error) {
	asset, err := s.store.GetAssetTypeByCode(ctx, p.AssetCode)
	if err != nil {
		return nil, err
	}
	if !asset.IsActive {
		return nil, wallet.ErrAssetNotFound
	}

	if p.Type != wallet.AccountTypeSystem && !p.OpeningBalance.IsZero() {
		return nil, ErrOpeningBalanceNotAllowed
	}
	if p.OpeningBalance.IsNegative() {
		return nil, wallet.ErrNegativeBalance
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	account := &wallet.Account{
		ID:          uuid.New(),
		UserID:      p.UserID,
		Type:        p.Type,
		AssetTypeID: asset.ID,
		Balance:     asset.Round(p.OpeningBalance),
		DisplayName: p.DisplayName,
		Metadata:    metadata,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	s.log.Info("account created",
		"account_id", account.ID,
		"user_id", account.UserID,
		"type", string(account.Type),
		"asset", asset.Code,
	)
	return account, nil
}

// List returns accounts matching the filters.
func (s *Service) List(ctx context.Context, filters wallet.AccountFilters) ([]*wallet.Account, error) {
	return s.store.ListAccounts(ctx, filters)
}

// SystemBalance is one row of the system balances snapshot.
type SystemBalance struct {
	Name      string          `json:"name"`
	AssetCode string          `json:"assetCode"`
	Balance   decimal.Decimal `json:"balance"`
}

// SystemBalances snapshots the balances of the well-known system accounts
// across all asset types. Missing combinations are skipped.
func (s *Service) SystemBalances(ctx context.Context) ([]SystemBalance, error) {
	assets, err := s.store.ListAssetTypes(ctx)
	if err != nil {
		return nil, err
	}

	names := []string{wallet.SystemTreasury, wallet.SystemBonusPool, wallet.SystemRevenue}
	var snapshot []SystemBalance
	for _, asset := range assets {
		for _, name := range names {
			account, err := s.store.GetAccountByUser(ctx, name, asset.ID)
			if err != nil {
				if errors.Is(err, wallet.ErrAccountNotFound) {
					continue
				}
				return nil, err
			}
			snapshot = append(snapshot, SystemBalance{
				Name:      name,
				AssetCode: asset.Code,
				Balance:   account.Balance,
			})
		}
	}
	return snapshot, nil
}
