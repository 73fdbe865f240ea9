package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/pkg/logger"
)

const (
	// historyMaxLimit clamps the page size of history listings.
	historyMaxLimit     = 100
	historyDefaultLimit = 20
)

// verifyTolerance is the maximum |cached - computed| difference still
// considered consistent.
var verifyTolerance = decimal.New(1, -6)

// Operations is the operation facade over the transfer engine: the three
// named money-movement flows plus the read operations. Each flow selects the
// correct system counterparty and delegates to ExecuteTransfer.
type Operations struct {
	engine *Service
	store  Store
	cache  BalanceCache // optional, may be nil
	log    *logger.Logger
}

// NewOperations creates the operation facade. cache may be nil to disable
// the balance read cache.
func NewOperations(engine *Service, store Store, cache BalanceCache, log *logger.Logger) *Operations {
	return &Operations{
		engine: engine,
		store:  store,
		cache:  cache,
		log:    log.WithField("component", "wallet_operations"),
	}
}

// FlowParams are the inputs shared by all three write flows.
type FlowParams struct {
	UserID         string
	AssetCode      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]interface{}
}

func (p *FlowParams) validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(p.AssetCode) == "" {
		return ErrInvalidAssetCode
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// TopUp credits a user wallet from the treasury.
func (o *Operations) TopUp(ctx context.Context, p FlowParams) (*TransferResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return o.runFlow(ctx, p, SystemTreasury, "", TransactionTypeTopUp,
		fmt.Sprintf("Top-up of %s %s for %s", p.Amount, NormalizeAssetCode(p.AssetCode), p.UserID))
}

// Bonus credits a user wallet from the bonus pool. reason is merged into the
// transaction metadata.
func (o *Operations) Bonus(ctx context.Context, p FlowParams, reason string) (*TransferResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if reason != "" {
		p.Metadata = mergeMetadata(p.Metadata, "reason", reason)
	}
	return o.runFlow(ctx, p, SystemBonusPool, "", TransactionTypeBonus,
		fmt.Sprintf("Bonus of %s %s for %s", p.Amount, NormalizeAssetCode(p.AssetCode), p.UserID))
}

// Spend debits a user wallet into revenue. itemID is required and merged into
// the transaction metadata.
func (o *Operations) Spend(ctx context.Context, p FlowParams, itemID string) (*TransferResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrMissingItemID
	}
	p.Metadata = mergeMetadata(p.Metadata, "itemId", itemID)
	return o.runFlow(ctx, p, "", SystemRevenue, TransactionTypeSpend,
		fmt.Sprintf("Purchase of %s by %s", itemID, p.UserID))
}

// runFlow resolves the asset and both accounts for a named flow and executes
// the transfer. Exactly one of systemSource/systemDest is set: the user
// wallet takes the other side.
func (o *Operations) runFlow(ctx context.Context, p FlowParams, systemSource, systemDest string, txType TransactionType, description string) (*TransferResult, error) {
	resolver := o.engine.resolver

	asset, err := resolver.resolveAssetByCode(ctx, p.AssetCode)
	if err != nil {
		return nil, err
	}
	userAccount, err := resolver.resolveUserAccount(ctx, p.UserID, asset.ID)
	if err != nil {
		return nil, err
	}

	var from, to *Account
	switch {
	case systemSource != "":
		from, err = resolver.resolveSystemAccount(ctx, systemSource, asset.ID)
		to = userAccount
	case systemDest != "":
		from = userAccount
		to, err = resolver.resolveSystemAccount(ctx, systemDest, asset.ID)
	}
	if err != nil {
		return nil, err
	}

	result, err := o.engine.ExecuteTransfer(ctx, TransferParams{
		IdempotencyKey: p.IdempotencyKey,
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		AssetTypeID:    asset.ID,
		Amount:         p.Amount,
		Type:           txType,
		Description:    description,
		Metadata:       p.Metadata,
	})

	// The cached read model is stale after any attempt that may have moved
	// balances, replay or not.
	if result != nil {
		o.invalidateBalance(ctx, p.UserID, asset.Code)
		o.invalidateBalance(ctx, systemSource+systemDest, asset.Code)
	}
	return result, err
}

// GetBalance returns the balance read model for a user wallet.
func (o *Operations) GetBalance(ctx context.Context, userID, assetCode string) (*BalanceInfo, error) {
	code := NormalizeAssetCode(assetCode)
	if o.cache != nil {
		if info, ok, err := o.cache.Get(ctx, userID, code); err != nil {
			o.log.Warn("balance cache read failed", "user_id", userID, "asset", code, "error", err)
		} else if ok {
			return info, nil
		}
	}

	resolver := o.engine.resolver
	asset, err := resolver.resolveAssetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	account, err := resolver.resolveUserAccount(ctx, userID, asset.ID)
	if err != nil {
		return nil, err
	}

	info := &BalanceInfo{
		Balance:   account.Balance,
		AssetCode: asset.Code,
		AssetName: asset.Name,
	}
	if o.cache != nil {
		if err := o.cache.Set(ctx, userID, code, info); err != nil {
			o.log.Warn("balance cache write failed", "user_id", userID, "asset", code, "error", err)
		}
	}
	return info, nil
}

// HistoryPage is one page of a wallet's ledger history, most recent first.
type HistoryPage struct {
	Entries []*HistoryEntry
	Page    int
	Limit   int
}

// GetHistory returns the wallet's ledger entries, most recent first. limit is
// clamped to 100.
func (o *Operations) GetHistory(ctx context.Context, userID, assetCode string, page, limit int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	resolver := o.engine.resolver
	asset, err := resolver.resolveAssetByCode(ctx, assetCode)
	if err != nil {
		return nil, err
	}
	account, err := resolver.resolveUserAccount(ctx, userID, asset.ID)
	if err != nil {
		return nil, err
	}

	entries, err := o.store.ListAccountHistory(ctx, account.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return &HistoryPage{Entries: entries, Page: page, Limit: limit}, nil
}

// VerificationReport is the result of an out-of-band ledger audit for one
// wallet.
type VerificationReport struct {
	CachedBalance   decimal.Decimal `json:"cachedBalance"`
	ComputedBalance decimal.Decimal `json:"computedBalance"`
	IsConsistent    bool            `json:"isConsistent"`
}

// VerifyLedgerIntegrity recomputes sum(credits) - sum(debits) over all ledger
// entries of the wallet and compares it with the cached balance. This is the
// operator tool for detecting partial-failure drift.
func (o *Operations) VerifyLedgerIntegrity(ctx context.Context, userID, assetCode string) (*VerificationReport, error) {
	resolver := o.engine.resolver
	asset, err := resolver.resolveAssetByCode(ctx, assetCode)
	if err != nil {
		return nil, err
	}
	account, err := resolver.resolveUserAccount(ctx, userID, asset.ID)
	if err != nil {
		return nil, err
	}

	computed, err := o.store.SumEntries(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	return &VerificationReport{
		CachedBalance:   account.Balance,
		ComputedBalance: computed,
		IsConsistent:    account.Balance.Sub(computed).Abs().LessThan(verifyTolerance),
	}, nil
}

func (o *Operations) invalidateBalance(ctx context.Context, userID, assetCode string) {
	if o.cache == nil || userID == "" {
		return
	}
	if err := o.cache.Invalidate(ctx, userID, assetCode); err != nil {
		o.log.Warn("balance cache invalidation failed", "user_id", userID, "asset", assetCode, "error", err)
	}
}

func mergeMetadata(metadata map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata[key] = value
	return metadata
}
