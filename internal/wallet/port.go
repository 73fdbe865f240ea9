package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store defines the persistence contract the transfer engine relies on.
//
// The engine assumes no cross-document transactions. Correctness rests on
// exactly two store guarantees: per-row atomicity of the conditional updates,
// and the unique index on (idempotency_key, asset_type) which serves as the
// at-most-once lock for retried requests.
type Store interface {
	// Asset type operations
	CreateAssetType(ctx context.Context, at *AssetType) error // ErrDuplicateKey on duplicate code
	GetAssetType(ctx context.Context, id uuid.UUID) (*AssetType, error)
	GetAssetTypeByCode(ctx context.Context, code string) (*AssetType, error)
	ListAssetTypes(ctx context.Context) ([]*AssetType, error)
	DeactivateAssetType(ctx context.Context, id uuid.UUID) error

	// Account operations
	CreateAccount(ctx context.Context, account *Account) error // ErrDuplicateKey on duplicate (user_id, asset_type)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByUser(ctx context.Context, userID string, assetTypeID uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context, filters AccountFilters) ([]*Account, error)

	// DebitAccount applies balance <- balance - amount atomically, only if
	// balance >= amount and the account is active. Returns the updated
	// account, or ErrInsufficientBalance / ErrAccountInactive /
	// ErrAccountNotFound when the predicate does not match.
	DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error)

	// CreditAccount applies balance <- balance + amount atomically, only if
	// the account is active. Returns the updated account, or
	// ErrAccountInactive / ErrAccountNotFound.
	CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction) error // ErrDuplicateKey on duplicate (idempotency_key, asset_type)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByKey(ctx context.Context, idempotencyKey string, assetTypeID uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error)
	MarkTransactionCompleted(ctx context.Context, id, debitEntryID, creditEntryID uuid.UUID) error
	MarkTransactionFailed(ctx context.Context, id uuid.UUID, reason string) error

	// Ledger entry operations (append-only; entries are immutable)
	CreateLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*LedgerEntry, error)
	ListAccountHistory(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*HistoryEntry, error)

	// SumEntries computes sum(credits) - sum(debits) over all ledger entries
	// of an account. Used by the integrity verification endpoint.
	SumEntries(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// AccountFilters narrows account listings.
type AccountFilters struct {
	UserID      *string
	Type        *AccountType
	AssetTypeID *uuid.UUID
	Limit       int
	Offset      int
}

// TransactionFilters narrows transaction listings.
type TransactionFilters struct {
	AssetTypeID *uuid.UUID
	AccountID   *uuid.UUID // matches either side of the transfer
	Type        *TransactionType
	Status      *TransactionStatus
	Limit       int
	Offset      int
}

// BalanceCache is an optional read-side cache for the balance endpoint. The
// engine never depends on it for correctness; writes invalidate eagerly and
// entries carry a short TTL.
type BalanceCache interface {
	Get(ctx context.Context, userID, assetCode string) (*BalanceInfo, bool, error)
	Set(ctx context.Context, userID, assetCode string, info *BalanceInfo) error
	Invalidate(ctx context.Context, userID, assetCode string) error
}

// BalanceInfo is the balance read model returned by GetBalance.
type BalanceInfo struct {
	Balance   decimal.Decimal `json:"balance"`
	AssetCode string          `json:"assetCode"`
	AssetName string          `json:"assetName"`
}
