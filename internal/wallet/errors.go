package wallet

import "errors"

// Lookup errors
var (
	ErrAssetNotFound       = errors.New("asset type not found")
	ErrAccountNotFound     = errors.New("wallet not found")
	ErrAccountInactive     = errors.New("wallet is inactive")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Validation errors
var (
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrAmountExceedsLimit       = errors.New("amount exceeds per-transaction limit")
	ErrInvalidTransfer          = errors.New("source and destination accounts must differ")
	ErrAssetMismatch            = errors.New("account asset type does not match requested asset")
	ErrInvalidIdempotencyKey    = errors.New("idempotency key must be at least 8 characters")
	ErrInvalidAssetCode         = errors.New("invalid asset code")
	ErrMissingAssetName         = errors.New("asset name is required")
	ErrInvalidDecimalPlaces     = errors.New("decimal places must be between 0 and 8")
	ErrInvalidUserID            = errors.New("invalid user ID")
	ErrInvalidAccountType       = errors.New("invalid account type")
	ErrInvalidSystemAccount     = errors.New("system account requires a well-known name")
	ErrInvalidAssetType         = errors.New("invalid asset type reference")
	ErrNegativeBalance          = errors.New("balance cannot be negative")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidEntryType         = errors.New("invalid entry type")
	ErrInvalidTransactionRef    = errors.New("ledger entry requires a transaction reference")
	ErrMissingItemID            = errors.New("item ID is required")
)

// Engine errors
var (
	// ErrInsufficientBalance is returned when the conditional debit predicate
	// (balance >= amount AND active) does not hold at commit time.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionConflict is returned when a concurrent creator of the same
	// idempotency key could not be observed after bounded backoff.
	ErrTransactionConflict = errors.New("transaction conflict, retry the request")
)

// Store errors
var (
	// ErrDuplicateKey is returned by the store when a unique constraint is
	// violated: transaction (idempotency_key, asset_type), account
	// (user_id, asset_type), or asset type code.
	ErrDuplicateKey = errors.New("duplicate key")
)
