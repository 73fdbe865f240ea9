package wallet

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known system account names. System accounts are the counterparties of
// every facade flow: top-ups draw from the treasury, bonuses from the bonus
// pool, and spends settle into revenue.
const (
	SystemTreasury  = "SYSTEM_TREASURY"
	SystemBonusPool = "SYSTEM_BONUS_POOL"
	SystemRevenue   = "SYSTEM_REVENUE"
)

// IsSystemAccountName reports whether name is one of the fixed system accounts.
func IsSystemAccountName(name string) bool {
	switch name {
	case SystemTreasury, SystemBonusPool, SystemRevenue:
		return true
	}
	return false
}

// MaxDecimalPlaces is the upper bound for asset precision.
const MaxDecimalPlaces = 8

// AssetType defines a virtual currency. Asset types are never deleted, only
// deactivated; inactive asset types may not participate in new transactions.
type AssetType struct {
	ID            uuid.UUID
	Code          string // short uppercase symbol, globally unique
	Name          string
	Description   string
	DecimalPlaces int32
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeAssetCode uppercases and trims an asset code for lookup.
func NormalizeAssetCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate validates asset type fields for creation.
func (a *AssetType) Validate() error {
	if a.Code == "" {
		return ErrInvalidAssetCode
	}
	if a.Code != NormalizeAssetCode(a.Code) {
		return ErrInvalidAssetCode
	}
	if len(a.Code) < 2 || len(a.Code) > 10 {
		return ErrInvalidAssetCode
	}
	for _, r := range a.Code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ErrInvalidAssetCode
		}
	}
	if a.Name == "" {
		return ErrMissingAssetName
	}
	if a.DecimalPlaces < 0 || a.DecimalPlaces > MaxDecimalPlaces {
		return ErrInvalidDecimalPlaces
	}
	return nil
}

// Round rounds an amount to this asset's precision using banker's rounding
// (half to even). All engine amounts are rounded at entry and the rounded
// value is used throughout.
func (a *AssetType) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(a.DecimalPlaces)
}

// AccountType distinguishes user wallets from system accounts.
type AccountType string

const (
	AccountTypeUser   AccountType = "user"
	AccountTypeSystem AccountType = "system"
)

// IsValid checks if the account type is valid.
func (t AccountType) IsValid() bool {
	return t == AccountTypeUser || t == AccountTypeSystem
}

// Account is a wallet: one balance slot per (user, asset type). The cached
// balance is mutated exclusively through the store's atomic debit/credit
// primitives and never goes negative.
type Account struct {
	ID          uuid.UUID
	UserID      string // system accounts use a well-known name, e.g. SYSTEM_TREASURY
	Type        AccountType
	AssetTypeID uuid.UUID
	Balance     decimal.Decimal
	DisplayName string
	Metadata    map[string]interface{}
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate validates account fields for creation.
func (a *Account) Validate() error {
	if a.UserID == "" {
		return ErrInvalidUserID
	}
	if !a.Type.IsValid() {
		return ErrInvalidAccountType
	}
	if a.Type == AccountTypeSystem && !IsSystemAccountName(a.UserID) {
		return ErrInvalidSystemAccount
	}
	if a.Type == AccountTypeUser && IsSystemAccountName(a.UserID) {
		return ErrInvalidUserID
	}
	if a.AssetTypeID == uuid.Nil {
		return ErrInvalidAssetType
	}
	if a.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}

// TransactionType classifies a money-movement event.
type TransactionType string

const (
	TransactionTypeTopUp      TransactionType = "topup"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeSpend      TransactionType = "spend"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// IsValid checks if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeTopUp, TransactionTypeBonus, TransactionTypeSpend, TransactionTypeAdjustment:
		return true
	}
	return false
}

// TransactionStatus is the state of a transaction. Completed and failed are
// terminal; no transition ever leaves them.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// IsValid checks if the transaction status is valid.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Transaction records one money-movement event. The pending row doubles as
// the at-most-once lock: the unique (idempotency_key, asset_type) index in
// the store is the serialization point for retries across any number of
// processes.
type Transaction struct {
	ID             uuid.UUID
	IdempotencyKey string
	AssetTypeID    uuid.UUID
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Type           TransactionType
	Status         TransactionStatus
	Description    string
	Metadata       map[string]interface{}
	FailureReason  *string
	DebitEntryID   *uuid.UUID // set once completed
	CreditEntryID  *uuid.UUID // set once completed
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate validates transaction fields before insertion.
func (t *Transaction) Validate() error {
	if !t.Type.IsValid() {
		return ErrInvalidTransactionType
	}
	if !t.Status.IsValid() {
		return ErrInvalidTransactionStatus
	}
	if t.IdempotencyKey == "" {
		return ErrInvalidIdempotencyKey
	}
	if t.AssetTypeID == uuid.Nil {
		return ErrInvalidAssetType
	}
	if t.FromAccountID == uuid.Nil || t.ToAccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrInvalidTransfer
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// EntryType marks which half of a double entry a ledger entry is.
type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // balance increases
	EntryTypeDebit  EntryType = "debit"  // balance decreases
)

// IsValid checks if the entry type is valid.
func (t EntryType) IsValid() bool {
	return t == EntryTypeCredit || t == EntryTypeDebit
}

// LedgerEntry is one immutable half of a double-entry record. Entries are
// append-only: never updated, never deleted.
type LedgerEntry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	AssetTypeID   uuid.UUID
	EntryType     EntryType
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal // account balance snapshot after this entry
	CreatedAt     time.Time
}

// Validate validates the entry.
func (e *LedgerEntry) Validate() error {
	if !e.EntryType.IsValid() {
		return ErrInvalidEntryType
	}
	if e.TransactionID == uuid.Nil {
		return ErrInvalidTransactionRef
	}
	if e.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.BalanceAfter.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}

// SignedAmount returns the amount signed for balance calculations: credits
// positive, debits negative.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.EntryType == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// HistoryEntry is a ledger entry enriched with its owning transaction, as
// served by the history endpoint.
type HistoryEntry struct {
	LedgerEntry
	TransactionType     TransactionType
	TransactionStatus   TransactionStatus
	Description         string
	TransactionMetadata map[string]interface{}
}
