package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/wallet"
)

// Store implements wallet.Store on PostgreSQL. The conditional balance
// updates are single-row UPDATE ... RETURNING statements, so the engine's
// atomicity requirements reduce to row-level atomicity, which PostgreSQL
// guarantees without explicit transactions. The unique indexes on
// (idempotency_key, asset_type_id), (user_id, asset_type_id) and code back
// the duplicate-key contract.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL-backed wallet store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Asset type operations

func (s *Store) CreateAssetType(ctx context.Context, at *wallet.AssetType) error {
	if err := at.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO asset_types (id, code, name, description, decimal_places, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		at.ID, at.Code, at.Name, at.Description, at.DecimalPlaces, at.IsActive, at.CreatedAt, at.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("asset type code %s: %w", at.Code, wallet.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create asset type: %w", err)
	}
	return nil
}

const assetTypeColumns = "id, code, name, description, decimal_places, is_active, created_at, updated_at"

func scanAssetType(row pgx.Row) (*wallet.AssetType, error) {
	var at wallet.AssetType
	err := row.Scan(&at.ID, &at.Code, &at.Name, &at.Description, &at.DecimalPlaces, &at.IsActive, &at.CreatedAt, &at.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to scan asset type: %w", err)
	}
	return &at, nil
}

func (s *Store) GetAssetType(ctx context.Context, id uuid.UUID) (*wallet.AssetType, error) {
	query := `SELECT ` + assetTypeColumns + ` FROM asset_types WHERE id = $1`
	return scanAssetType(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) GetAssetTypeByCode(ctx context.Context, code string) (*wallet.AssetType, error) {
	query := `SELECT ` + assetTypeColumns + ` FROM asset_types WHERE code = $1`
	return scanAssetType(s.pool.QueryRow(ctx, query, wallet.NormalizeAssetCode(code)))
}

func (s *Store) ListAssetTypes(ctx context.Context) ([]*wallet.AssetType, error) {
	query := `SELECT ` + assetTypeColumns + ` FROM asset_types ORDER BY code ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset types: %w", err)
	}
	defer rows.Close()

	var assetTypes []*wallet.AssetType
	for rows.Next() {
		at, err := scanAssetType(rows)
		if err != nil {
			return nil, err
		}
		assetTypes = append(assetTypes, at)
	}
	return assetTypes, rows.Err()
}

func (s *Store) DeactivateAssetType(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE asset_types SET is_active = false, updated_at = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate asset type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrAssetNotFound
	}
	return nil
}

// Account operations

const accountColumns = "id, user_id, account_type, asset_type_id, balance, display_name, metadata, is_active, created_at, updated_at"

func (s *Store) CreateAccount(ctx context.Context, account *wallet.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO accounts (id, user_id, account_type, asset_type_id, balance, display_name, metadata, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.pool.Exec(ctx, query,
		account.ID,
		account.UserID,
		string(account.Type),
		account.AssetTypeID,
		account.Balance,
		account.DisplayName,
		metadataJSON,
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account for user %s and asset: %w", account.UserID, wallet.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*wallet.Account, error) {
	var account wallet.Account
	var metadataJSON []byte

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Type,
		&account.AssetTypeID,
		&account.Balance,
		&account.DisplayName,
		&metadataJSON,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &account.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account metadata: %w", err)
		}
	}
	return &account, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*wallet.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) GetAccountByUser(ctx context.Context, userID string, assetTypeID uuid.UUID) (*wallet.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND asset_type_id = $2`
	return scanAccount(s.pool.QueryRow(ctx, query, userID, assetTypeID))
}

func (s *Store) ListAccounts(ctx context.Context, filters wallet.AccountFilters) ([]*wallet.Account, error) {
	var conditions []string
	var args []interface{}

	if filters.UserID != nil {
		args = append(args, *filters.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filters.Type != nil {
		args = append(args, string(*filters.Type))
		conditions = append(conditions, fmt.Sprintf("account_type = $%d", len(args)))
	}
	if filters.AssetTypeID != nil {
		args = append(args, *filters.AssetTypeID)
		conditions = append(conditions, fmt.Sprintf("asset_type_id = $%d", len(args)))
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*wallet.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// DebitAccount applies the conditional atomic debit. The predicate
// (balance >= amount AND is_active) is checked at commit time by the UPDATE
// itself; a failed predicate is classified with a follow-up read.
func (s *Store) DebitAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*wallet.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2 AND is_active
		RETURNING ` + accountColumns

	account, err := scanAccount(s.pool.QueryRow(ctx, query, id, amount, time.Now().UTC()))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, wallet.ErrAccountNotFound) {
		return nil, err
	}
	return nil, s.classifyUpdateMiss(ctx, id, wallet.ErrInsufficientBalance)
}

// CreditAccount applies the unconditional atomic credit (conditional only on
// the account being active).
func (s *Store) CreditAccount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*wallet.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND is_active
		RETURNING ` + accountColumns

	account, err := scanAccount(s.pool.QueryRow(ctx, query, id, amount, time.Now().UTC()))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, wallet.ErrAccountNotFound) {
		return nil, err
	}
	return nil, s.classifyUpdateMiss(ctx, id, wallet.ErrAccountInactive)
}

// classifyUpdateMiss distinguishes why a conditional update matched no row:
// the account is missing, inactive, or the balance predicate failed.
func (s *Store) classifyUpdateMiss(ctx context.Context, id uuid.UUID, predicateErr error) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, wallet.ErrAccountNotFound) {
			return wallet.ErrAccountNotFound
		}
		return err
	}
	if !account.IsActive {
		return wallet.ErrAccountInactive
	}
	return predicateErr
}

// Transaction operations

const transactionColumns = "id, idempotency_key, asset_type_id, from_account_id, to_account_id, amount, type, status, description, metadata, failure_reason, debit_entry_id, credit_entry_id, created_at, updated_at"

func (s *Store) CreateTransaction(ctx context.Context, tx *wallet.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (id, idempotency_key, asset_type_id, from_account_id, to_account_id, amount, type, status, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.pool.Exec(ctx, query,
		tx.ID,
		tx.IdempotencyKey,
		tx.AssetTypeID,
		tx.FromAccountID,
		tx.ToAccountID,
		tx.Amount,
		string(tx.Type),
		string(tx.Status),
		tx.Description,
		metadataJSON,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction with idempotency key %s: %w", tx.IdempotencyKey, wallet.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*wallet.Transaction, error) {
	var tx wallet.Transaction
	var metadataJSON []byte

	err := row.Scan(
		&tx.ID,
		&tx.IdempotencyKey,
		&tx.AssetTypeID,
		&tx.FromAccountID,
		&tx.ToAccountID,
		&tx.Amount,
		&tx.Type,
		&tx.Status,
		&tx.Description,
		&metadataJSON,
		&tx.FailureReason,
		&tx.DebitEntryID,
		&tx.CreditEntryID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
		}
	}
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) GetTransactionByKey(ctx context.Context, idempotencyKey string, assetTypeID uuid.UUID) (*wallet.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1 AND asset_type_id = $2`
	return scanTransaction(s.pool.QueryRow(ctx, query, idempotencyKey, assetTypeID))
}

func (s *Store) ListTransactions(ctx context.Context, filters wallet.TransactionFilters) ([]*wallet.Transaction, error) {
	var conditions []string
	var args []interface{}

	if filters.AssetTypeID != nil {
		args = append(args, *filters.AssetTypeID)
		conditions = append(conditions, fmt.Sprintf("asset_type_id = $%d", len(args)))
	}
	if filters.AccountID != nil {
		args = append(args, *filters.AccountID)
		conditions = append(conditions, fmt.Sprintf("(from_account_id = $%d OR to_account_id = $%d)", len(args), len(args)))
	}
	if filters.Type != nil {
		args = append(args, string(*filters.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*wallet.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// MarkTransactionCompleted finalizes a pending transaction. Completed and
// failed are terminal, so the update is guarded on status = 'pending'.
func (s *Store) MarkTransactionCompleted(ctx context.Context, id, debitEntryID, creditEntryID uuid.UUID) error {
	query := `
		UPDATE transactions
		SET status = 'completed', debit_entry_id = $2, credit_entry_id = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, id, debitEntryID, creditEntryID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark transaction completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrTransactionNotFound
	}
	return nil
}

// MarkTransactionFailed flips a pending transaction to failed with a reason.
func (s *Store) MarkTransactionFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrTransactionNotFound
	}
	return nil
}

// Ledger entry operations

func (s *Store) CreateLedgerEntry(ctx context.Context, entry *wallet.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries (id, transaction_id, account_id, asset_type_id, entry_type, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.TransactionID,
		entry.AccountID,
		entry.AssetTypeID,
		string(entry.EntryType),
		entry.Amount,
		entry.BalanceAfter,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

const entryColumns = "id, transaction_id, account_id, asset_type_id, entry_type, amount, balance_after, created_at"

func (s *Store) GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*wallet.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE transaction_id = $1 ORDER BY entry_type ASC`
	rows, err := s.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*wallet.LedgerEntry
	for rows.Next() {
		var entry wallet.LedgerEntry
		if err := rows.Scan(
			&entry.ID, &entry.TransactionID, &entry.AccountID, &entry.AssetTypeID,
			&entry.EntryType, &entry.Amount, &entry.BalanceAfter, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// ListAccountHistory returns the account's ledger entries joined with their
// owning transaction, most recent first.
func (s *Store) ListAccountHistory(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*wallet.HistoryEntry, error) {
	query := `
		SELECT e.id, e.transaction_id, e.account_id, e.asset_type_id, e.entry_type, e.amount, e.balance_after, e.created_at,
		       t.type, t.status, t.description, t.metadata
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = $1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query account history: %w", err)
	}
	defer rows.Close()

	var history []*wallet.HistoryEntry
	for rows.Next() {
		var h wallet.HistoryEntry
		var metadataJSON []byte
		if err := rows.Scan(
			&h.ID, &h.TransactionID, &h.AccountID, &h.AssetTypeID,
			&h.EntryType, &h.Amount, &h.BalanceAfter, &h.CreatedAt,
			&h.TransactionType, &h.TransactionStatus, &h.Description, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &h.TransactionMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
			}
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// SumEntries computes sum(credits) - sum(debits) over all ledger entries of
// an account.
func (s *Store) SumEntries(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE account_id = $1
	`
	var sum decimal.Decimal
	if err := s.pool.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}
