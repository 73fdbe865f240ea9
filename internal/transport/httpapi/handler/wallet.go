package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

// idempotencyKeyHeader is the transport header carrying the idempotency key.
// The body field idempotencyKey is the alternative; the header wins.
const idempotencyKeyHeader = "Idempotency-Key"

// WalletOperations defines the facade operations the wallet handler needs.
type WalletOperations interface {
	TopUp(ctx context.Context, p wallet.FlowParams) (*wallet.TransferResult, error)
	Bonus(ctx context.Context, p wallet.FlowParams, reason string) (*wallet.TransferResult, error)
	Spend(ctx context.Context, p wallet.FlowParams, itemID string) (*wallet.TransferResult, error)
	GetBalance(ctx context.Context, userID, assetCode string) (*wallet.BalanceInfo, error)
	GetHistory(ctx context.Context, userID, assetCode string, page, limit int) (*wallet.HistoryPage, error)
	VerifyLedgerIntegrity(ctx context.Context, userID, assetCode string) (*wallet.VerificationReport, error)
}

// WalletHandler handles wallet-related HTTP requests
type WalletHandler struct {
	ops WalletOperations
	log *logger.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(ops WalletOperations, log *logger.Logger) *WalletHandler {
	return &WalletHandler{ops: ops, log: log}
}

// writeRequest is the shared body of the three write endpoints.
type writeRequest struct {
	UserID         string                 `json:"userId"`
	AssetCode      string                 `json:"assetCode"`
	Amount         decimal.Decimal        `json:"amount"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	ItemID         string                 `json:"itemId,omitempty"`
}

// transactionResponse is the wire shape of a transaction.
type transactionResponse struct {
	ID             string                 `json:"id"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	AssetTypeID    string                 `json:"assetTypeId"`
	FromAccountID  string                 `json:"fromAccountId"`
	ToAccountID    string                 `json:"toAccountId"`
	Amount         decimal.Decimal        `json:"amount"`
	Type           string                 `json:"type"`
	Status         string                 `json:"status"`
	Description    string                 `json:"description,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	FailureReason  *string                `json:"failureReason,omitempty"`
	LedgerEntryIDs []string               `json:"ledgerEntryIds,omitempty"`
	CreatedAt      string                 `json:"createdAt"`
	UpdatedAt      string                 `json:"updatedAt"`
}

func toTransactionResponse(tx *wallet.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:             tx.ID.String(),
		IdempotencyKey: tx.IdempotencyKey,
		AssetTypeID:    tx.AssetTypeID.String(),
		FromAccountID:  tx.FromAccountID.String(),
		ToAccountID:    tx.ToAccountID.String(),
		Amount:         tx.Amount,
		Type:           string(tx.Type),
		Status:         string(tx.Status),
		Description:    tx.Description,
		Metadata:       tx.Metadata,
		FailureReason:  tx.FailureReason,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      tx.UpdatedAt.Format(time.RFC3339),
	}
	if tx.DebitEntryID != nil && tx.CreditEntryID != nil {
		resp.LedgerEntryIDs = []string{tx.DebitEntryID.String(), tx.CreditEntryID.String()}
	}
	return resp
}

// decodeWriteRequest parses the body and extracts the idempotency key from
// the header or body. The key must be at least 8 characters after trimming;
// short keys are rejected at the boundary before the engine runs.
func decodeWriteRequest(r *http.Request) (*writeRequest, string, error) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", err
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if len(key) < 8 {
		return nil, "", wallet.ErrInvalidIdempotencyKey
	}
	return &req, key, nil
}

func (h *WalletHandler) flowParams(req *writeRequest, key string) wallet.FlowParams {
	return wallet.FlowParams{
		UserID:         strings.TrimSpace(req.UserID),
		AssetCode:      req.AssetCode,
		Amount:         req.Amount,
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	}
}

// TopUp handles POST /api/wallets/topup
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	req, key, err := decodeWriteRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ops.TopUp(r.Context(), h.flowParams(req, key))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondReplay(w, toTransactionResponse(result.Transaction), result.IsReplay)
}

// Bonus handles POST /api/wallets/bonus
func (h *WalletHandler) Bonus(w http.ResponseWriter, r *http.Request) {
	req, key, err := decodeWriteRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ops.Bonus(r.Context(), h.flowParams(req, key), req.Reason)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondReplay(w, toTransactionResponse(result.Transaction), result.IsReplay)
}

// Spend handles POST /api/wallets/spend
func (h *WalletHandler) Spend(w http.ResponseWriter, r *http.Request) {
	req, key, err := decodeWriteRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ops.Spend(r.Context(), h.flowParams(req, key), req.ItemID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondReplay(w, toTransactionResponse(result.Transaction), result.IsReplay)
}

// GetBalance handles GET /api/wallets/{userId}/balance/{assetCode}
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetCode := chi.URLParam(r, "assetCode")

	info, err := h.ops.GetBalance(r.Context(), userID, assetCode)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, info)
}

// historyEntryResponse is the wire shape of one history entry.
type historyEntryResponse struct {
	ID              string                 `json:"id"`
	TransactionID   string                 `json:"transactionId"`
	EntryType       string                 `json:"entryType"`
	Amount          decimal.Decimal        `json:"amount"`
	BalanceAfter    decimal.Decimal        `json:"balanceAfter"`
	CreatedAt       string                 `json:"createdAt"`
	TransactionType string                 `json:"transactionType"`
	Status          string                 `json:"status"`
	Description     string                 `json:"description,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// GetHistory handles GET /api/wallets/{userId}/history/{assetCode}
func (h *WalletHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetCode := chi.URLParam(r, "assetCode")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.ops.GetHistory(r.Context(), userID, assetCode, page, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	entries := make([]historyEntryResponse, 0, len(history.Entries))
	for _, e := range history.Entries {
		entries = append(entries, historyEntryResponse{
			ID:              e.ID.String(),
			TransactionID:   e.TransactionID.String(),
			EntryType:       string(e.EntryType),
			Amount:          e.Amount,
			BalanceAfter:    e.BalanceAfter,
			CreatedAt:       e.CreatedAt.Format(time.RFC3339),
			TransactionType: string(e.TransactionType),
			Status:          string(e.TransactionStatus),
			Description:     e.Description,
			Metadata:        e.TransactionMetadata,
		})
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"page":    history.Page,
		"limit":   history.Limit,
	})
}

// Verify handles GET /api/wallets/{userId}/verify/{assetCode}
func (h *WalletHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetCode := chi.URLParam(r, "assetCode")

	report, err := h.ops.VerifyLedgerIntegrity(r.Context(), userID, assetCode)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if !report.IsConsistent {
		h.log.Warn("ledger inconsistency detected",
			"user_id", userID,
			"asset", assetCode,
			"cached", report.CachedBalance.String(),
			"computed", report.ComputedBalance.String(),
		)
	}
	respondData(w, http.StatusOK, report)
}
