package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playforge/walletd/internal/platform/account"
	"github.com/playforge/walletd/internal/platform/asset"
	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

// AssetAdminService defines the asset type admin operations.
type AssetAdminService interface {
	Create(ctx context.Context, p asset.CreateParams) (*wallet.AssetType, error)
	List(ctx context.Context) ([]*wallet.AssetType, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// AccountAdminService defines the account admin operations.
type AccountAdminService interface {
	Create(ctx context.Context, p account.CreateParams) (*wallet.Account, error)
	List(ctx context.Context, filters wallet.AccountFilters) ([]*wallet.Account, error)
	SystemBalances(ctx context.Context) ([]account.SystemBalance, error)
}

// TransactionLister defines the transaction listing operation.
type TransactionLister interface {
	ListTransactions(ctx context.Context, filters wallet.TransactionFilters) ([]*wallet.Transaction, error)
}

// AdminHandler handles the admin surface: asset type and account management
// plus reporting snapshots.
type AdminHandler struct {
	assets       AssetAdminService
	accounts     AccountAdminService
	transactions TransactionLister
	log          *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(assets AssetAdminService, accounts AccountAdminService, transactions TransactionLister, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		assets:       assets,
		accounts:     accounts,
		transactions: transactions,
		log:          log,
	}
}

type createAssetTypeRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DecimalPlaces int32  `json:"decimalPlaces"`
}

type assetTypeResponse struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DecimalPlaces int32  `json:"decimalPlaces"`
	IsActive      bool   `json:"isActive"`
	CreatedAt     string `json:"createdAt"`
}

func toAssetTypeResponse(at *wallet.AssetType) assetTypeResponse {
	return assetTypeResponse{
		ID:            at.ID.String(),
		Code:          at.Code,
		Name:          at.Name,
		Description:   at.Description,
		DecimalPlaces: at.DecimalPlaces,
		IsActive:      at.IsActive,
		CreatedAt:     at.CreatedAt.Format(time.RFC3339),
	}
}

// CreateAssetType handles POST /api/admin/asset-types
func (h *AdminHandler) CreateAssetType(w http.ResponseWriter, r *http.Request) {
	var req createAssetTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	at, err := h.assets.Create(r.Context(), asset.CreateParams{
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		DecimalPlaces: req.DecimalPlaces,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondData(w, http.StatusCreated, toAssetTypeResponse(at))
}

// ListAssetTypes handles GET /api/admin/asset-types
func (h *AdminHandler) ListAssetTypes(w http.ResponseWriter, r *http.Request) {
	assetTypes, err := h.assets.List(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]assetTypeResponse, 0, len(assetTypes))
	for _, at := range assetTypes {
		out = append(out, toAssetTypeResponse(at))
	}
	respondData(w, http.StatusOK, out)
}

// DeactivateAssetType handles POST /api/admin/asset-types/{id}/deactivate
func (h *AdminHandler) DeactivateAssetType(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset type ID")
		return
	}
	if err := h.assets.Deactivate(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

type createAccountRequest struct {
	UserID         string                 `json:"userId"`
	AssetCode      string                 `json:"assetCode"`
	AccountType    string                 `json:"accountType"`
	DisplayName    string                 `json:"displayName,omitempty"`
	OpeningBalance decimal.Decimal        `json:"openingBalance,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type accountResponse struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	AccountType string                 `json:"accountType"`
	AssetTypeID string                 `json:"assetTypeId"`
	Balance     decimal.Decimal        `json:"balance"`
	DisplayName string                 `json:"displayName,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsActive    bool                   `json:"isActive"`
	CreatedAt   string                 `json:"createdAt"`
}

func toAccountResponse(a *wallet.Account) accountResponse {
	return accountResponse{
		ID:          a.ID.String(),
		UserID:      a.UserID,
		AccountType: string(a.Type),
		AssetTypeID: a.AssetTypeID.String(),
		Balance:     a.Balance,
		DisplayName: a.DisplayName,
		Metadata:    a.Metadata,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

// CreateAccount handles POST /api/admin/accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountType := wallet.AccountType(req.AccountType)
	if req.AccountType == "" {
		accountType = wallet.AccountTypeUser
	}

	acc, err := h.accounts.Create(r.Context(), account.CreateParams{
		UserID:         req.UserID,
		AssetCode:      req.AssetCode,
		Type:           accountType,
		DisplayName:    req.DisplayName,
		Metadata:       req.Metadata,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondData(w, http.StatusCreated, toAccountResponse(acc))
}

// ListAccounts handles GET /api/admin/accounts
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var filters wallet.AccountFilters
	if userID := r.URL.Query().Get("userId"); userID != "" {
		filters.UserID = &userID
	}
	if accountType := r.URL.Query().Get("type"); accountType != "" {
		t := wallet.AccountType(accountType)
		if !t.IsValid() {
			respondError(w, http.StatusBadRequest, "invalid account type filter")
			return
		}
		filters.Type = &t
	}

	accounts, err := h.accounts.List(r.Context(), filters)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	respondData(w, http.StatusOK, out)
}

// ListTransactions handles GET /api/admin/transactions
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var filters wallet.TransactionFilters
	if status := r.URL.Query().Get("status"); status != "" {
		s := wallet.TransactionStatus(status)
		if !s.IsValid() {
			respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filters.Status = &s
	}
	if txType := r.URL.Query().Get("type"); txType != "" {
		t := wallet.TransactionType(txType)
		if !t.IsValid() {
			respondError(w, http.StatusBadRequest, "invalid type filter")
			return
		}
		filters.Type = &t
	}
	if assetTypeID := r.URL.Query().Get("assetTypeId"); assetTypeID != "" {
		id, err := uuid.Parse(assetTypeID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid asset type ID filter")
			return
		}
		filters.AssetTypeID = &id
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		filters.Offset = offset
	}

	transactions, err := h.transactions.ListTransactions(r.Context(), filters)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		out = append(out, toTransactionResponse(tx))
	}
	respondData(w, http.StatusOK, out)
}

// SystemBalances handles GET /api/admin/system-balances
func (h *AdminHandler) SystemBalances(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.accounts.SystemBalances(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, snapshot)
}
