package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/playforge/walletd/internal/platform/account"
	"github.com/playforge/walletd/internal/wallet"
)

// Envelope is the uniform response shape of the API.
type Envelope struct {
	Success            bool        `json:"success"`
	Data               interface{} `json:"data,omitempty"`
	Error              string      `json:"error,omitempty"`
	IsIdempotentReplay *bool       `json:"isIdempotentReplay,omitempty"`
}

// respondData sends a success envelope.
func respondData(w http.ResponseWriter, statusCode int, data interface{}) {
	respondJSON(w, statusCode, Envelope{Success: true, Data: data})
}

// respondReplay sends a success envelope for a write flow, flagging whether
// the outcome was an idempotent replay. Fresh executions answer 201, replays
// 200.
func respondReplay(w http.ResponseWriter, data interface{}, isReplay bool) {
	statusCode := http.StatusCreated
	if isReplay {
		statusCode = http.StatusOK
	}
	respondJSON(w, statusCode, Envelope{Success: true, Data: data, IsIdempotentReplay: &isReplay})
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, Envelope{Success: false, Error: message})
}

// respondEngineError maps an engine error onto the HTTP status table and
// sends the error envelope.
func respondEngineError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// statusForError classifies engine errors into user-visible status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, wallet.ErrAssetNotFound),
		errors.Is(err, wallet.ErrAccountNotFound),
		errors.Is(err, wallet.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrDuplicateKey),
		errors.Is(err, wallet.ErrTransactionConflict):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrAmountExceedsLimit),
		errors.Is(err, wallet.ErrInvalidTransfer),
		errors.Is(err, wallet.ErrAssetMismatch),
		errors.Is(err, wallet.ErrInvalidIdempotencyKey),
		errors.Is(err, wallet.ErrInvalidAssetCode),
		errors.Is(err, wallet.ErrMissingAssetName),
		errors.Is(err, wallet.ErrInvalidDecimalPlaces),
		errors.Is(err, wallet.ErrInvalidUserID),
		errors.Is(err, wallet.ErrInvalidAccountType),
		errors.Is(err, wallet.ErrInvalidSystemAccount),
		errors.Is(err, wallet.ErrAccountInactive),
		errors.Is(err, wallet.ErrMissingItemID),
		errors.Is(err, account.ErrOpeningBalanceNotAllowed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
