package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/arcanadesk/tarot/internal/credits"
)

// AdminUserCreditsResponse is the response for GET /api/admin/users/{userID}/credits.
type AdminUserCreditsResponse struct {
	UserID       string                `json:"userId"`
	Balance      int64                 `json:"balance"`
	Transactions []credits.Transaction `json:"transactions"`
}

// AdminGrantRequest is the request body for POST /api/admin/users/{userID}/credits.
type AdminGrantRequest struct {
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func handleAdminUserCredits(ledger *credits.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		b, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		txs, err := ledger.History(r.Context(), userID, queryLimit(r, 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, AdminUserCreditsResponse{UserID: userID, Balance: b, Transactions: txs})
	}
}

func handleAdminGrantCredits(logger *slog.Logger, ledger *credits.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminGrantRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Reason = strings.TrimSpace(req.Reason)
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "reason is required")
			return
		}

		userID := chi.URLParam(r, "userID")
		admin := adminFrom(r)
		reason := "admin:" + req.Reason
		b, err := ledger.Grant(r.Context(), userID, req.Amount, reason, req.IdempotencyKey)
		if errors.Is(err, credits.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "amount must be positive")
			return
		}
		if err != nil {
			logger.Error("granting credits", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("admin granted credits", "admin", admin.Email, "user_id", userID, "amount", req.Amount)
		writeJSON(w, http.StatusOK, BalanceResponse{Balance: b})
	}
}
