package server

import (
	"net/http"
	"strconv"

	"github.com/arcanadesk/tarot/internal/credits"
)

// BalanceResponse is the response for GET /api/credits.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

func handleCredits(ledger *credits.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := ledger.Balance(r.Context(), userFrom(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{Balance: b})
	}
}

func handleCreditHistory(ledger *credits.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txs, err := ledger.History(r.Context(), userFrom(r), queryLimit(r, 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

// queryLimit reads ?limit=, clamped to [1, 200].
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return def
	}
	return min(n, 200)
}
