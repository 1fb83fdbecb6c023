package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arcanadesk/tarot/internal/i18n"
)

func handleHistory(history *HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := history.List(r.Context(), userFrom(r), queryLimit(r, 20))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleHistoryItem(history *HistoryStore, tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := history.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, tr, requestLang(r, tr))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}
