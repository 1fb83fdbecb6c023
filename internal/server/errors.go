package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/reading"
)

// requestLang picks the language from ?lang= or Accept-Language.
func requestLang(r *http.Request, tr *i18n.Catalog) string {
	if l := r.URL.Query().Get("lang"); l != "" {
		return tr.Resolve(l)
	}
	return tr.Resolve(r.Header.Get("Accept-Language"))
}

func readingStatus(err error) int {
	switch {
	case errors.Is(err, reading.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, reading.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reading.ErrQuestionRequired),
		errors.Is(err, reading.ErrQuestionTooLong),
		errors.Is(err, reading.ErrInvalidDrawCount):
		return http.StatusBadRequest
	case errors.Is(err, reading.ErrInterpretation):
		if errors.Is(err, interpret.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case reading.MessageKey(err) != "":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// readingError converts err into a localized error body.
func readingError(err error, tr *i18n.Catalog, lang string) (int, ErrorResponse) {
	status := readingStatus(err)
	key := reading.MessageKey(err)
	if key == "" {
		return status, ErrorResponse{Error: "internal error"}
	}

	var args []any
	var ie *reading.InsufficientCreditsError
	if errors.As(err, &ie) {
		args = []any{ie.Balance, ie.Required}
	}
	return status, ErrorResponse{Error: tr.T(lang, key, args...), Code: key}
}

func writeReadingError(w http.ResponseWriter, logger *slog.Logger, tr *i18n.Catalog, lang string, err error) {
	status, body := readingError(err, tr, lang)
	if status >= http.StatusInternalServerError {
		logger.Error("reading action failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}
