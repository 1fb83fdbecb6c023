package server

import (
	"log/slog"
	"net/http"
)

type AdminLogoutResponse struct {
	LoggedOut bool `json:"loggedOut"`
}

// handleAdminLogout drops the session behind the cookie and expires the
// cookie. A request without a live session still gets the cookie cleared.
func handleAdminLogout(logger *slog.Logger, admin AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setAdminCookie(w, "", -1)

		cookie, err := r.Cookie(adminCookieName)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusOK, AdminLogoutResponse{})
			return
		}
		sess, err := adminFromRequest(r, admin)
		if err != nil {
			writeJSON(w, http.StatusOK, AdminLogoutResponse{})
			return
		}

		if err := admin.DeleteAdminSession(r.Context(), cookie.Value); err != nil {
			logger.Error("deleting admin session", "admin", sess.Email, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("admin logged out", "admin", sess.Email)
		writeJSON(w, http.StatusOK, AdminLogoutResponse{LoggedOut: true})
	}
}
