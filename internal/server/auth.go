package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/arcanadesk/tarot/internal/auth"
)

var errNoSession = errors.New("no valid session")

// userFromRequest verifies the bearer token. EventSource and WebSocket
// clients cannot set headers, so a token query parameter is accepted too.
func userFromRequest(r *http.Request, verifier *auth.Verifier) (string, error) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errNoSession
	}
	return verifier.Verify(token)
}
