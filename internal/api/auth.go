package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Norio691/claude-relay/internal/apierr"
)

// unauthenticatedPaths are reachable with no credentials at all. The
// WebSocket upgrade path authenticates itself inside handleTerminal,
// since a failed check there must close with 4401, not a plain 401.
var unauthenticatedPaths = map[string]bool{
	"/api/status": true,
}

// withAuth rejects every request outside unauthenticatedPaths and the
// terminal upgrade path that does not carry a PSK matching the
// configured one in the Authorization header. Terminal upgrade requests
// pass through unchecked; handleTerminal authenticates them, accepting
// the token query parameter as well.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/terminal/") {
			next.ServeHTTP(w, r)
			return
		}

		if !constantTimeEqual(bearerToken(r), s.cfg.PSK()) {
			s.log.Warn("rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, apierr.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from an "Authorization: Bearer
// <psk>" header, or "" if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// presentedPSK resolves the credential presented on a WebSocket upgrade, which may
// arrive either via the token query parameter or the bearer header.
func presentedPSK(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return bearerToken(r)
}

// constantTimeEqual compares two PSK candidates without leaking timing
// information through byte position. Empty or unequal-length buffers are
// rejected without a byte comparison.
func constantTimeEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
