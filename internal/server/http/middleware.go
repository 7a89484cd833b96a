package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminAuthMiddleware guards the admin routes with a static bearer token.
// When no token is configured the middleware fails closed: every request is
// rejected with a 500 and an operational alert is logged, because letting
// the surface run open would be worse than an outage.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.logger.Error().
				Str("path", r.URL.Path).
				Msg("admin token not configured, rejecting request")
			writeError(w, http.StatusInternalServerError, "admin surface misconfigured")
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return auth[len(prefix):]
}
