package handlers

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// AdminAuth checks a bearer token against a bcrypt hash.
type AdminAuth struct {
	hash []byte
}

// NewAdminAuth creates an authenticator. An empty hash rejects every request.
func NewAdminAuth(hash string) *AdminAuth {
	return &AdminAuth{hash: []byte(hash)}
}

// Enabled reports whether a hash is configured.
func (a *AdminAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Verify reports whether token matches the configured hash.
func (a *AdminAuth) Verify(token string) bool {
	if !a.Enabled() || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Middleware rejects requests without a valid token. onDenied writes the
// response so callers keep one error envelope.
func (a *AdminAuth) Middleware(onDenied func(w http.ResponseWriter, r *http.Request, status int), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			onDenied(w, r, http.StatusForbidden)
			return
		}
		if !a.Verify(BearerToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			onDenied(w, r, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
