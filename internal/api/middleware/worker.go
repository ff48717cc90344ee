package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pixelvault/pixelvault-api/internal/api/shared"
)

// WorkerAuthMiddleware guards the worker event endpoint with the shared
// secret the monitor presents. Workers are machines, not users, so this
// is a plain bearer token rather than a JWT.
type WorkerAuthMiddleware struct {
	token []byte
}

// NewWorkerAuthMiddleware creates a middleware checking the given shared token.
func NewWorkerAuthMiddleware(token string) *WorkerAuthMiddleware {
	return &WorkerAuthMiddleware{token: []byte(token)}
}

// Authenticate rejects requests whose bearer token does not match the
// configured worker secret. Comparison is constant time.
func (m *WorkerAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), m.token) != 1 {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid worker token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
