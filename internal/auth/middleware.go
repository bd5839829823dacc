package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// authClaimsKey is a context key for the authenticated caller.
type authClaimsKey struct{}

// ClaimsFromContext returns the authenticated caller from the request context.
// Returns nil if the request is not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(authClaimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, authClaimsKey{}, c)
}

// AuthMiddleware validates bearer tokens on API routes.
// Non-API paths (healthz, readyz, metrics) are skipped, as are WebSocket
// paths, which authenticate through a query parameter.
func AuthMiddleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip non-API paths (healthz, readyz, metrics, etc.).
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			// Skip WebSocket paths (auth handled by WS handler via query param).
			if strings.HasPrefix(r.URL.Path, "/api/v1/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := tokens.ValidateToken(tokenString)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects authenticated callers whose role is below required. Requests
// with no claims in context pass through unchanged, so routes stay open when
// authentication is disabled.
func RequireRole(required Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil && !Role(c.Role).Allows(required) {
			writeAuthError(w, http.StatusForbidden, "role "+c.Role+" may not perform this action")
			return
		}
		next(w, r)
	}
}

// writeAuthError writes an RFC 7807 problem response.
func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://sensorguard.dev/problems/auth-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
