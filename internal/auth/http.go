// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token, resolves the principal and adds it to the request context

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}

// HTTPAuthMiddleware rejects requests without a valid token for an active
// principal and attaches the AuthContext otherwise.
func HTTPAuthMiddleware(principals PrincipalStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			principalID, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("auth failure", "reason", "invalid_token", "remote_addr", r.RemoteAddr)
				writeAuthError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			authCtx, err := resolve(r.Context(), principals, principalID)
			switch {
			case errors.Is(err, errUnknownPrincipal):
				writeAuthError(w, "principal not found", http.StatusUnauthorized)
				return
			case errors.Is(err, errDisabledPrincipal):
				logger.Warn("auth failure", "reason", "principal_disabled", "principal_id", principalID)
				writeAuthError(w, "principal is disabled", http.StatusForbidden)
				return
			case err != nil:
				logger.Error("principal lookup failed", "principal_id", principalID, "error", err)
				writeAuthError(w, "internal error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireElevatedHTTP requires an agent or admin. Must be used after
// HTTPAuthMiddleware.
func RequireElevatedHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			if !authCtx.IsElevated() {
				writeAuthError(w, "agent role required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
