package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/apperrors"
	"github.com/strefethen/kef-hub-go/internal/config"
)

var publicPrefixes = []string{
	"/v1/health",
}

// queryTokenRoutes accept ?access_token= because browsers cannot set headers
// on WebSocket upgrades.
var queryTokenRoutes = map[string]struct{}{
	"/v1/speakers/stream": {},
}

// Middleware validates JWT tokens for protected routes. Read-scoped tokens
// are limited to GET requests.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, appErr := bearerToken(r)
			if appErr != nil {
				api.WriteError(w, r, appErr)
				return
			}

			client, err := VerifyToken(cfg, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			if client.Scope == ScopeRead && r.Method != http.MethodGet {
				api.WriteError(w, r, apperrors.NewAppError(apperrors.ErrorCodeForbidden, "Token is read-only", http.StatusForbidden, nil))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

func bearerToken(r *http.Request) (string, *apperrors.AppError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if _, ok := queryTokenRoutes[r.URL.Path]; ok {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return token, nil
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
