package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const ownerKey contextKey = "owner"

// WithOwner returns a context carrying the owning principal's identity.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// GetOwner extracts the owner identity from the context.
func GetOwner(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}

// OwnerMiddleware extracts the owner identity from the bearer token and
// adds it to the request context. Requests without a usable token pass
// through without an owner; handlers that require one reject them.
func OwnerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			owner, err := ExtractOwnerFromToken(authHeader)
			if err != nil {
				logger.Warn("failed to extract owner from token", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}
