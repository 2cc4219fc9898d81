// Package auth authenticates admin operators from bearer tokens. It stamps
// the verified admin ID into the request context; handlers read it and pass
// it explicitly into core services, which never consult ambient state for
// identity.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// Validator verifies a bearer token and returns its claims.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims are the verified facts the middleware needs from a token.
type Claims struct {
	AdminID id.AdminID
	Roles   []string
}

type contextKeyAdminID struct{}
type contextKeyRoles struct{}

// AdminID retrieves the authenticated admin ID from the context. Returns the
// zero value if the request was not authenticated.
func AdminID(ctx context.Context) id.AdminID {
	if adminID, ok := ctx.Value(contextKeyAdminID{}).(id.AdminID); ok {
		return adminID
	}
	return id.AdminID{}
}

// Roles retrieves the authenticated admin's role set from the context.
func Roles(ctx context.Context) []string {
	if roles, ok := ctx.Value(contextKeyRoles{}).([]string); ok {
		return roles
	}
	return nil
}

// WithAdmin injects an authenticated admin into a context. Useful for
// handler tests that don't run the full middleware chain.
func WithAdmin(ctx context.Context, adminID id.AdminID, roles ...string) context.Context {
	ctx = context.WithValue(ctx, contextKeyAdminID{}, adminID)
	return context.WithValue(ctx, contextKeyRoles{}, roles)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","message":"%s"}`, errCode, errDesc))
}

// RequireAdmin rejects requests without a valid admin bearer token.
func RequireAdmin(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "admin bearer token required")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx = WithAdmin(ctx, claims.AdminID, claims.Roles...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
