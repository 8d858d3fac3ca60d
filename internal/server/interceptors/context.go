package interceptors

import (
	"context"

	"refreshguard/internal/session/domain"
)

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	roleKey   = contextKey{"role"}
)

// WithIdentity returns a context carrying the authenticated user_id and role.
func WithIdentity(ctx context.Context, userID string, role domain.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetRole returns the role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (domain.Role, bool) {
	v, ok := ctx.Value(roleKey).(domain.Role)
	return v, ok
}
