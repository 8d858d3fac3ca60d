// Package rbac holds role gates for gRPC handlers. They read the identity set by
// interceptors.AuthUnary and answer with gRPC status errors.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"refreshguard/internal/server/interceptors"
	"refreshguard/internal/session/domain"
	"refreshguard/internal/session/service"
)

// RequireRole ensures the caller is authenticated and holds one of allowed.
// Returns the caller's user id on success; returns Unauthenticated when there is
// no identity in ctx and PermissionDenied when the role does not match.
func RequireRole(ctx context.Context, allowed ...domain.Role) (userID string, err error) {
	userID, okUser := interceptors.GetUserID(ctx)
	role, okRole := interceptors.GetRole(ctx)
	if !okUser || userID == "" || !okRole {
		return "", status.Error(codes.Unauthenticated, "authentication required")
	}
	if err := service.RequireRole(service.Subject{ID: userID, Role: role}, allowed...); err != nil {
		return "", status.Error(codes.PermissionDenied, err.Error())
	}
	return userID, nil
}
