package rbac

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"refreshguard/internal/server/interceptors"
	"refreshguard/internal/session/domain"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		allowed []domain.Role
		code    codes.Code
	}{
		{"no identity", context.Background(), []domain.Role{domain.RoleAdmin}, codes.Unauthenticated},
		{"empty user", interceptors.WithIdentity(context.Background(), "", domain.RoleAdmin), []domain.Role{domain.RoleAdmin}, codes.Unauthenticated},
		{"user on admin gate", interceptors.WithIdentity(context.Background(), "u1", domain.RoleUser), []domain.Role{domain.RoleAdmin}, codes.PermissionDenied},
		{"admin on admin gate", interceptors.WithIdentity(context.Background(), "u1", domain.RoleAdmin), []domain.Role{domain.RoleAdmin}, codes.OK},
		{"user on either gate", interceptors.WithIdentity(context.Background(), "u1", domain.RoleUser), []domain.Role{domain.RoleUser, domain.RoleAdmin}, codes.OK},
		{"no roles allowed", interceptors.WithIdentity(context.Background(), "u1", domain.RoleAdmin), nil, codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := RequireRole(tt.ctx, tt.allowed...)
			if got := status.Code(err); got != tt.code {
				t.Fatalf("code = %v, want %v", got, tt.code)
			}
			if tt.code == codes.OK && userID != "u1" {
				t.Errorf("userID = %q, want u1", userID)
			}
		})
	}
}
