package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"refreshguard/internal/identity/domain"
)

func newUser(id, email string) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID: id, Email: email, PasswordHash: "hash", Role: "user",
		Status: domain.UserStatusActive, CreatedAt: now, UpdatedAt: now,
	}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	if err := r.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	byID, err := r.GetByID(ctx, "u1")
	if err != nil || byID == nil || byID.Email != "a@example.com" {
		t.Fatalf("GetByID = %+v, %v", byID, err)
	}
	byEmail, err := r.GetByEmail(ctx, "a@example.com")
	if err != nil || byEmail == nil || byEmail.ID != "u1" {
		t.Fatalf("GetByEmail = %+v, %v", byEmail, err)
	}
	missing, err := r.GetByEmail(ctx, "b@example.com")
	if err != nil || missing != nil {
		t.Fatalf("missing user: %+v, %v", missing, err)
	}
}

func TestMemoryRepository_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newUser("u1", "a@example.com"))
	if err := r.Create(ctx, newUser("u2", "a@example.com")); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("want ErrEmailTaken, got %v", err)
	}
}

func TestMemoryRepository_RejectsInvalid(t *testing.T) {
	u := newUser("u1", "a@example.com")
	u.Role = "root"
	if err := NewMemoryRepository().Create(context.Background(), u); err == nil {
		t.Fatal("invalid user should be rejected")
	}
}

func TestMemoryRepository_Mutators(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newUser("u1", "a@example.com"))

	r.SetRole("u1", "admin")
	r.SetStatus("u1", domain.UserStatusDisabled)
	u, _ := r.GetByID(ctx, "u1")
	if u.Role != "admin" || u.Status != domain.UserStatusDisabled {
		t.Fatalf("mutators not applied: %+v", u)
	}
	r.Delete("u1")
	if u, _ := r.GetByEmail(ctx, "a@example.com"); u != nil {
		t.Fatal("deleted user still resolvable")
	}
}
