package repository

import (
	"context"
	"errors"

	"refreshguard/internal/identity/domain"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users. Getters return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
