package domain

import (
	"errors"
	"time"

	sessiondomain "refreshguard/internal/session/domain"
)

// User is an account that can obtain sessions.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         sessiondomain.Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if _, ok := sessiondomain.ParseRole(string(u.Role)); !ok {
		return errors.New("role must be user or admin")
	}
	if u.Status != UserStatusActive && u.Status != UserStatusDisabled {
		return errors.New("status must be active or disabled")
	}
	return nil
}

// IsActive reports whether the user may sign in.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }
