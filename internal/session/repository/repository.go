// Package repository defines the Session Store contract and its memory,
// Postgres and Redis implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"refreshguard/internal/session/domain"
)

var (
	// ErrNotFound is returned when no usable session exists for a fingerprint:
	// it was never stored or it has expired.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyClaimed is returned by claims against a session that was already
	// rotated or revoked. The stored record is returned alongside it.
	ErrAlreadyClaimed = errors.New("session already claimed")
	// ErrDuplicateFingerprint is returned when creating a session whose fingerprint exists.
	ErrDuplicateFingerprint = errors.New("duplicate session fingerprint")
)

// Repository persists refresh-token sessions keyed by fingerprint.
// Implementations must make ClaimAndRevoke and ClaimAndReplace atomic so that
// at most one caller ever claims a given fingerprint.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.Session, error)
	// ClaimAndRevoke revokes an active session and records successorFP (may be empty)
	// in the same write. See ErrNotFound and ErrAlreadyClaimed for the failure modes.
	ClaimAndRevoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (*domain.Session, error)
	// ClaimAndReplace claims fingerprint with next.Fingerprint as successor and
	// creates next, all or nothing.
	ClaimAndReplace(ctx context.Context, fingerprint string, next *domain.Session, now time.Time) (*domain.Session, error)
	// Revoke is idempotent and never overwrites an earlier revocation. It reports
	// whether this call revoked the session.
	Revoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
}
