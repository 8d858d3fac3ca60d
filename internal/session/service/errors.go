package service

import (
	"errors"

	"refreshguard/internal/session/domain"
)

// Boundary errors. Transports map each to a distinct status; none is retried internally.
var (
	// ErrUnauthenticated covers bad, expired, unknown or stale credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionCompromised is returned when a rotated or revoked refresh token is
	// replayed. Every session of the user has been revoked by the time it is returned.
	ErrSessionCompromised = errors.New("session compromised; all sessions revoked")
	// ErrForbidden is returned by role checks for an authenticated subject.
	ErrForbidden = errors.New("forbidden")
	// ErrSubjectNotFound is returned by a SubjectLookup when the user no longer exists.
	ErrSubjectNotFound = errors.New("subject not found")
)

// RequireRole returns ErrForbidden unless s carries one of allowed.
func RequireRole(s Subject, allowed ...domain.Role) error {
	for _, r := range allowed {
		if s.Role == r {
			return nil
		}
	}
	return ErrForbidden
}
