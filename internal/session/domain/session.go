package domain

import "time"

// State is the lifecycle state of a session record.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Role is the closed set of roles carried in tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole returns the Role for s and false when s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Session is a refresh-token record keyed by the fingerprint of the token's jti.
// The raw refresh token is never stored.
type Session struct {
	Fingerprint          string
	UserID               string
	ExpiresAt            time.Time
	CreatedAt            time.Time
	CreatedByIP          string
	UserAgent            string
	RevokedAt            *time.Time // nil while active
	SuccessorFingerprint string     // set when the session was rotated
}

// State reports the session state at now. Expiry wins over revocation.
func (s *Session) State(now time.Time) State {
	switch {
	case !now.Before(s.ExpiresAt):
		return StateExpired
	case s.RevokedAt == nil:
		return StateActive
	case s.SuccessorFingerprint != "":
		return StateRotated
	default:
		return StateRevoked
	}
}

// IsActive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.State(now) == StateActive
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
