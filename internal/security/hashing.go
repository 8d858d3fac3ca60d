package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword is returned when hashing or verifying an empty password.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrPasswordMismatch is returned by Verify when the password does not match.
	ErrPasswordMismatch = errors.New("password does not match")
)

// dummyPassword is hashed once per Hasher so that Verify against a missing
// account spends the same bcrypt work as a real comparison.
const dummyPassword = "refreshguard-unknown-account"

// Hasher hashes and verifies account passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher with cost clamped to bcrypt's range (0 means
// bcrypt.DefaultCost). It precomputes the hash Verify uses for unknown accounts.
func NewHasher(cost int) (*Hasher, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = min(max(cost, bcrypt.MinCost), bcrypt.MaxCost)
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hasher: precompute dummy hash: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Cost returns the bcrypt cost used for new hashes.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of password for storage.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify checks password against hash. An empty hash stands for an account
// that does not exist: the password is compared against the dummy hash and
// ErrPasswordMismatch is returned.
func (h *Hasher) Verify(hash, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	stored := []byte(hash)
	if hash == "" {
		stored = h.dummy
	}
	err := bcrypt.CompareHashAndPassword(stored, []byte(password))
	switch {
	case hash == "":
		return ErrPasswordMismatch
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	case err != nil:
		return fmt.Errorf("verify password: %w", err)
	}
	return nil
}
