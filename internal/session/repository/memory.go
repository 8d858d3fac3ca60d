package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"refreshguard/internal/session/domain"
)

// MemoryRepository is an in-process Repository. All operations run under one mutex.
type MemoryRepository struct {
	mu     sync.Mutex
	byFP   map[string]*domain.Session
	byUser map[string]map[string]struct{}
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byFP:   make(map[string]*domain.Session),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Create stores a copy of s. It fails with ErrDuplicateFingerprint if the fingerprint exists.
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(s)
}

func (r *MemoryRepository) createLocked(s *domain.Session) error {
	if _, ok := r.byFP[s.Fingerprint]; ok {
		return ErrDuplicateFingerprint
	}
	r.byFP[s.Fingerprint] = s.Clone()
	set, ok := r.byUser[s.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[s.UserID] = set
	}
	set[s.Fingerprint] = struct{}{}
	return nil
}

// FindActiveByFingerprint returns a copy of the session if it is active at now.
func (r *MemoryRepository) FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byFP[fingerprint]
	if !ok || !s.IsActive(now) {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// ClaimAndRevoke revokes an active session under the repository lock.
func (r *MemoryRepository) ClaimAndRevoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimLocked(fingerprint, successorFP, now)
}

func (r *MemoryRepository) claimLocked(fingerprint, successorFP string, now time.Time) (*domain.Session, error) {
	s, ok := r.byFP[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	switch s.State(now) {
	case domain.StateExpired:
		return nil, ErrNotFound
	case domain.StateRotated, domain.StateRevoked:
		return s.Clone(), ErrAlreadyClaimed
	}
	at := now
	s.RevokedAt = &at
	s.SuccessorFingerprint = successorFP
	return s.Clone(), nil
}

// ClaimAndReplace checks next for a duplicate before claiming, so a failed
// insert never leaves the old session claimed.
func (r *MemoryRepository) ClaimAndReplace(ctx context.Context, fingerprint string, next *domain.Session, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byFP[next.Fingerprint]; ok {
		return nil, ErrDuplicateFingerprint
	}
	claimed, err := r.claimLocked(fingerprint, next.Fingerprint, now)
	if err != nil {
		return claimed, err
	}
	if err := r.createLocked(next); err != nil {
		return nil, err
	}
	return claimed, nil
}

// Revoke marks the session revoked unless it is unknown or already revoked.
// The bool is true only when this call changed the record.
func (r *MemoryRepository) Revoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byFP[fingerprint]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	at := now
	s.RevokedAt = &at
	s.SuccessorFingerprint = successorFP
	return true, nil
}

// RevokeAllForUser revokes the user's sessions that are not yet revoked and returns how many.
func (r *MemoryRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for fp := range r.byUser[userID] {
		s := r.byFP[fp]
		if s.RevokedAt != nil {
			continue
		}
		at := now
		s.RevokedAt = &at
		n++
	}
	return n, nil
}

// ListActiveByUser returns copies of the user's active sessions, newest first.
func (r *MemoryRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.byUser[userID]))
	for fp := range r.byUser[userID] {
		if s := r.byFP[fp]; s.IsActive(now) {
			out = append(out, s.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(list []*domain.Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Fingerprint < list[j].Fingerprint
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
