package repository

import (
	"context"
	"sync"

	"refreshguard/internal/identity/domain"
	sessiondomain "refreshguard/internal/session/domain"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byEmail: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	c := *u
	r.byID[u.ID] = &c
	r.byEmail[u.Email] = u.ID
	return nil
}

// SetStatus changes a user's status. It exists for operators and tests.
func (r *MemoryRepository) SetStatus(id string, status domain.UserStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Status = status
	}
}

// SetRole changes a user's role.
func (r *MemoryRepository) SetRole(id string, role sessiondomain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Role = role
	}
}

// Delete removes a user.
func (r *MemoryRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
}
