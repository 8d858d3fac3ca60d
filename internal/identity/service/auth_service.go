package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"refreshguard/internal/audit"
	identitydomain "refreshguard/internal/identity/domain"
	"refreshguard/internal/identity/repository"
	"refreshguard/internal/security"
	sessiondomain "refreshguard/internal/session/domain"
	sessionservice "refreshguard/internal/session/service"
)

// Sentinel errors for auth service; handlers map them to HTTP statuses.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidInput           = errors.New("invalid input")
)

// AuthResult holds the outcome of Register or Login.
type AuthResult struct {
	Tokens *sessionservice.TokenPair
	User   *identitydomain.User
}

// SessionIssuer is the part of the session manager the auth service needs.
type SessionIssuer interface {
	Issue(ctx context.Context, subject sessionservice.Subject, meta sessionservice.Metadata) (*sessionservice.TokenPair, error)
}

// AuthService implements password register and login on top of the session manager.
// It also resolves subjects for rotation.
type AuthService struct {
	users    repository.Repository
	sessions SessionIssuer
	hasher   *security.Hasher
	audit    audit.Recorder
	metrics  *sessionservice.Metrics
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. recorder and metrics may be nil.
func NewAuthService(
	users repository.Repository,
	sessions SessionIssuer,
	hasher *security.Hasher,
	recorder audit.Recorder,
	metrics *sessionservice.Metrics,
) *AuthService {
	if recorder == nil {
		recorder = audit.Nop
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		audit:    recorder,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user with role user and signs them in.
func (s *AuthService) Register(ctx context.Context, email, password, name string, meta sessionservice.Metadata) (*AuthResult, error) {
	res, err := s.register(ctx, email, password, name, meta)
	s.metrics.AuthAttempt(ctx, sessionservice.AttemptRegister, err == nil)
	return res, err
}

func (s *AuthService) register(ctx context.Context, email, password, name string, meta sessionservice.Metadata) (*AuthResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	user := &identitydomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         sessiondomain.RoleUser,
		Status:       identitydomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	return s.issue(ctx, user, meta)
}

// Login verifies email and password and issues a new session.
func (s *AuthService) Login(ctx context.Context, email, password string, meta sessionservice.Metadata) (*AuthResult, error) {
	res, err := s.login(ctx, email, password, meta)
	s.metrics.AuthAttempt(ctx, sessionservice.AttemptLogin, err == nil)
	if errors.Is(err, ErrInvalidCredentials) {
		s.audit.Record(ctx, audit.Event{
			Action:    audit.ActionLoginFailed,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Reason:    "invalid_credentials",
		})
	}
	return res, err
}

func (s *AuthService) login(ctx context.Context, email, password string, meta sessionservice.Metadata) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var stored string
	if user != nil {
		stored = user.PasswordHash
	}
	// A missing user still pays for one bcrypt comparison.
	if err := s.hasher.Verify(stored, password); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			log.Printf("auth: verify password: %v", err)
		}
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user, meta)
}

func (s *AuthService) issue(ctx context.Context, user *identitydomain.User, meta sessionservice.Metadata) (*AuthResult, error) {
	pair, err := s.sessions.Issue(ctx, sessionservice.Subject{ID: user.ID, Role: user.Role}, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Tokens: pair, User: user}, nil
}

// SubjectResolver re-resolves users for session rotation. It needs only the
// user repository, so it can be built before the session manager.
type SubjectResolver struct {
	users repository.Repository
}

// NewSubjectResolver returns a SubjectResolver reading from users.
func NewSubjectResolver(users repository.Repository) *SubjectResolver {
	return &SubjectResolver{users: users}
}

// LookupSubject returns the current role of userID. Missing and disabled users
// yield sessionservice.ErrSubjectNotFound.
func (r *SubjectResolver) LookupSubject(ctx context.Context, userID string) (sessionservice.Subject, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return sessionservice.Subject{}, err
	}
	if user == nil || !user.IsActive() {
		return sessionservice.Subject{}, sessionservice.ErrSubjectNotFound
	}
	return sessionservice.Subject{ID: user.ID, Role: user.Role}, nil
}

// GetUser returns the user for id, or nil if not found.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*identitydomain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !simpleEmail.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}
	if !hasLetter {
		return fmt.Errorf("%w: password must contain at least one letter", ErrInvalidInput)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidInput)
	}
	return nil
}
