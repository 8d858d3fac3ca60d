// Package service implements the refresh session lifecycle: issuing token
// pairs, authenticating access tokens, rotating refresh tokens with reuse
// detection, and revocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"refreshguard/internal/audit"
	"refreshguard/internal/security"
	"refreshguard/internal/session/domain"
	"refreshguard/internal/session/repository"
)

// Subject is the authenticated identity carried in tokens.
type Subject struct {
	ID   string
	Role domain.Role
}

// Metadata describes the client that triggered issuance or rotation.
type Metadata struct {
	IP        string
	UserAgent string
}

// TokenPair is returned by Issue and Rotate.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Subject          Subject
}

// SubjectLookup re-resolves a user on rotation so new tokens carry the current role.
// It returns ErrSubjectNotFound when the user no longer exists.
type SubjectLookup interface {
	LookupSubject(ctx context.Context, userID string) (Subject, error)
}

// Manager owns every session state transition. It is safe for concurrent use;
// rotation races are settled by the repository's atomic claim.
type Manager struct {
	repo    repository.Repository
	tokens  *security.TokenProvider
	audit   audit.Recorder
	metrics *Metrics
	lookup  SubjectLookup
}

// Option configures a Manager.
type Option func(*Manager)

// WithAudit sets the audit recorder. The default discards events.
func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.audit = r
		}
	}
}

// WithMetrics sets the counters updated by the Manager.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithSubjectLookup enables role re-resolution on rotation.
func WithSubjectLookup(l SubjectLookup) Option {
	return func(m *Manager) { m.lookup = l }
}

// NewManager returns a Manager that persists sessions in repo and signs with tokens.
func NewManager(repo repository.Repository, tokens *security.TokenProvider, opts ...Option) *Manager {
	m := &Manager{repo: repo, tokens: tokens, audit: audit.Nop}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Metrics returns the Manager's counters, possibly nil.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// RefreshTTL returns the refresh token lifetime, used for cookie max-age.
func (m *Manager) RefreshTTL() time.Duration { return m.tokens.RefreshTTL() }

// Issue mints a new token pair for an already verified subject and stores an active session.
func (m *Manager) Issue(ctx context.Context, subject Subject, meta Metadata) (*TokenPair, error) {
	if subject.ID == "" {
		return nil, errors.New("issue: subject id is required")
	}
	if _, ok := domain.ParseRole(string(subject.Role)); !ok {
		return nil, fmt.Errorf("issue: unknown role %q", subject.Role)
	}
	pair, sess, err := m.newPair(subject, meta)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("issue: store session: %w", err)
	}
	m.metrics.sessionIssued(ctx)
	m.audit.Record(ctx, audit.Event{
		Action:      audit.ActionSessionIssued,
		UserID:      subject.ID,
		Fingerprint: sess.Fingerprint,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
	return pair, nil
}

// newPair signs an access and refresh token under a fresh jti and builds the
// matching session record. Nothing is stored.
func (m *Manager) newPair(subject Subject, meta Metadata) (*TokenPair, *domain.Session, error) {
	jti, err := security.NewJTI()
	if err != nil {
		return nil, nil, err
	}
	access, accessExp, err := m.tokens.SignAccess(subject.ID, string(subject.Role))
	if err != nil {
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := m.tokens.SignRefresh(subject.ID, string(subject.Role), jti)
	if err != nil {
		return nil, nil, fmt.Errorf("sign refresh token: %w", err)
	}
	sess := &domain.Session{
		Fingerprint: security.Fingerprint(jti),
		UserID:      subject.ID,
		ExpiresAt:   refreshExp,
		CreatedAt:   m.tokens.Now(),
		CreatedByIP: meta.IP,
		UserAgent:   meta.UserAgent,
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Subject:          subject,
	}, sess, nil
}

// Authenticate verifies an access token. It never touches the session store.
func (m *Manager) Authenticate(accessToken string) (Subject, error) {
	sub, role, err := m.tokens.VerifyAccess(accessToken)
	if err != nil {
		return Subject{}, ErrUnauthenticated
	}
	r, ok := domain.ParseRole(role)
	if !ok {
		return Subject{}, ErrUnauthenticated
	}
	return Subject{ID: sub, Role: r}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented session is
// claimed atomically; a second presentation of the same token revokes every
// session of the user and returns ErrSessionCompromised.
func (m *Manager) Rotate(ctx context.Context, refreshToken string, meta Metadata) (*TokenPair, error) {
	pair, err := m.rotate(ctx, refreshToken, meta)
	m.metrics.AuthAttempt(ctx, AttemptRefresh, err == nil)
	return pair, err
}

func (m *Manager) rotate(ctx context.Context, refreshToken string, meta Metadata) (*TokenPair, error) {
	sub, role, jti, err := m.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		m.metrics.rotation(ctx, RotationInvalid)
		return nil, ErrUnauthenticated
	}
	subject := Subject{ID: sub, Role: domain.Role(role)}
	fp := security.Fingerprint(jti)
	now := m.tokens.Now()

	if m.lookup != nil {
		current, err := m.lookup.LookupSubject(ctx, sub)
		switch {
		case errors.Is(err, ErrSubjectNotFound):
			return nil, m.retire(ctx, fp, now, meta)
		case err != nil:
			m.metrics.rotation(ctx, RotationError)
			return nil, fmt.Errorf("rotate: lookup subject: %w", err)
		}
		subject = current
	}
	if _, ok := domain.ParseRole(string(subject.Role)); !ok {
		m.metrics.rotation(ctx, RotationInvalid)
		return nil, ErrUnauthenticated
	}

	pair, next, err := m.newPair(subject, meta)
	if err != nil {
		m.metrics.rotation(ctx, RotationError)
		return nil, err
	}
	claimed, err := m.repo.ClaimAndReplace(ctx, fp, next, now)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		m.metrics.rotation(ctx, RotationStale)
		return nil, ErrUnauthenticated
	case errors.Is(err, repository.ErrAlreadyClaimed):
		return nil, m.compromised(ctx, claimed, meta)
	case err != nil:
		m.metrics.rotation(ctx, RotationError)
		return nil, fmt.Errorf("rotate: claim session: %w", err)
	}

	m.metrics.rotation(ctx, RotationSuccess)
	m.audit.Record(ctx, audit.Event{
		Action:      audit.ActionSessionRotated,
		UserID:      claimed.UserID,
		Fingerprint: claimed.Fingerprint,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
	return pair, nil
}

// retire revokes the presented session of a user that no longer exists.
func (m *Manager) retire(ctx context.Context, fp string, now time.Time, meta Metadata) error {
	claimed, err := m.repo.ClaimAndRevoke(ctx, fp, "", now)
	switch {
	case errors.Is(err, repository.ErrAlreadyClaimed):
		return m.compromised(ctx, claimed, meta)
	case errors.Is(err, repository.ErrNotFound):
		m.metrics.rotation(ctx, RotationStale)
		return ErrUnauthenticated
	case err != nil:
		m.metrics.rotation(ctx, RotationError)
		return fmt.Errorf("rotate: revoke session: %w", err)
	}
	m.metrics.rotation(ctx, RotationInvalid)
	m.metrics.sessionsRevoked(ctx, 1)
	m.audit.Record(ctx, audit.Event{
		Action:      audit.ActionSessionRevoked,
		UserID:      claimed.UserID,
		Fingerprint: fp,
		IP:          meta.IP,
		Reason:      "subject_not_found",
	})
	return ErrUnauthenticated
}

// compromised handles a replay of a rotated or revoked session.
func (m *Manager) compromised(ctx context.Context, record *domain.Session, meta Metadata) error {
	m.metrics.rotation(ctx, RotationCompromised)
	m.metrics.reuse(ctx)
	if record == nil {
		return ErrSessionCompromised
	}
	state := record.State(m.tokens.Now())
	n, err := m.repo.RevokeAllForUser(ctx, record.UserID, m.tokens.Now())
	if err != nil {
		log.Printf("session: revoke all for user %s after reuse: %v", record.UserID, err)
		return fmt.Errorf("%w: revoke all: %v", ErrSessionCompromised, err)
	}
	m.metrics.sessionsRevoked(ctx, n)
	m.audit.Record(ctx, audit.Event{
		Action:      audit.ActionReuseDetected,
		UserID:      record.UserID,
		Fingerprint: record.Fingerprint,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Reason:      string(state),
		Count:       n,
	})
	log.Printf("session: refresh token reuse for user %s; revoked %d sessions", record.UserID, n)
	return ErrSessionCompromised
}

// Revoke ends the session behind refreshToken. Tokens that do not verify are
// ignored. Revoking an already revoked or rotated session is a no-op and is
// neither counted nor audited.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	sub, _, jti, err := m.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	fp := security.Fingerprint(jti)
	revoked, err := m.repo.Revoke(ctx, fp, "", m.tokens.Now())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !revoked {
		return nil
	}
	m.metrics.sessionsRevoked(ctx, 1)
	m.audit.Record(ctx, audit.Event{
		Action:      audit.ActionSessionRevoked,
		UserID:      sub,
		Fingerprint: fp,
		Reason:      "logout",
	})
	return nil
}

// RevokeAll ends every session of userID and returns how many were active.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	n, err := m.repo.RevokeAllForUser(ctx, userID, m.tokens.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	m.metrics.sessionsRevoked(ctx, n)
	m.audit.Record(ctx, audit.Event{
		Action: audit.ActionSessionRevokedAll,
		UserID: userID,
		Reason: "logout_all",
		Count:  n,
	})
	return n, nil
}

// ListSessions returns the user's active sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return m.repo.ListActiveByUser(ctx, userID, m.tokens.Now())
}
