// Package refresh is the client side of the session lifecycle: it keeps the
// access token in memory and deduplicates concurrent refresh calls so a burst
// of 401s spends the refresh token exactly once.
package refresh

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoToken is returned when a refresh completed without yielding an access token.
var ErrNoToken = errors.New("refresh: no access token returned")

// DefaultTimeout bounds one shared refresh call.
const DefaultTimeout = 30 * time.Second

// RotateFunc exchanges the client's refresh credential for a new access token.
type RotateFunc func(ctx context.Context) (string, error)

// TokenSource holds the current access token in memory only.
type TokenSource struct {
	mu    sync.RWMutex
	token string
}

// Token returns the current access token, or "". A nil TokenSource has no token.
func (s *TokenSource) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the access token.
func (s *TokenSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear forgets the access token.
func (s *TokenSource) Clear() { s.Set("") }

// Coordinator runs at most one refresh at a time. Callers that arrive while a
// refresh is in flight wait for it and share its result; the slot is released
// when the call finishes, whether it succeeded or not.
type Coordinator struct {
	rotate  RotateFunc
	tokens  *TokenSource
	timeout time.Duration
	group   singleflight.Group
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTokenSource makes the Coordinator store refreshed tokens in ts and clear
// it when a refresh fails.
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Coordinator) { c.tokens = ts }
}

// WithTimeout bounds the shared refresh call. Zero or negative keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCoordinator returns a Coordinator that refreshes with rotate.
func NewCoordinator(rotate RotateFunc, opts ...Option) *Coordinator {
	c := &Coordinator{rotate: rotate, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh returns a new access token, or "" and an error when the refresh failed.
// ctx bounds only this caller's wait: the shared call keeps running for the
// other waiters when one of them gives up.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		token, err := c.rotate(callCtx)
		if err == nil && token == "" {
			err = ErrNoToken
		}
		if err != nil {
			log.Printf("refresh: %v", err)
			if c.tokens != nil {
				c.tokens.Clear()
			}
			return "", err
		}
		if c.tokens != nil {
			c.tokens.Set(token)
		}
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
