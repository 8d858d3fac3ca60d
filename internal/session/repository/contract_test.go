package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"refreshguard/internal/security"
	"refreshguard/internal/session/domain"
)

// testContract runs the behaviour every Repository must share. newRepo must
// return an empty repository.
func testContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	session := func(userID string, ttl time.Duration) *domain.Session {
		jti, err := security.NewJTI()
		if err != nil {
			t.Fatalf("NewJTI: %v", err)
		}
		return &domain.Session{
			Fingerprint: security.Fingerprint(jti),
			UserID:      userID,
			ExpiresAt:   base.Add(ttl),
			CreatedAt:   base,
			CreatedByIP: "203.0.113.7",
			UserAgent:   "contract-test",
		}
	}

	t.Run("create and find", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		if err := r.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := r.FindActiveByFingerprint(ctx, s.Fingerprint, base)
		if err != nil {
			t.Fatalf("FindActiveByFingerprint: %v", err)
		}
		if got.UserID != "u1" || got.CreatedByIP != s.CreatedByIP || got.UserAgent != s.UserAgent {
			t.Errorf("got %+v", got)
		}
		if !got.ExpiresAt.Equal(s.ExpiresAt) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, s.ExpiresAt)
		}
		if got.RevokedAt != nil || got.SuccessorFingerprint != "" {
			t.Errorf("new session should be active: %+v", got)
		}
	})

	t.Run("duplicate fingerprint", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		if err := r.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := r.Create(ctx, s); !errors.Is(err, ErrDuplicateFingerprint) {
			t.Fatalf("second Create: want ErrDuplicateFingerprint, got %v", err)
		}
	})

	t.Run("find unknown or expired", func(t *testing.T) {
		r := newRepo(t)
		if _, err := r.FindActiveByFingerprint(ctx, security.Fingerprint("nope"), base); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown: want ErrNotFound, got %v", err)
		}
		s := session("u1", time.Minute)
		_ = r.Create(ctx, s)
		if _, err := r.FindActiveByFingerprint(ctx, s.Fingerprint, base.Add(time.Minute)); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired: want ErrNotFound, got %v", err)
		}
	})

	t.Run("claim once", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		_ = r.Create(ctx, s)

		claimed, err := r.ClaimAndRevoke(ctx, s.Fingerprint, "successor-fp", base.Add(time.Second))
		if err != nil {
			t.Fatalf("ClaimAndRevoke: %v", err)
		}
		if claimed.RevokedAt == nil || claimed.SuccessorFingerprint != "successor-fp" {
			t.Errorf("claimed record not revoked with successor: %+v", claimed)
		}
		if claimed.State(base.Add(time.Second)) != domain.StateRotated {
			t.Errorf("state = %q, want rotated", claimed.State(base.Add(time.Second)))
		}

		again, err := r.ClaimAndRevoke(ctx, s.Fingerprint, "other", base.Add(2*time.Second))
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("second claim: want ErrAlreadyClaimed, got %v", err)
		}
		if again == nil || again.UserID != "u1" || again.SuccessorFingerprint != "successor-fp" {
			t.Errorf("second claim should return the stored record unchanged: %+v", again)
		}
		if _, err := r.FindActiveByFingerprint(ctx, s.Fingerprint, base.Add(2*time.Second)); !errors.Is(err, ErrNotFound) {
			t.Errorf("claimed session should not be active, got %v", err)
		}
	})

	t.Run("claim unknown or expired", func(t *testing.T) {
		r := newRepo(t)
		if _, err := r.ClaimAndRevoke(ctx, "missing", "", base); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown: want ErrNotFound, got %v", err)
		}
		s := session("u1", time.Minute)
		_ = r.Create(ctx, s)
		if _, err := r.ClaimAndRevoke(ctx, s.Fingerprint, "", base.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired: want ErrNotFound, got %v", err)
		}
	})

	t.Run("claim revoked without successor", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		_ = r.Create(ctx, s)
		if _, err := r.Revoke(ctx, s.Fingerprint, "", base); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		got, err := r.ClaimAndRevoke(ctx, s.Fingerprint, "x", base.Add(time.Second))
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("want ErrAlreadyClaimed, got %v", err)
		}
		if got.State(base.Add(time.Second)) != domain.StateRevoked {
			t.Errorf("state = %q, want revoked", got.State(base.Add(time.Second)))
		}
	})

	t.Run("claim and replace", func(t *testing.T) {
		r := newRepo(t)
		old := session("u1", time.Hour)
		_ = r.Create(ctx, old)
		next := session("u1", time.Hour)

		claimed, err := r.ClaimAndReplace(ctx, old.Fingerprint, next, base.Add(time.Second))
		if err != nil {
			t.Fatalf("ClaimAndReplace: %v", err)
		}
		if claimed.SuccessorFingerprint != next.Fingerprint {
			t.Errorf("successor = %q, want %q", claimed.SuccessorFingerprint, next.Fingerprint)
		}
		if _, err := r.FindActiveByFingerprint(ctx, next.Fingerprint, base.Add(time.Second)); err != nil {
			t.Errorf("successor should be active: %v", err)
		}

		loser := session("u1", time.Hour)
		if _, err := r.ClaimAndReplace(ctx, old.Fingerprint, loser, base.Add(2*time.Second)); !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("replay: want ErrAlreadyClaimed, got %v", err)
		}
		if _, err := r.FindActiveByFingerprint(ctx, loser.Fingerprint, base.Add(2*time.Second)); !errors.Is(err, ErrNotFound) {
			t.Errorf("losing replacement must not be created, got %v", err)
		}
	})

	t.Run("replace with existing successor leaves old active", func(t *testing.T) {
		r := newRepo(t)
		old := session("u1", time.Hour)
		taken := session("u1", time.Hour)
		_ = r.Create(ctx, old)
		_ = r.Create(ctx, taken)
		if _, err := r.ClaimAndReplace(ctx, old.Fingerprint, taken, base); !errors.Is(err, ErrDuplicateFingerprint) {
			t.Fatalf("want ErrDuplicateFingerprint, got %v", err)
		}
		if _, err := r.FindActiveByFingerprint(ctx, old.Fingerprint, base); err != nil {
			t.Errorf("old session should still be active: %v", err)
		}
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		_ = r.Create(ctx, s)
		if changed, err := r.Revoke(ctx, s.Fingerprint, "first", base); err != nil || !changed {
			t.Fatalf("Revoke: changed=%v err=%v", changed, err)
		}
		if changed, err := r.Revoke(ctx, s.Fingerprint, "second", base.Add(time.Minute)); err != nil || changed {
			t.Fatalf("second Revoke: changed=%v err=%v", changed, err)
		}
		if changed, err := r.Revoke(ctx, "never-stored", "", base); err != nil || changed {
			t.Fatalf("Revoke unknown: changed=%v err=%v", changed, err)
		}
		got, err := r.ClaimAndRevoke(ctx, s.Fingerprint, "", base.Add(2*time.Minute))
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("want ErrAlreadyClaimed, got %v", err)
		}
		if got.SuccessorFingerprint != "first" || !got.RevokedAt.Equal(base) {
			t.Errorf("revoke overwrote earlier revocation: %+v", got)
		}
	})

	t.Run("revoke all for user", func(t *testing.T) {
		r := newRepo(t)
		a, b, c := session("u1", time.Hour), session("u1", time.Hour), session("u2", time.Hour)
		for _, s := range []*domain.Session{a, b, c} {
			if err := r.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		_, _ = r.Revoke(ctx, b.Fingerprint, "", base)

		n, err := r.RevokeAllForUser(ctx, "u1", base.Add(time.Second))
		if err != nil {
			t.Fatalf("RevokeAllForUser: %v", err)
		}
		if n != 1 {
			t.Errorf("revoked = %d, want 1", n)
		}
		if list, _ := r.ListActiveByUser(ctx, "u1", base.Add(time.Second)); len(list) != 0 {
			t.Errorf("u1 should have no active sessions, got %d", len(list))
		}
		if list, _ := r.ListActiveByUser(ctx, "u2", base.Add(time.Second)); len(list) != 1 {
			t.Errorf("u2 sessions must be untouched, got %d", len(list))
		}
		if n, _ := r.RevokeAllForUser(ctx, "nobody", base); n != 0 {
			t.Errorf("unknown user revoked = %d", n)
		}
	})

	t.Run("list active newest first", func(t *testing.T) {
		r := newRepo(t)
		older := session("u1", time.Hour)
		newer := session("u1", time.Hour)
		newer.CreatedAt = base.Add(time.Minute)
		expired := session("u1", time.Second)
		for _, s := range []*domain.Session{older, newer, expired} {
			_ = r.Create(ctx, s)
		}
		list, err := r.ListActiveByUser(ctx, "u1", base.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("ListActiveByUser: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
		if list[0].Fingerprint != newer.Fingerprint || list[1].Fingerprint != older.Fingerprint {
			t.Errorf("order = [%s %s]", list[0].Fingerprint, list[1].Fingerprint)
		}
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		r := newRepo(t)
		s := session("u1", time.Hour)
		_ = r.Create(ctx, s)

		const workers = 32
		var (
			wg      sync.WaitGroup
			wins    atomic.Int32
			claimed atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				next := session("u1", time.Hour)
				next.Fingerprint = security.Fingerprint(fmt.Sprintf("%s-%d", s.Fingerprint, i))
				_, err := r.ClaimAndReplace(ctx, s.Fingerprint, next, base.Add(time.Second))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrAlreadyClaimed):
					claimed.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()
		if wins.Load() != 1 || claimed.Load() != workers-1 {
			t.Fatalf("wins = %d, already claimed = %d", wins.Load(), claimed.Load())
		}
		if list, _ := r.ListActiveByUser(ctx, "u1", base.Add(time.Second)); len(list) != 1 {
			t.Fatalf("active sessions = %d, want exactly the one successor", len(list))
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		r := newRepo(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := r.Create(cctx, session("u1", time.Hour)); err == nil {
			t.Error("Create with canceled context should fail")
		}
	})
}
