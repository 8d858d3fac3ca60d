package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"refreshguard/internal/session/domain"
)

func newRedisTestRepo(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisRepository(rdb, "rgtest", time.Hour), mr
}

func TestRedisRepository_Contract(t *testing.T) {
	testContract(t, func(t *testing.T) Repository {
		r, _ := newRedisTestRepo(t)
		return r
	})
}

func TestRedisRepository_KeyLayoutAndTTL(t *testing.T) {
	r, mr := newRedisTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := &domain.Session{Fingerprint: "fp1", UserID: "u1", ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now}
	if err := r.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists("rgtest:session:fp1") {
		t.Fatal("session hash missing")
	}
	score, err := mr.ZScore("rgtest:user:u1", "fp1")
	if err != nil {
		t.Fatalf("user index missing fingerprint: %v", err)
	}
	if want := float64(s.ExpiresAt.Add(time.Hour).UnixMilli()); score != want {
		t.Errorf("index score = %v, want retention deadline %v", score, want)
	}
	if ttl := mr.TTL("rgtest:user:u1"); ttl <= 10*time.Minute || ttl > 70*time.Minute {
		t.Errorf("user index ttl = %v, want expiry plus retention", ttl)
	}
	ttl := mr.TTL("rgtest:session:fp1")
	if ttl <= 10*time.Minute || ttl > 70*time.Minute {
		t.Errorf("ttl = %v, want expiry plus retention", ttl)
	}
	if got := mr.HGet("rgtest:session:fp1", "revoked_at"); got != "" {
		t.Errorf("revoked_at should be absent, got %q", got)
	}
}

func TestRedisRepository_RevokeAllPrunesEvictedMembers(t *testing.T) {
	r, mr := newRedisTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, fp := range []string{"a", "b"} {
		s := &domain.Session{Fingerprint: fp, UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		if err := r.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mr.Del("rgtest:session:a")

	n, err := r.RevokeAllForUser(ctx, "u1", now)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 1 {
		t.Errorf("revoked = %d, want 1", n)
	}
	if _, err := mr.ZScore("rgtest:user:u1", "a"); err == nil {
		t.Error("evicted fingerprint should be pruned from the user index")
	}
}

func TestRedisRepository_UserIndexStaysBounded(t *testing.T) {
	r, mr := newRedisTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Retention is one hour, so this record's deadline passed an hour ago.
	old := &domain.Session{Fingerprint: "old", UserID: "u1", ExpiresAt: now.Add(-2 * time.Hour), CreatedAt: now.Add(-3 * time.Hour)}
	if err := r.Create(ctx, old); err != nil {
		t.Fatalf("Create old: %v", err)
	}
	cur := &domain.Session{Fingerprint: "cur", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := r.Create(ctx, cur); err != nil {
		t.Fatalf("Create cur: %v", err)
	}
	if _, err := mr.ZScore("rgtest:user:u1", "old"); err == nil {
		t.Error("member past its retention deadline should be dropped on create")
	}

	next := &domain.Session{Fingerprint: "next", UserID: "u1", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}
	if _, err := r.ClaimAndReplace(ctx, "cur", next, now.Add(time.Second)); err != nil {
		t.Fatalf("ClaimAndReplace: %v", err)
	}
	members, err := mr.ZMembers("rgtest:user:u1")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("index members = %v, want cur and next", members)
	}
	if ttl := mr.TTL("rgtest:user:u1"); ttl <= 2*time.Hour || ttl > 3*time.Hour {
		t.Errorf("user index ttl = %v, want the latest deadline", ttl)
	}

	// A shorter-lived session must not pull the index expiry forward.
	short := &domain.Session{Fingerprint: "short", UserID: "u1", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	if err := r.Create(ctx, short); err != nil {
		t.Fatalf("Create short: %v", err)
	}
	if ttl := mr.TTL("rgtest:user:u1"); ttl <= 2*time.Hour {
		t.Errorf("user index ttl shrank to %v", ttl)
	}
}

func TestRedisRepository_ListPrunesMissingMembers(t *testing.T) {
	r, mr := newRedisTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, fp := range []string{"a", "b"} {
		s := &domain.Session{Fingerprint: fp, UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		if err := r.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mr.Del("rgtest:session:a")

	list, err := r.ListActiveByUser(ctx, "u1", now)
	if err != nil {
		t.Fatalf("ListActiveByUser: %v", err)
	}
	if len(list) != 1 || list[0].Fingerprint != "b" {
		t.Fatalf("list = %v, want only b", list)
	}
	if _, err := mr.ZScore("rgtest:user:u1", "a"); err == nil {
		t.Error("missing fingerprint should be removed from the user index")
	}
}

func TestRedisRepository_Unavailable(t *testing.T) {
	r, mr := newRedisTestRepo(t)
	mr.Close()
	_, err := r.ClaimAndRevoke(context.Background(), "fp", "", time.Now())
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("want ErrRedisUnavailable, got %v", err)
	}
}
