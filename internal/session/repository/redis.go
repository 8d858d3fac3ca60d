package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"refreshguard/internal/session/domain"
)

// ErrRedisUnavailable wraps transport and script failures from Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultRetention keeps rotated and revoked records past their expiry so
// late replays still resolve to a record.
const DefaultRetention = 24 * time.Hour

const (
	claimStatusNotFound  int64 = 0
	claimStatusClaimed   int64 = 1
	claimStatusClaimedBy int64 = 2
	claimStatusDuplicate int64 = 3
)

// Hash fields. Timestamps are unix microseconds.
const (
	fieldUserID    = "user_id"
	fieldExpiresAt = "expires_at"
	fieldCreatedAt = "created_at"
	fieldIP        = "created_by_ip"
	fieldUA        = "user_agent"
	fieldRevokedAt = "revoked_at"
	fieldSuccessor = "successor"
)

// indexBody defines index(), which adds fp to the user's sorted set scored by
// its retention deadline (unix ms), drops members whose deadline is before now
// and keeps the set's own expiry at the latest deadline.
const indexBody = `
local function index(ukey, fp, deadline, now)
  redis.call("ZADD", ukey, deadline, fp)
  redis.call("ZREMRANGEBYSCORE", ukey, "-inf", "(" .. now)
  local top = redis.call("ZREVRANGE", ukey, 0, 0, "WITHSCORES")
  if top[2] == nil or tonumber(top[2]) <= tonumber(deadline) then
    redis.call("PEXPIREAT", ukey, deadline)
  end
end
`

const createScript = indexBody + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "expires_at", ARGV[2], "created_at", ARGV[3],
  "created_by_ip", ARGV[4], "user_agent", ARGV[5])
if ARGV[6] ~= "" then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[6])
end
if ARGV[7] ~= "" then
  redis.call("HSET", KEYS[1], "successor", ARGV[7])
end
redis.call("PEXPIREAT", KEYS[1], ARGV[8])
index(KEYS[2], ARGV[9], ARGV[8], ARGV[10])
return 1
`

// claimBody is shared by the claim and replace scripts. It leaves status in
// the local "status" and expects KEYS[1] to be the claimed session.
const claimBody = `
local status = 0
if redis.call("EXISTS", KEYS[1]) == 1 then
  local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at"))
  if exp and exp > tonumber(ARGV[1]) then
    if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
      status = 2
    else
      status = 1
    end
  end
end
`

const claimScript = claimBody + `
if status == 1 then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
  if ARGV[2] ~= "" then
    redis.call("HSET", KEYS[1], "successor", ARGV[2])
  end
end
if status == 0 then
  return {0}
end
return {status, redis.call("HGETALL", KEYS[1])}
`

const replaceScript = indexBody + claimBody + `
if status == 1 and redis.call("EXISTS", KEYS[2]) == 1 then
  return {3}
end
if status == 1 then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "successor", ARGV[2])
  redis.call("HSET", KEYS[2], "user_id", ARGV[3], "expires_at", ARGV[4], "created_at", ARGV[5],
    "created_by_ip", ARGV[6], "user_agent", ARGV[7])
  redis.call("PEXPIREAT", KEYS[2], ARGV[8])
  index(KEYS[3], ARGV[2], ARGV[8], ARGV[9])
end
if status == 0 then
  return {0}
end
return {status, redis.call("HGETALL", KEYS[1])}
`

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
if ARGV[2] ~= "" then
  redis.call("HSET", KEYS[1], "successor", ARGV[2])
end
return 1
`

const revokeAllScript = `
local n = 0
for _, fp in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local k = ARGV[2] .. fp
  if redis.call("EXISTS", k) == 0 then
    redis.call("ZREM", KEYS[1], fp)
  elseif redis.call("HEXISTS", k, "revoked_at") == 0 then
    redis.call("HSET", k, "revoked_at", ARGV[1])
    n = n + 1
  end
end
return n
`

var (
	createLua    = redis.NewScript(createScript)
	claimLua     = redis.NewScript(claimScript)
	replaceLua   = redis.NewScript(replaceScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisRepository stores each session as a hash plus a per-user sorted set of
// fingerprints. Every mutation is a single Lua script, so claims are atomic on
// the server. Both key kinds expire at the session expiry plus retention.
type RedisRepository struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisRepository returns a Redis-backed Repository. Keys are namespaced by prefix.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "refreshguard"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisRepository{rdb: rdb, prefix: prefix, retention: retention}
}

func (r *RedisRepository) sessionPrefix() string { return r.prefix + ":session:" }

func (r *RedisRepository) key(fingerprint string) string { return r.sessionPrefix() + fingerprint }

func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":user:" + userID }

func (r *RedisRepository) expireAt(s *domain.Session) int64 {
	return s.ExpiresAt.Add(r.retention).UnixMilli()
}

// Create stores s and indexes it under its user. Index members whose
// retention ran out before s.CreatedAt are dropped.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	res, err := createLua.Run(ctx, r.rdb,
		[]string{r.key(s.Fingerprint), r.userKey(s.UserID)},
		s.UserID, micros(s.ExpiresAt), micros(s.CreatedAt), s.CreatedByIP, s.UserAgent,
		optMicros(s.RevokedAt), s.SuccessorFingerprint, r.expireAt(s), s.Fingerprint,
		s.CreatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrDuplicateFingerprint
	}
	return nil
}

// FindActiveByFingerprint returns the session if it is neither revoked nor expired at now.
func (r *RedisRepository) FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	s, err := sessionFromHash(fingerprint, fields)
	if err != nil {
		return nil, err
	}
	if !s.IsActive(now) {
		return nil, ErrNotFound
	}
	return s, nil
}

// ClaimAndRevoke runs the claim script against one session hash.
func (r *RedisRepository) ClaimAndRevoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (*domain.Session, error) {
	res, err := claimLua.Run(ctx, r.rdb, []string{r.key(fingerprint)}, micros(now), successorFP).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeClaim(fingerprint, res)
}

// ClaimAndReplace claims fingerprint and writes next in the same script.
func (r *RedisRepository) ClaimAndReplace(ctx context.Context, fingerprint string, next *domain.Session, now time.Time) (*domain.Session, error) {
	res, err := replaceLua.Run(ctx, r.rdb,
		[]string{r.key(fingerprint), r.key(next.Fingerprint), r.userKey(next.UserID)},
		micros(now), next.Fingerprint,
		next.UserID, micros(next.ExpiresAt), micros(next.CreatedAt), next.CreatedByIP, next.UserAgent,
		r.expireAt(next), now.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeClaim(fingerprint, res)
}

func decodeClaim(fingerprint string, res any) (*domain.Session, error) {
	parts, ok := res.([]any)
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid claim script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claim script status", ErrRedisUnavailable)
	}
	switch code {
	case claimStatusNotFound:
		return nil, ErrNotFound
	case claimStatusDuplicate:
		return nil, ErrDuplicateFingerprint
	case claimStatusClaimed, claimStatusClaimedBy:
	default:
		return nil, fmt.Errorf("%w: unknown claim script status %d", ErrRedisUnavailable, code)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: missing claimed session payload", ErrRedisUnavailable)
	}
	flat, ok := parts[1].([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: invalid claimed session payload", ErrRedisUnavailable)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	s, err := sessionFromHash(fingerprint, fields)
	if err != nil {
		return nil, err
	}
	if code == claimStatusClaimedBy {
		return s, ErrAlreadyClaimed
	}
	return s, nil
}

// Revoke marks the session hash revoked. The script returns 1 only when it
// changed the hash.
func (r *RedisRepository) Revoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (bool, error) {
	n, err := revokeLua.Run(ctx, r.rdb, []string{r.key(fingerprint)}, micros(now), successorFP).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// RevokeAllForUser revokes every indexed session that is not yet revoked and
// prunes index members whose hash is gone.
func (r *RedisRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	n, err := revokeAllLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, micros(now), r.sessionPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// ListActiveByUser loads every indexed session in one pipeline and removes
// members whose hash has expired from the index.
func (r *RedisRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	fps, err := r.rdb.ZRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fps) == 0 {
		return []*domain.Session{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(fps))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, fp := range fps {
			cmds[i] = pipe.HGetAll(ctx, r.key(fp))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	out := make([]*domain.Session, 0, len(fps))
	var gone []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			gone = append(gone, fps[i])
			continue
		}
		s, err := sessionFromHash(fps[i], fields)
		if err != nil {
			return nil, err
		}
		if s.IsActive(now) {
			out = append(out, s)
		}
	}
	if len(gone) > 0 {
		if err := r.rdb.ZRem(ctx, r.userKey(userID), gone...).Err(); err != nil {
			log.Printf("session: prune user index %s: %v", userID, err)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sessionFromHash(fingerprint string, fields map[string]string) (*domain.Session, error) {
	expires, err := parseMicros(fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("session %s: expires_at: %w", fingerprint, err)
	}
	created, err := parseMicros(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("session %s: created_at: %w", fingerprint, err)
	}
	s := &domain.Session{
		Fingerprint:          fingerprint,
		UserID:               fields[fieldUserID],
		ExpiresAt:            expires,
		CreatedAt:            created,
		CreatedByIP:          fields[fieldIP],
		UserAgent:            fields[fieldUA],
		SuccessorFingerprint: fields[fieldSuccessor],
	}
	if v, ok := fields[fieldRevokedAt]; ok {
		at, err := parseMicros(v)
		if err != nil {
			return nil, fmt.Errorf("session %s: revoked_at: %w", fingerprint, err)
		}
		s.RevokedAt = &at
	}
	return s, nil
}

func micros(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

func optMicros(t *time.Time) string {
	if t == nil {
		return ""
	}
	return micros(*t)
}

func parseMicros(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(v).UTC(), nil
}
