// Package redis is a RefreshTokens driver on Redis. Every state transition is
// a Lua script, so each is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/redis/go-redis/v9"
)

const (
	statusNotFound int64 = 0
	statusOK       int64 = 1
	statusMismatch int64 = 2
	statusReused   int64 = 3
	statusRevoked  int64 = 4
	statusExists   int64 = 5
)

// KEYS: record, session members, session revoked flag.
// ARGV: jti, subject, session, hash, iat, exp, now.
const persistScript = `
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 4
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 5
end
local exp = tonumber(ARGV[6])
local ttl = exp - tonumber(ARGV[7])
if ttl < 1 then
  ttl = 1
end
redis.call("HSET", KEYS[1],
  "jti", ARGV[1], "sub", ARGV[2], "sid", ARGV[3], "hash", ARGV[4],
  "iat", ARGV[5], "exp", ARGV[6], "used", "0", "revoked", "0")
redis.call("EXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], ARGV[1])
if redis.call("TTL", KEYS[2]) < ttl then
  redis.call("EXPIRE", KEYS[2], ttl)
end
return 1
`

// KEYS: record. ARGV: presented hash.
const consumeScript = `
local f = redis.call("HMGET", KEYS[1], "hash", "used", "revoked", "sub", "sid", "iat", "exp")
if not f[1] then
  return {0}
end
if f[1] ~= ARGV[1] then
  return {2}
end
if f[2] == "1" or f[3] == "1" then
  return {3, f[5]}
end
redis.call("HSET", KEYS[1], "used", "1")
return {1, f[4], f[5], f[6], f[7]}
`

// KEYS: record.
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

// KEYS: session members, session revoked flag.
// ARGV: record key prefix, flag ttl seconds.
const revokeSessionScript = `
redis.call("SET", KEYS[2], "1", "EX", tonumber(ARGV[2]))
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, jti in ipairs(members) do
  local key = ARGV[1] .. jti
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "revoked", "1")
    n = n + 1
  end
end
return n
`

var (
	persistLua       = redis.NewScript(persistScript)
	consumeLua       = redis.NewScript(consumeScript)
	revokeLua        = redis.NewScript(revokeScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
)

// Store keeps refresh records as hashes that expire with the token. Scripts
// touch record keys derived from session members, so a single-node (or
// single-slot) deployment is assumed.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	// revokedTTL bounds how long a revoked session refuses new records; it
	// must be at least the refresh token lifetime.
	revokedTTL time.Duration
	now        func() time.Time
}

var (
	_ store.RefreshTokens = (*Store)(nil)
	_ store.Backend       = (*Store)(nil)
)

// NewStore builds a Store under key namespace prefix. revokedTTL below one
// second falls back to the default refresh token lifetime.
func NewStore(client redis.UniversalClient, prefix string, revokedTTL time.Duration) *Store {
	if revokedTTL < time.Second {
		revokedTTL = jwtx.DefaultRefreshTokenTTL
	}
	return &Store{redis: client, prefix: prefix, revokedTTL: revokedTTL, now: time.Now}
}

func (s *Store) recordKey(jti string) string         { return s.prefix + ":rt:" + jti }
func (s *Store) sessionKey(sid string) string        { return s.prefix + ":rs:" + sid }
func (s *Store) sessionRevokedKey(sid string) string { return s.prefix + ":rs:" + sid + ":revoked" }

func (s *Store) Persist(ctx context.Context, rec domain.RefreshRecord) error {
	status, err := persistLua.Run(ctx, s.redis,
		[]string{s.recordKey(rec.JTI), s.sessionKey(rec.SessionID), s.sessionRevokedKey(rec.SessionID)},
		rec.JTI, rec.Subject, rec.SessionID, rec.TokenHash,
		rec.IssuedAt.Unix(), rec.ExpiresAt.Unix(), s.now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	switch status {
	case statusOK:
		return nil
	case statusRevoked:
		return fmt.Errorf("%w: %s", store.ErrSessionRevoked, rec.SessionID)
	case statusExists:
		return fmt.Errorf("%w: refresh token %s", store.ErrAlreadyExists, rec.JTI)
	default:
		return fmt.Errorf("redis: persist: unexpected status %d", status)
	}
}

func (s *Store) Consume(ctx context.Context, jti, tokenHash string) (domain.RefreshRecord, error) {
	res, err := consumeLua.Run(ctx, s.redis, []string{s.recordKey(jti)}, tokenHash).Slice()
	if err != nil {
		return domain.RefreshRecord{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(res) == 0 {
		return domain.RefreshRecord{}, errors.New("redis: consume: empty reply")
	}

	status, _ := res[0].(int64)
	switch status {
	case statusOK:
		return parseConsumed(jti, tokenHash, res)
	case statusNotFound:
		return domain.RefreshRecord{}, fmt.Errorf("%w: refresh token %s", store.ErrNotFound, jti)
	case statusMismatch:
		return domain.RefreshRecord{}, store.ErrTokenMismatch
	case statusReused:
		sid, _ := res[1].(string)
		if err := s.RevokeSession(ctx, sid); err != nil {
			return domain.RefreshRecord{}, fmt.Errorf("revoke session after reuse: %w", err)
		}
		return domain.RefreshRecord{}, fmt.Errorf("%w: jti %s, session %s", store.ErrReuseDetected, jti, sid)
	default:
		return domain.RefreshRecord{}, fmt.Errorf("redis: consume: unexpected status %d", status)
	}
}

func (s *Store) Revoke(ctx context.Context, jti string) error {
	n, err := revokeLua.Run(ctx, s.redis, []string{s.recordKey(jti)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	err := revokeSessionLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID), s.sessionRevokedKey(sessionID)},
		s.prefix+":rt:", int64(s.revokedTTL.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// DeleteExpired is a no-op: records carry their own TTL.
func (s *Store) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error { return s.redis.Close() }

func parseConsumed(jti, tokenHash string, res []any) (domain.RefreshRecord, error) {
	if len(res) != 5 {
		return domain.RefreshRecord{}, fmt.Errorf("redis: consume: reply has %d fields", len(res))
	}
	sub, _ := res[1].(string)
	sid, _ := res[2].(string)
	iatStr, _ := res[3].(string)
	expStr, _ := res[4].(string)

	iat, err := strconv.ParseInt(iatStr, 10, 64)
	if err != nil {
		return domain.RefreshRecord{}, fmt.Errorf("redis: consume: iat: %w", err)
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return domain.RefreshRecord{}, fmt.Errorf("redis: consume: exp: %w", err)
	}

	return domain.RefreshRecord{
		JTI:       jti,
		Subject:   sub,
		SessionID: sid,
		TokenHash: tokenHash,
		IssuedAt:  time.Unix(iat, 0).UTC(),
		ExpiresAt: time.Unix(exp, 0).UTC(),
		Used:      true,
	}, nil
}
