// Package redis keeps refresh tokens in Redis. Users stay in the SQL store;
// this driver only implements store.RefreshTokens.
//
// Layout, under a configurable prefix:
//
//	rth:{hash}  hash with the token record
//	rtid:{id}   token hash by row id
//	rtu:{user}  set of a user's token hashes
//	rts:{sid}   hash of the newest token in a session
//
// Keys carry no TTL because refresh rows are never deleted.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the driver.
const DefaultPrefix = "flightdesk:auth:"

const scanBatch = 256

type Store struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ store.RefreshTokens = (*Store)(nil)

// NewStore wraps rdb. An empty prefix selects DefaultPrefix.
func NewStore(rdb goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Connect parses a redis:// URL, connects and pings.
func Connect(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewStore(rdb, prefix), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) tokenKey(hash string) string  { return s.prefix + "rth:" + hash }
func (s *Store) idKey(id string) string       { return s.prefix + "rtid:" + id }
func (s *Store) userKey(userID string) string { return s.prefix + "rtu:" + userID }
func (s *Store) sessionKey(sid string) string { return s.prefix + "rts:" + sid }
func (s *Store) tokenPattern() string         { return s.prefix + "rth:*" }

func unixNano(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func fromUnixNano(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	status, err := createLua.Run(ctx, s.rdb,
		[]string{s.tokenKey(t.TokenHash), s.idKey(t.ID), s.userKey(t.UserID), s.sessionKey(t.SessionID)},
		s.prefix, t.TokenHash, t.ID, t.UserID, t.SessionID, unixNano(t.IssuedAt), unixNano(t.ExpiresAt),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: create refresh token: %w", err)
	}
	if status == createStatusExists {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("redis: get refresh token: %w", err)
	}
	if len(fields) == 0 {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	return decodeToken(fields)
}

func (s *Store) GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error) {
	hash, err := s.rdb.Get(ctx, s.idKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("redis: get refresh token id: %w", err)
	}
	return s.GetRefreshTokenByHash(ctx, hash)
}

// RotateRefreshToken runs the whole check-and-swap as one Lua script, so
// Redis serialises concurrent rotations of the same token.
func (s *Store) RotateRefreshToken(
	ctx context.Context,
	oldHash string,
	next domain.RefreshToken,
	now time.Time,
) error {
	status, err := rotateLua.Run(ctx, s.rdb,
		[]string{
			s.tokenKey(oldHash),
			s.tokenKey(next.TokenHash),
			s.idKey(next.ID),
			s.userKey(next.UserID),
			s.sessionKey(next.SessionID),
		},
		s.prefix, oldHash, next.TokenHash, next.ID, next.UserID, next.SessionID,
		unixNano(next.IssuedAt), unixNano(next.ExpiresAt), unixNano(now), string(domain.ReasonRotated),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: rotate refresh token: %w", err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return store.ErrNotFound
	case rotateStatusRevoked:
		return store.ErrConflict
	case rotateStatusSuccessorLive:
		return store.ErrAlreadyExists
	default:
		return fmt.Errorf("redis: rotate refresh token: unexpected status %d", status)
	}
}

func (s *Store) RevokeRefreshToken(
	ctx context.Context,
	id string,
	reason domain.RevocationReason,
	now time.Time,
) (bool, error) {
	status, err := revokeLua.Run(ctx, s.rdb, []string{s.idKey(id)}, s.prefix, string(reason), unixNano(now)).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: revoke refresh token: %w", err)
	}

	switch status {
	case revokeStatusRevoked:
		return true, nil
	case revokeStatusNoop:
		return false, nil
	case revokeStatusNotFound:
		return false, store.ErrNotFound
	default:
		return false, fmt.Errorf("redis: revoke refresh token: unexpected status %d", status)
	}
}

func (s *Store) RevokeAllUserRefreshTokens(
	ctx context.Context,
	userID string,
	reason domain.RevocationReason,
	now time.Time,
) (int, error) {
	tokens, err := s.ListUserRefreshTokens(ctx, userID)
	if err != nil {
		return 0, err
	}

	var n int
	for _, t := range tokens {
		if t.Revoked {
			continue
		}
		ok, err := s.RevokeRefreshToken(ctx, t.ID, reason, now)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListUserRefreshTokens(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	hashes, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list refresh tokens: %w", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(hashes))
	_, err = s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, h := range hashes {
			cmds[i] = pipe.HGetAll(ctx, s.tokenKey(h))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: list refresh tokens: %w", err)
	}

	out := make([]domain.RefreshToken, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t, err := decodeToken(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	slices.SortFunc(out, func(a, b domain.RefreshToken) int {
		if c := b.IssuedAt.Compare(a.IssuedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

// CountActiveRefreshTokens scans every token record. It is meant for the
// periodic gauge, not for request paths.
func (s *Store) CountActiveRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	var (
		n      int
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.tokenPattern(), scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis: scan refresh tokens: %w", err)
		}

		if len(keys) > 0 {
			cmds := make([]*goredis.SliceCmd, len(keys))
			_, err = s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
				for i, k := range keys {
					cmds[i] = pipe.HMGet(ctx, k, "revoked", "expires_at")
				}
				return nil
			})
			if err != nil {
				return 0, fmt.Errorf("redis: count refresh tokens: %w", err)
			}
			for _, cmd := range cmds {
				if isActive(cmd.Val(), now) {
					n++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

func isActive(vals []any, now time.Time) bool {
	if len(vals) != 2 {
		return false
	}
	revoked, _ := vals[0].(string)
	raw, _ := vals[1].(string)
	if revoked != "0" {
		return false
	}
	exp, err := fromUnixNano(raw)
	return err == nil && now.Before(exp)
}

func decodeToken(f map[string]string) (domain.RefreshToken, error) {
	t := domain.RefreshToken{
		ID:               f["id"],
		UserID:           f["user_id"],
		TokenHash:        f["hash"],
		SessionID:        f["session_id"],
		Revoked:          f["revoked"] == "1",
		RevocationReason: domain.RevocationReason(f["reason"]),
		ReplacedBy:       f["replaced_by"],
	}

	var err error
	if t.IssuedAt, err = fromUnixNano(f["issued_at"]); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("redis: token %s issued_at: %w", t.ID, err)
	}
	if t.ExpiresAt, err = fromUnixNano(f["expires_at"]); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("redis: token %s expires_at: %w", t.ID, err)
	}
	if raw := f["revoked_at"]; raw != "" {
		at, err := fromUnixNano(raw)
		if err != nil {
			return domain.RefreshToken{}, fmt.Errorf("redis: token %s revoked_at: %w", t.ID, err)
		}
		t.RevokedAt = &at
	}
	return t, nil
}
