package revocation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/campuslink/core/internal/pkg/apperr"
	pkgredis "github.com/campuslink/core/internal/pkg/redis"
)

const defaultKeyPrefix = "campus:revoked"

// RedisStore shares revocations across every server process.
type RedisStore struct {
	rc     *pkgredis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rc *pkgredis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rc: rc, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Kind() string { return KindRedis }

func (s *RedisStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 || token == "" {
		return nil
	}
	until := s.now().Add(ttl).UnixMilli()
	// NX: a second logout of the same token never shortens the first entry
	if _, err := s.rc.SetNX(ctx, s.key(token), strconv.FormatInt(until, 10), ttl); err != nil {
		return apperr.Transient("revoke", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	raw, err := s.rc.Get(ctx, s.key(token))
	if err != nil {
		return false, apperr.Transient("is revoked", err)
	}
	if raw == "" {
		return false, nil
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// unreadable entry still blocks; Redis TTL reclaims it
		return true, nil
	}
	return s.now().UnixMilli() <= until, nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + ":" + Key(token)
}
