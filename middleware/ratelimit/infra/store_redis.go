package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrScript incrementa e aplica o TTL apenas quando o contador nasce.
// INCR + PEXPIRE no mesmo script mantém o read-modify-write atômico.
var incrScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 and tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

var addMemberScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
redis.call('SADD', KEYS[1], ARGV[1])
if existed == 0 and tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return redis.call('SCARD', KEYS[1])
`)

// appendViolationScript grava o registro e poda o log pelo menor entre o
// relógio de quem grava e o TIME do servidor. Um gateway adiantado não apaga
// registros que os demais ainda contam.
var appendViolationScript = redis.NewScript(`
local t = redis.call('TIME')
local server = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local at = tonumber(ARGV[1])
redis.call('ZADD', KEYS[1], at, ARGV[2])
local cutoff = math.min(at, server) - tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', string.format('%.0f', cutoff))
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisStore implementa domain.Store sobre Redis, compartilhado entre
// processos do gateway.
//
// Logs de violação são sorted sets com score = timestamp em ms; o membro
// carrega o timestamp completo, o tipo e um id único.
type RedisStore struct {
	rdb       redis.UniversalClient
	scanCount int64
	now       domain.Clock
}

type RedisStoreOption func(*RedisStore)

func WithScanCount(n int64) RedisStoreOption {
	return func(s *RedisStore) { s.scanCount = n }
}

func WithRedisClock(now domain.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, scanCount: 200, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.Store = (*RedisStore)(nil)

func unavailable(op string, key domain.Key, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrStoreUnavailable, op, key, err)
}

func (s *RedisStore) Count(ctx context.Context, key domain.Key) (int64, error) {
	n, err := s.rdb.Get(ctx, string(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", key, err)
	}
	return n, nil
}

func (s *RedisStore) Increment(ctx context.Context, key domain.Key, window time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.rdb, []string{string(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

func (s *RedisStore) TTL(ctx context.Context, key domain.Key) (time.Duration, bool, error) {
	d, err := s.rdb.PTTL(ctx, string(key)).Result()
	if err != nil {
		return 0, false, unavailable("pttl", key, err)
	}
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	}
	return d, true, nil
}

func (s *RedisStore) SetFlag(ctx context.Context, key domain.Key, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, string(key), "1", ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...domain.Key) error {
	if len(keys) == 0 {
		return nil
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	if err := s.rdb.Del(ctx, raw...).Err(); err != nil {
		return unavailable("del", keys[0], err)
	}
	return nil
}

func encodeViolation(rec domain.ViolationRecord) string {
	return strconv.FormatInt(rec.Timestamp.UnixNano(), 10) + "|" + uuid.NewString() + "|" + rec.Kind
}

// decodeViolation lê "<nanos>|<id>|<kind>"; o tipo fica por último e pode conter "|".
func decodeViolation(member string) (domain.ViolationRecord, bool) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return domain.ViolationRecord{}, false
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return domain.ViolationRecord{}, false
	}
	return domain.ViolationRecord{Timestamp: time.Unix(0, nanos), Kind: parts[2]}, true
}

func (s *RedisStore) AppendViolation(ctx context.Context, key domain.Key, rec domain.ViolationRecord, retention, ttl time.Duration) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	err := appendViolationScript.Run(ctx, s.rdb, []string{string(key)},
		rec.Timestamp.UnixMilli(), encodeViolation(rec), retention.Milliseconds(), ttl.Milliseconds()).Err()
	if err != nil {
		return unavailable("zadd", key, err)
	}
	return nil
}

func (s *RedisStore) Violations(ctx context.Context, key domain.Key) ([]domain.ViolationRecord, error) {
	members, err := s.rdb.ZRange(ctx, string(key), 0, -1).Result()
	if err != nil {
		return nil, unavailable("zrange", key, err)
	}
	out := make([]domain.ViolationRecord, 0, len(members))
	for _, m := range members {
		if rec, ok := decodeViolation(m); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) AddMember(ctx context.Context, key domain.Key, member string, ttl time.Duration) (int64, error) {
	n, err := addMemberScript.Run(ctx, s.rdb, []string{string(key)}, member, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("sadd", key, err)
	}
	return n, nil
}

func (s *RedisStore) Members(ctx context.Context, key domain.Key) (int64, error) {
	n, err := s.rdb.SCard(ctx, string(key)).Result()
	if err != nil {
		return 0, unavailable("scard", key, err)
	}
	return n, nil
}

// escapeGlob escapa os metacaracteres do MATCH do SCAN.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *RedisStore) Purge(ctx context.Context, prefix, suffix string) (int, error) {
	pattern := escapeGlob(prefix) + "*" + escapeGlob(suffix)

	var batch []string
	n := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		deleted, err := s.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		n += int(deleted)
		batch = batch[:0]
		return nil
	}

	iter := s.rdb.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if !strings.HasPrefix(k, prefix) || !strings.HasSuffix(k, suffix) {
			continue
		}
		batch = append(batch, k)
		if int64(len(batch)) >= s.scanCount {
			if err := flush(); err != nil {
				return n, unavailable("del", domain.Key(pattern), err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, unavailable("scan", domain.Key(pattern), err)
	}
	if err := flush(); err != nil {
		return n, unavailable("del", domain.Key(pattern), err)
	}
	return n, nil
}
