package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

const minuteLayout = "200601021504"

// RedisStatsStore grava as decisões dos guards em hashes Redis compartilhados
// entre instâncias do gateway e mantém o ranking dos identificadores mais
// negados.
//
// Chaves, por guard:
//
//	<prefix>:<guard>:total             allowed / denied / fail_open (cumulativo)
//	<prefix>:<guard>:reason            negações por motivo
//	<prefix>:<guard>:endpoint          <endpoint>:<outcome>
//	<prefix>:<guard>:m:<yyyymmddhhmm>  série por minuto
//	<prefix>:<guard>:offenders         sorted set identificador -> negações
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl vale para a série por minuto e para o ranking; total não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	// trackKeys liga o ranking por identificador (cardinalidade alta).
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func statsField(ev domain.StatsEvent) string {
	switch {
	case !ev.Allowed:
		return "denied"
	case ev.FailOpen:
		return "fail_open"
	default:
		return "allowed"
	}
}

func (s *RedisStatsStore) guardKey(g domain.Guard) string {
	if g == "" {
		g = "unknown"
	}
	return s.prefix + ":" + string(g)
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	outcome := statsField(ev)
	base := s.guardKey(ev.Guard)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, base+":total", outcome, 1)

	if !ev.Allowed && ev.Reason != domain.ReasonNone {
		pipe.HIncrBy(ctx, base+":reason", string(ev.Reason), 1)
	}
	if ev.Endpoint != "" {
		pipe.HIncrBy(ctx, base+":endpoint", ev.Endpoint+":"+outcome, 1)
	}

	if s.bucket == "minute" {
		bucketKey := base + ":m:" + at.UTC().Format(minuteLayout)
		pipe.HIncrBy(ctx, bucketKey, outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackKeys && !ev.Allowed {
		if id := strings.TrimSpace(ev.Identifier); id != "" {
			rankKey := base + ":offenders"
			pipe.ZIncrBy(ctx, rankKey, 1, id)
			if s.ttl > 0 {
				pipe.Expire(ctx, rankKey, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

type Offender struct {
	Identifier string `json:"identifier"`
	Denied     int64  `json:"denied"`
}

// StatsSummary é a leitura agregada de um guard.
type StatsSummary struct {
	Guard        domain.Guard            `json:"guard"`
	Total        Counters                `json:"total"`
	Reasons      map[domain.Reason]int64 `json:"reasons"`
	Endpoints    map[string]Counters     `json:"endpoints,omitempty"`
	TopOffenders []Offender              `json:"top_offenders,omitempty"`
}

// Summary lê os totais do guard e os top identificadores mais negados.
func (s *RedisStatsStore) Summary(ctx context.Context, guard domain.Guard, top int) (StatsSummary, error) {
	base := s.guardKey(guard)

	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, base+":total")
	reasons := pipe.HGetAll(ctx, base+":reason")
	endpoints := pipe.HGetAll(ctx, base+":endpoint")
	var offenders *redis.ZSliceCmd
	if top > 0 {
		offenders = pipe.ZRevRangeWithScores(ctx, base+":offenders", 0, int64(top-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return StatsSummary{}, fmt.Errorf("read stats: %w", err)
	}

	sum := StatsSummary{
		Guard:   guard,
		Total:   countersFrom(total.Val()),
		Reasons: make(map[domain.Reason]int64),
	}
	for reason, v := range reasons.Val() {
		n, _ := strconv.ParseInt(v, 10, 64)
		sum.Reasons[domain.Reason(reason)] = n
	}

	perEndpoint := make(map[string]map[string]string)
	for field, v := range endpoints.Val() {
		i := strings.LastIndex(field, ":")
		if i <= 0 {
			continue
		}
		ep := field[:i]
		if perEndpoint[ep] == nil {
			perEndpoint[ep] = make(map[string]string)
		}
		perEndpoint[ep][field[i+1:]] = v
	}
	if len(perEndpoint) > 0 {
		sum.Endpoints = make(map[string]Counters, len(perEndpoint))
		for ep, fields := range perEndpoint {
			sum.Endpoints[ep] = countersFrom(fields)
		}
	}

	if offenders != nil {
		for _, z := range offenders.Val() {
			sum.TopOffenders = append(sum.TopOffenders, Offender{
				Identifier: fmt.Sprint(z.Member),
				Denied:     int64(z.Score),
			})
		}
	}
	return sum, nil
}

// countersFrom converte um hash allowed/denied/fail_open. Fail-open também
// conta como liberado, como no MemoryStatsStore.
func countersFrom(h map[string]string) Counters {
	get := func(f string) int64 {
		n, _ := strconv.ParseInt(h[f], 10, 64)
		return n
	}
	failOpen := get("fail_open")
	return Counters{
		Allowed:  get("allowed") + failOpen,
		Denied:   get("denied"),
		FailOpen: failOpen,
	}
}
