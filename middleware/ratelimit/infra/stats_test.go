package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func denied(guard domain.Guard, endpoint, id string) domain.StatsEvent {
	return domain.StatsEvent{Guard: guard, Endpoint: endpoint, Identifier: id, Reason: domain.ReasonRateLimitExceeded}
}

func TestMemoryStatsStore_GroupsByGuardAndReason(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Guard: domain.GuardLogin, Identifier: "a@b.com", Allowed: true})
	_ = s.Record(ctx, domain.StatsEvent{Guard: domain.GuardLogin, Identifier: "a@b.com", Allowed: true, FailOpen: true})
	_ = s.Record(ctx, denied(domain.GuardAPI, "/api/reports", "a@b.com"))

	total := s.Total()
	require.Equal(t, Counters{Allowed: 2, Denied: 1, FailOpen: 1}, total)

	byGuard := s.ByGuard()
	require.Equal(t, int64(2), byGuard["login"].Allowed)
	require.Equal(t, int64(1), byGuard["api /api/reports"].Denied)

	require.Equal(t, int64(1), s.ByReason()[domain.ReasonRateLimitExceeded])
	require.Equal(t, int64(3), s.ByKey()["a@b.com"].Allowed+s.ByKey()["a@b.com"].Denied)
}

func newRedisStats(t *testing.T, opts ...RedisStatsOption) (*RedisStatsStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStatsStore(rdb, opts...), mr
}

func TestRedisStatsStore_WritesHashesPerGuard(t *testing.T) {
	s, mr := newRedisStats(t, WithStatsPrefix("test:stats:"), WithStatsTrackKeys(true))
	at := time.Date(2026, 1, 10, 12, 34, 0, 0, time.UTC)

	ev := denied(domain.GuardLogin, "", "1.2.3.4")
	ev.At = at
	require.NoError(t, s.Record(context.Background(), ev))

	require.Equal(t, "1", mr.HGet("test:stats:login:total", "denied"))
	require.Equal(t, "1", mr.HGet("test:stats:login:m:202601101234", "denied"))
	require.Equal(t, "1", mr.HGet("test:stats:login:reason", string(domain.ReasonRateLimitExceeded)))
	require.Equal(t, 24*time.Hour, mr.TTL("test:stats:login:m:202601101234"))
	require.Zero(t, mr.TTL("test:stats:login:total"), "totals never expire")

	score, err := mr.ZScore("test:stats:login:offenders", "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 1.0, score)
	require.False(t, mr.Exists("test:stats:login:endpoint"))
}

func TestRedisStatsStore_AllowedCallsDoNotRankOffenders(t *testing.T) {
	s, mr := newRedisStats(t, WithStatsTrackKeys(true), WithStatsBucket("none"))

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Guard: domain.GuardAPI, Endpoint: "/r", Identifier: "a", Allowed: true}))

	require.Equal(t, "1", mr.HGet("ratelimit:stats:api:endpoint", "/r:allowed"))
	require.False(t, mr.Exists("ratelimit:stats:api:offenders"))
}

func TestRedisStatsStore_Summary(t *testing.T) {
	s, _ := newRedisStats(t, WithStatsTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Guard: domain.GuardAPI, Endpoint: "/r", Identifier: "a", Allowed: true}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Guard: domain.GuardAPI, Endpoint: "/r", Identifier: "a", Allowed: true, FailOpen: true}))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, denied(domain.GuardAPI, "/r", "a")))
	}
	require.NoError(t, s.Record(ctx, denied(domain.GuardAPI, "/r", "b")))
	require.NoError(t, s.Record(ctx, denied(domain.GuardLogin, "", "c")))

	sum, err := s.Summary(ctx, domain.GuardAPI, 1)
	require.NoError(t, err)
	require.Equal(t, Counters{Allowed: 2, Denied: 4, FailOpen: 1}, sum.Total)
	require.Equal(t, int64(4), sum.Reasons[domain.ReasonRateLimitExceeded])
	require.Equal(t, Counters{Allowed: 2, Denied: 4, FailOpen: 1}, sum.Endpoints["/r"])
	require.Equal(t, []Offender{{Identifier: "a", Denied: 3}}, sum.TopOffenders)

	empty, err := s.Summary(ctx, "unknown", 5)
	require.NoError(t, err)
	require.Zero(t, empty.Total)
	require.Empty(t, empty.TopOffenders)
}

// counterValue lê o contador com os labels pedidos direto do registry.
func counterValue(t *testing.T, reg *prometheus.Registry, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "abuse_guard_decisions_total" {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestPrometheusStats_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheusStats(reg)
	require.NoError(t, err)

	ctx := context.Background()
	_ = p.Record(ctx, domain.StatsEvent{Guard: domain.GuardAPI, Endpoint: "/x", Allowed: true})
	_ = p.Record(ctx, denied(domain.GuardAPI, "/x", "u"))
	_ = p.Record(ctx, denied(domain.GuardAPI, "/x", "v"))

	require.Equal(t, 2.0, counterValue(t, reg, map[string]string{
		"guard": "api", "endpoint": "/x", "outcome": "denied", "reason": string(domain.ReasonRateLimitExceeded),
	}))
	require.Equal(t, 1.0, counterValue(t, reg, map[string]string{
		"guard": "api", "endpoint": "/x", "outcome": "allowed", "reason": "",
	}))

	_, err = NewPrometheusStats(reg)
	require.Error(t, err, "registering the same collector twice must fail")
}

type failingStats struct{}

func (failingStats) Record(context.Context, domain.StatsEvent) error { return errors.New("boom") }

func TestMultiStats_CallsEveryStore(t *testing.T) {
	mem := NewMemoryStatsStore()
	m := MultiStats{failingStats{}, nil, mem}

	err := m.Record(context.Background(), domain.StatsEvent{Guard: domain.GuardLogin, Allowed: true})
	require.Error(t, err)
	require.Equal(t, int64(1), mem.Total().Allowed)
}
