package infra

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LogEventSink grava eventos de segurança no logger estruturado.
//
// Cada tipo de evento tem seu próprio token bucket (x/time/rate): uma rajada
// de ataque não pode inundar o log. Eventos acima da taxa são descartados e
// contados em Dropped.
type LogEventSink struct {
	log   *zap.Logger
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  atomic.Int64
}

type EventSinkOption func(*LogEventSink)

// WithEventRate define a taxa sustentada e a rajada por tipo de evento.
// rps <= 0 desliga o throttling.
func WithEventRate(rps float64, burst int) EventSinkOption {
	return func(s *LogEventSink) {
		s.rps = rate.Limit(rps)
		s.burst = burst
	}
}

func NewLogEventSink(log *zap.Logger, opts ...EventSinkOption) *LogEventSink {
	if log == nil {
		log = zap.NewNop()
	}
	s := &LogEventSink{
		log:      log.Named("security"),
		rps:      rate.Limit(50),
		burst:    100,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.EventSink = (*LogEventSink)(nil)

func (s *LogEventSink) limiter(eventType string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[eventType]
	if !ok {
		lim = rate.NewLimiter(s.rps, s.burst)
		s.limiters[eventType] = lim
	}
	return lim
}

func (s *LogEventSink) Emit(_ context.Context, eventType string, payload map[string]any) {
	if s.rps > 0 && !s.limiter(eventType).Allow() {
		s.dropped.Add(1)
		return
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields, zap.String("event_type", eventType), zap.String("event_id", uuid.NewString()))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, payload[k]))
	}
	s.log.Warn("security event", fields...)
}

// Dropped retorna quantos eventos foram descartados pelo throttling.
func (s *LogEventSink) Dropped() int64 { return s.dropped.Load() }
