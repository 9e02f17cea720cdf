package infra

import (
	"context"
	"sync"

	"abuse-guard/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	FailOpen int64 `json:"fail_open"`
}

func (c *Counters) add(ev domain.StatsEvent) {
	switch {
	case !ev.Allowed:
		c.Denied++
	case ev.FailOpen:
		c.Allowed++
		c.FailOpen++
	default:
		c.Allowed++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byGuard  map[string]Counters
	byReason map[domain.Reason]int64
	byKey    map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byGuard:  make(map[string]Counters),
		byReason: make(map[domain.Reason]int64),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// guardLabel agrupa por guard e, no de API, pelo endpoint.
func guardLabel(ev domain.StatsEvent) string {
	if ev.Endpoint == "" {
		return string(ev.Guard)
	}
	return string(ev.Guard) + " " + ev.Endpoint
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)

	label := guardLabel(ev)
	c := s.byGuard[label]
	c.add(ev)
	s.byGuard[label] = c

	if !ev.Allowed {
		s.byReason[ev.Reason]++
	}

	if s.trackKeys && ev.Identifier != "" {
		k := s.byKey[ev.Identifier]
		k.add(ev)
		s.byKey[ev.Identifier] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByGuard() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byGuard))
	for k, v := range s.byGuard {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
