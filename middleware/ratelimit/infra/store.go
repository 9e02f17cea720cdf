package infra

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"abuse-guard/middleware/ratelimit/domain"
)

// MemoryStore é uma implementação de infra do domain.Store em memória,
// com expiração por chave e limpeza periódica.
//
// Serve a um único processo (desenvolvimento, testes, gateway sem Redis).
// O relógio é injetável para testes de janela.
type MemoryStore struct {
	mu           sync.Mutex
	counters     map[domain.Key]*counterEntry
	logs         map[domain.Key]*logEntry
	sets         map[domain.Key]*setEntry
	now          domain.Clock
	cleanupEvery time.Duration
}

type counterEntry struct {
	count     int64
	expiresAt time.Time // zero = sem expiração
}

type logEntry struct {
	records   []domain.ViolationRecord
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

type StoreOption func(*MemoryStore)

func WithClock(now domain.Clock) StoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		counters:     make(map[domain.Key]*counterEntry),
		logs:         make(map[domain.Key]*logEntry),
		sets:         make(map[domain.Key]*setEntry),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.Store = (*MemoryStore)(nil)

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// counterLocked retorna o contador vivo, removendo-o se expirou.
func (s *MemoryStore) counterLocked(key domain.Key, now time.Time) *counterEntry {
	ent, ok := s.counters[key]
	if !ok {
		return nil
	}
	if expired(ent.expiresAt, now) {
		delete(s.counters, key)
		return nil
	}
	return ent
}

func (s *MemoryStore) Count(_ context.Context, key domain.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.counterLocked(key, s.now()); ent != nil {
		return ent.count, nil
	}
	return 0, nil
}

func (s *MemoryStore) Increment(_ context.Context, key domain.Key, window time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.counterLocked(key, now); ent != nil {
		ent.count++
		return ent.count, nil
	}
	s.counters[key] = &counterEntry{count: 1, expiresAt: expiry(now, window)}
	return 1, nil
}

func (s *MemoryStore) TTL(_ context.Context, key domain.Key) (time.Duration, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.counterLocked(key, now)
	if ent == nil {
		return 0, false, nil
	}
	if ent.expiresAt.IsZero() {
		return 0, true, nil
	}
	return ent.expiresAt.Sub(now), true, nil
}

// SetFlag grava a flag como um contador com valor 1.
func (s *MemoryStore) SetFlag(_ context.Context, key domain.Key, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key] = &counterEntry{count: 1, expiresAt: expiry(now, ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.counters, k)
		delete(s.logs, k)
		delete(s.sets, k)
	}
	return nil
}

func (s *MemoryStore) AppendViolation(_ context.Context, key domain.Key, rec domain.ViolationRecord, retention, ttl time.Duration) error {
	now := s.now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	cutoff := rec.Timestamp.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.logs[key]
	if !ok || expired(ent.expiresAt, now) {
		ent = &logEntry{}
		s.logs[key] = ent
	}

	kept := ent.records[:0]
	for _, r := range ent.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, rec)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })

	ent.records = kept
	ent.expiresAt = expiry(now, ttl)
	return nil
}

func (s *MemoryStore) Violations(_ context.Context, key domain.Key) ([]domain.ViolationRecord, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.logs[key]
	if !ok {
		return nil, nil
	}
	if expired(ent.expiresAt, now) {
		delete(s.logs, key)
		return nil, nil
	}
	out := make([]domain.ViolationRecord, len(ent.records))
	copy(out, ent.records)
	return out, nil
}

func (s *MemoryStore) AddMember(_ context.Context, key domain.Key, member string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.sets[key]
	if !ok || expired(ent.expiresAt, now) {
		ent = &setEntry{members: make(map[string]struct{}), expiresAt: expiry(now, ttl)}
		s.sets[key] = ent
	}
	ent.members[member] = struct{}{}
	return int64(len(ent.members)), nil
}

func (s *MemoryStore) Members(_ context.Context, key domain.Key) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.sets[key]
	if !ok {
		return 0, nil
	}
	if expired(ent.expiresAt, now) {
		delete(s.sets, key)
		return 0, nil
	}
	return int64(len(ent.members)), nil
}

func (s *MemoryStore) Purge(_ context.Context, prefix, suffix string) (int, error) {
	match := func(k domain.Key) bool {
		ks := string(k)
		return len(ks) >= len(prefix)+len(suffix) && strings.HasPrefix(ks, prefix) && strings.HasSuffix(ks, suffix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.counters {
		if match(k) {
			delete(s.counters, k)
			n++
		}
	}
	for k := range s.logs {
		if match(k) {
			delete(s.logs, k)
			n++
		}
	}
	for k := range s.sets {
		if match(k) {
			delete(s.sets, k)
			n++
		}
	}
	return n, nil
}

// Len retorna o número de chaves (inclusive expiradas ainda não limpas).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters) + len(s.logs) + len(s.sets)
}

func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.counters {
		if expired(ent.expiresAt, now) {
			delete(s.counters, k)
		}
	}
	for k, ent := range s.logs {
		if expired(ent.expiresAt, now) {
			delete(s.logs, k)
		}
	}
	for k, ent := range s.sets {
		if expired(ent.expiresAt, now) {
			delete(s.sets, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}
