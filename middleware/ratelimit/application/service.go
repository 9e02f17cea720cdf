package application

import (
	"context"
	"errors"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// DefaultStoreTimeout limita cada chamada de guard ao store; estourou, fail-open.
const DefaultStoreTimeout = 200 * time.Millisecond

// Options agrega as dependências do motor. Só Store é obrigatório.
type Options struct {
	Store        domain.Store
	Config       domain.Config
	Events       domain.EventSink
	Stats        domain.StatsStore
	Logger       *zap.Logger
	Clock        domain.Clock
	StoreTimeout time.Duration
}

// Engine concentra os casos de uso do guard de abuso.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna decisões.
type Engine struct {
	Rules *Rules
	Login *LoginGuard
	API   *APIGuard
	Admin *Admin
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	rules, err := NewRules(opts.Config)
	if err != nil {
		return nil, err
	}

	c := newCore(opts, rules)
	return &Engine{
		Rules: rules,
		Login: &LoginGuard{core: c},
		API:   &APIGuard{core: c},
		Admin: &Admin{core: c},
	}, nil
}

// core são as dependências compartilhadas por guards e admin.
type core struct {
	store   domain.Store
	rules   *Rules
	eval    Evaluator
	tracker ViolationTracker
	penalty PenaltyResolver
	events  domain.EventSink
	stats   domain.StatsStore
	log     *zap.Logger
	now     domain.Clock
	timeout time.Duration
}

func newCore(opts Options, rules *Rules) *core {
	if opts.Events == nil {
		opts.Events = domain.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &core{
		store:   opts.Store,
		rules:   rules,
		eval:    Evaluator{Store: opts.Store},
		tracker: ViolationTracker{Store: opts.Store, Now: opts.Clock},
		penalty: PenaltyResolver{Store: opts.Store, Events: opts.Events},
		events:  opts.Events,
		stats:   opts.Stats,
		log:     opts.Logger,
		now:     opts.Clock,
		timeout: opts.StoreTimeout,
	}
}

func (c *core) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

// record envia a decisão ao StatsStore sem afetar o resultado. A gravação
// sobrevive ao cancelamento do pedido mas tem o mesmo teto de tempo do store.
func (c *core) record(ctx context.Context, ev domain.StatsEvent) {
	if c.stats == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ev.At = c.now()
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.stats.Record(rctx, ev); err != nil {
		c.log.Debug("stats record failed", zap.Error(err))
	}
}

// failOpen registra a degradação e libera a tentativa.
func (c *core) failOpen(ctx context.Context, guard domain.Guard, stage string, err error, fields ...zap.Field) domain.Decision {
	fields = append(fields, zap.String("guard", string(guard)), zap.String("stage", stage), zap.Error(err))
	c.log.Warn("rate limit check failed, allowing request", fields...)
	c.events.Emit(ctx, domain.EventStoreDegraded, map[string]any{
		"guard": string(guard),
		"stage": stage,
		"error": err.Error(),
	})
	return domain.Allow()
}
