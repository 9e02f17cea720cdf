// Package platform monta as peças de infraestrutura compartilhadas pelos
// binários: logger, store e motor do guard.
package platform

import (
	"context"
	"fmt"
	"time"

	"abuse-guard/internal/config"
	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger cria o logger de produção no nível e formato pedidos.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch format {
	case "", "json":
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", format)
	}
	return zc.Build()
}

// Stores agrupa o store escolhido e, quando Redis, o cliente para fechar.
type Stores struct {
	Store  domain.Store
	Memory *infra.MemoryStore
	Redis  *redis.Client
}

func (s Stores) Close() error {
	if s.Redis != nil {
		return s.Redis.Close()
	}
	return nil
}

// OpenStore abre o store configurado. Com Redis, faz ping antes de seguir.
func OpenStore(ctx context.Context, cfg config.Config) (Stores, error) {
	switch cfg.StoreType {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return Stores{}, fmt.Errorf("redis ping error: %w", err)
		}
		return Stores{Store: infra.NewRedisStore(rdb), Redis: rdb}, nil
	default:
		mem := infra.NewMemoryStore()
		return Stores{Store: mem, Memory: mem}, nil
	}
}

// NewEngine liga store, eventos e estatísticas ao motor do guard.
func NewEngine(cfg config.Config, stores Stores, stats domain.StatsStore, log *zap.Logger) (*application.Engine, *infra.LogEventSink, error) {
	events := infra.NewLogEventSink(log, infra.WithEventRate(cfg.Events.RPS, cfg.Events.Burst))
	engine, err := application.NewEngine(application.Options{
		Store:        stores.Store,
		Config:       cfg.Rules,
		Events:       events,
		Stats:        stats,
		Logger:       log.Named("guard"),
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, events, nil
}
