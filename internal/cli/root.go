// Package cli implementa o guardctl, a CLI administrativa do guard de abuso.
package cli

import (
	"context"
	"fmt"
	"os"

	"abuse-guard/internal/config"
	"abuse-guard/internal/platform"
	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
)

// EngineLoader abre o motor usado pelos comandos. O close devolvido libera o store.
type EngineLoader func(ctx context.Context) (*application.Engine, func(), error)

// DefaultLoader lê o ambiente como o gateway e abre o mesmo store.
func DefaultLoader(ctx context.Context) (*application.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreType != config.StoreRedis {
		fmt.Fprintln(os.Stderr, "warning: STORE_TYPE is not redis, guardctl will only see its own in-memory state")
	}

	logger, err := platform.NewLogger(cfg.LogLevel, "console")
	if err != nil {
		return nil, nil, err
	}

	stores, err := platform.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, _, err := platform.NewEngine(cfg, stores, nil, logger)
	if err != nil {
		_ = stores.Close()
		return nil, nil, err
	}
	return engine, func() {
		_ = logger.Sync()
		_ = stores.Close()
	}, nil
}

// StatsReader lê as estatísticas agregadas gravadas pelo gateway.
type StatsReader interface {
	Summary(ctx context.Context, guard domain.Guard, top int) (infra.StatsSummary, error)
}

// StatsLoader abre o leitor de estatísticas usado por "guardctl stats".
type StatsLoader func(ctx context.Context) (StatsReader, func(), error)

// DefaultStatsLoader lê as estatísticas do Redis do gateway.
func DefaultStatsLoader(ctx context.Context) (StatsReader, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreType != config.StoreRedis {
		return nil, nil, fmt.Errorf("stats require STORE_TYPE=%s", config.StoreRedis)
	}
	stores, err := platform.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	reader := infra.NewRedisStatsStore(stores.Redis, infra.WithStatsPrefix(cfg.Stats.Prefix))
	return reader, func() { _ = stores.Close() }, nil
}

// operator é o principal usado pela CLI: quem tem acesso ao store já é admin.
func operator() domain.Principal {
	name := os.Getenv("USER")
	if name == "" {
		name = "unknown"
	}
	return domain.Principal{Name: "guardctl:" + name, Roles: []string{domain.RoleAdmin}}
}

// NewRootCommand monta a árvore de comandos do guardctl.
func NewRootCommand(load EngineLoader, stats StatsLoader) *cobra.Command {
	if load == nil {
		load = DefaultLoader
	}
	if stats == nil {
		stats = DefaultStatsLoader
	}

	root := &cobra.Command{
		Use:           "guardctl",
		Short:         "Inspect and administer login/API rate limits",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStatusCommand(load))
	root.AddCommand(newResetCommand(load))
	root.AddCommand(newConfigCommand())
	root.AddCommand(newStatsCommand(stats))
	return root
}

// Execute roda o guardctl com os args do processo.
func Execute() error {
	return NewRootCommand(nil, nil).Execute()
}

func withEngine(cmd *cobra.Command, load EngineLoader, fn func(*application.Engine) error) error {
	engine, closeFn, err := load(cmd.Context())
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(engine)
}
