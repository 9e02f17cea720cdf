package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"abuse-guard/internal/config"
	"abuse-guard/internal/platform"
	"abuse-guard/middleware/ratelimit"
	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.UpstreamURL == "" {
		log.Fatalf("config error: UPSTREAM_URL is required")
	}

	logger, err := platform.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := platform.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store error", zap.Error(err))
	}
	defer func() { _ = stores.Close() }()
	if stores.Memory != nil {
		stores.Memory.StartJanitor(ctx)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promStats, err := infra.NewPrometheusStats(reg)
	if err != nil {
		logger.Fatal("metrics error", zap.Error(err))
	}
	stats := infra.MultiStats{promStats}
	if cfg.Stats.Enabled {
		stats = append(stats, infra.NewRedisStatsStore(
			stores.Redis,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	engine, events, err := platform.NewEngine(cfg, stores, stats, logger)
	if err != nil {
		logger.Fatal("guard configuration error", zap.Error(err))
	}

	router := ratelimit.Routes(ratelimit.RoutesOptions{
		Engine:             engine,
		Logger:             logger.Named("http"),
		AdminToken:         cfg.AdminToken,
		ServiceToken:       cfg.ServiceToken,
		TrustXForwardedFor: cfg.TrustXFF,
	})
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Handle("/*", ratelimit.Middleware(ratelimit.Options{
		Guard:               engine.API,
		UserHeader:          cfg.UserHeader,
		TrustXForwardedFor:  cfg.TrustXFF,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: cfg.AddRateLimitHeaders,
	})(proxy))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		logger.Info("gateway stopped", zap.Int64("security_events_dropped", events.Dropped()))
	}()

	rules := engine.Admin.Config()
	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", target.String()),
		zap.String("store", cfg.StoreType),
		zap.Duration("store_timeout", cfg.StoreTimeout))
	logger.Info("guard rules",
		zap.Int("login_limit", rules.LoginAttempts.Limit),
		zap.Int("login_window_minutes", rules.LoginAttempts.WindowMinutes),
		zap.Strings("api_endpoints", rules.EndpointNames()),
		zap.Bool("progressive_penalties", rules.ProgressivePenalties.Enabled),
		zap.Bool("admin_enabled", cfg.AdminToken != ""),
		zap.Bool("login_routes_enabled", cfg.ServiceToken != "" || cfg.AdminToken != ""),
		zap.Bool("trust_xff", cfg.TrustXFF))
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, admin routes will reject every request",
			zap.String("required_role", domain.RoleAdmin))
	}
	if cfg.ServiceToken == "" && cfg.AdminToken == "" {
		logger.Warn("SERVICE_TOKEN and ADMIN_TOKEN are empty, login routes will reject every request")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
