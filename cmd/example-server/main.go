package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"abuse-guard/middleware/ratelimit"
	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Exemplo: serviço de login usando o guard direto no processo (sem gateway).
// Credencial fixa demo@example.com / demo.
func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	store := infra.NewMemoryStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	rules := domain.DefaultConfig()
	rules.APIEndpoints["/reports"] = domain.EndpointLimit{Limit: 10, WindowMinutes: 1}

	engine, err := application.NewEngine(application.Options{
		Store:  store,
		Config: rules,
		Events: infra.NewLogEventSink(logger),
		Stats:  infra.NewMemoryStatsStore(),
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("engine error: %v", err)
	}

	clientIP := ratelimit.ClientIPFunc(true)

	r := chi.NewRouter()
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ip := clientIP(r)

		dec := engine.Login.Check(r.Context(), body.Email, ip)
		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfterSeconds()))
			http.Error(w, dec.Message, http.StatusTooManyRequests)
			return
		}

		ok := body.Email == "demo@example.com" && body.Password == "demo"
		engine.Login.Record(r.Context(), body.Email, ip, ok)
		if !ok {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("welcome\n"))
	})

	reports := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("report ok\n"))
	})
	r.Handle("/reports", ratelimit.Middleware(ratelimit.Options{
		Guard:               engine.API,
		UserHeader:          "X-User-Email",
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	})(reports))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
