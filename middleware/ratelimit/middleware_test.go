package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
	"abuse-guard/middleware/ratelimit/infra"
)

func newEngine(t *testing.T, cfg domain.Config) *application.Engine {
	t.Helper()
	engine, err := application.NewEngine(application.Options{
		Store:  infra.NewMemoryStore(infra.WithCleanupEvery(0)),
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func endpointConfig(path string, limit int) domain.Config {
	cfg := domain.DefaultConfig()
	cfg.APIEndpoints[path] = domain.EndpointLimit{Limit: limit, WindowMinutes: 1}
	return cfg
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	engine := newEngine(t, endpointConfig("/showTela", 1))

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Guard:               engine.API,
		UserHeader:          "X-User-Email",
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	r1 := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	r1.Header.Set("X-User-Email", "a@b.com")
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Endpoint"); got != "/showTela" {
		t.Fatalf("expected X-RateLimit-Endpoint=/showTela, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Window"); got != "60" {
		t.Fatalf("expected X-RateLimit-Window=60, got %q", got)
	}

	// 2) segunda do mesmo usuário deve bloquear
	r2 := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	r2.Header.Set("X-User-Email", "a@b.com")
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}

	secs, err := strconv.Atoi(w2.Header().Get("Retry-After"))
	if err != nil || secs < 1 || secs > 60 {
		t.Fatalf("expected Retry-After in seconds within the window, got %q", w2.Header().Get("Retry-After"))
	}

	var body decisionResponse
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Allowed || body.Reason != domain.ReasonRateLimitExceeded || body.RetryAfter != secs {
		t.Fatalf("unexpected body: %+v", body)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_DistinctUsersShareTheLooserIPLimit(t *testing.T) {
	engine := newEngine(t, endpointConfig("/reports", 1))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Guard: engine.API, UserHeader: "X-User-Email"})(next)

	// três usuários no mesmo IP => cada um tem seu contador, o IP aguenta 3x
	for _, user := range []string{"u1@x.com", "u2@x.com", "u3@x.com", "u4@x.com"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/reports", nil)
		r.Header.Set("X-User-Email", user)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		want := http.StatusOK
		if user == "u4@x.com" {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("user %s: expected %d, got %d", user, want, w.Code)
		}
	}
}

func TestMiddleware_UnconfiguredEndpointPassesWithoutHeaders(t *testing.T) {
	engine := newEngine(t, endpointConfig("/reports", 1))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Guard: engine.API, AddRateLimitHeaders: true})(next)

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/health", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
			t.Fatalf("expected no rate limit headers, got %q", got)
		}
	}
}

func TestMiddleware_CustomRejectStatusAndEndpointFn(t *testing.T) {
	engine := newEngine(t, endpointConfig("reports", 1))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{
		Guard:        engine.API,
		RejectStatus: http.StatusServiceUnavailable,
		EndpointFn:   func(*http.Request) string { return "reports" },
	})(next)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/any/path", nil)
		r.RemoteAddr = "10.0.0.2:4321"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}

	// anônimo: só o contador de IP (1x3) vale
	want := []int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusServiceUnavailable}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}
}

func TestMiddleware_NilGuardIsPassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(Options{})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", w.Code)
	}
}
