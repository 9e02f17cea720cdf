package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
)

const (
	testToken        = "s3cret"
	testServiceToken = "login-svc"
)

func newRoutes(t *testing.T, cfg domain.Config) (http.Handler, *application.Engine) {
	t.Helper()
	engine := newEngine(t, cfg)
	return Routes(RoutesOptions{Engine: engine, AdminToken: testToken, ServiceToken: testServiceToken}), engine
}

func do(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+path, strings.NewReader(body))
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) decisionResponse {
	t.Helper()
	var body decisionResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	return body
}

func TestRoutes_LoginCheckAndAttempts(t *testing.T) {
	h, _ := newRoutes(t, domain.DefaultConfig())
	login := `{"email":"a@b.com","ip":"1.2.3.4"}`

	w := do(h, http.MethodPost, "/auth/login/check", login, testServiceToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeDecision(t, w); !body.Allowed {
		t.Fatalf("expected allowed, got %+v", body)
	}

	failure := `{"email":"a@b.com","ip":"1.2.3.4","success":false}`
	for i := 0; i < 3; i++ {
		if w := do(h, http.MethodPost, "/auth/login/attempts", failure, testServiceToken); w.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: expected 204, got %d", i+1, w.Code)
		}
	}

	w = do(h, http.MethodPost, "/auth/login/check", login, testServiceToken)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header to be set")
	}
	body := decodeDecision(t, w)
	if body.Reason != domain.ReasonProgressiveLockout || body.RetryAfter <= 0 || body.Message == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRoutes_SuccessfulAttemptDoesNotCount(t *testing.T) {
	h, _ := newRoutes(t, domain.DefaultConfig())

	for i := 0; i < 10; i++ {
		do(h, http.MethodPost, "/auth/login/attempts", `{"email":"a@b.com","ip":"1.2.3.4","success":true}`, testServiceToken)
	}
	if w := do(h, http.MethodPost, "/auth/login/check", `{"email":"a@b.com","ip":"1.2.3.4"}`, testServiceToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRoutes_LoginRoutesRequireServiceToken(t *testing.T) {
	h, engine := newRoutes(t, domain.DefaultConfig())
	failure := `{"email":"victim@b.com","ip":"10.0.0.1","success":false}`

	for _, path := range []string{"/auth/login/check", "/auth/login/attempts"} {
		for _, token := range []string{"", "wrong"} {
			w := do(h, http.MethodPost, path, failure, token)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("%s token=%q: expected 401, got %d", path, token, w.Code)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("%s: expected WWW-Authenticate header", path)
			}
		}
	}
	for i := 0; i < 5; i++ {
		do(h, http.MethodPost, "/auth/login/attempts", failure, "")
	}

	st, err := engine.Admin.Status(context.Background(), "victim@b.com", "10.0.0.1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.User.Count != 0 || st.UserViolations != 0 || st.Lockout.Active {
		t.Fatalf("unauthenticated attempts must not be recorded: %+v", st)
	}

	// o token admin também serve
	if w := do(h, http.MethodPost, "/auth/login/check", failure, testToken); w.Code != http.StatusOK {
		t.Fatalf("admin token: expected 200, got %d", w.Code)
	}
}

func TestRoutes_NoTokensConfiguredRejectsLoginRoutes(t *testing.T) {
	h := Routes(RoutesOptions{Engine: newEngine(t, domain.DefaultConfig())})

	if w := do(h, http.MethodPost, "/auth/login/check", `{"email":"a@b.com"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRoutes_BlacklistedIPFromRemoteAddrIsForbidden(t *testing.T) {
	cfg := domain.DefaultConfig()
	// httptest.NewRequest usa 192.0.2.1 como RemoteAddr
	cfg.IPControls.BlacklistIPs = []string{"192.0.2.0/24"}
	h, _ := newRoutes(t, cfg)

	w := do(h, http.MethodPost, "/auth/login/check", `{"email":"a@b.com"}`, testServiceToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "" {
		t.Fatalf("expected no Retry-After for blacklisted ip")
	}
	if body := decodeDecision(t, w); body.Reason != domain.ReasonIPBlacklisted {
		t.Fatalf("expected IP_BLACKLISTED, got %+v", body)
	}
}

func TestRoutes_InvalidJSON(t *testing.T) {
	h, _ := newRoutes(t, domain.DefaultConfig())

	for _, path := range []string{"/auth/login/check", "/auth/login/attempts"} {
		if w := do(h, http.MethodPost, path, `{"email":`, testServiceToken); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, w.Code)
		}
	}
	if w := do(h, http.MethodPost, "/admin/ratelimit/reset", `nope`, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("reset: expected 400, got %d", w.Code)
	}
}

func TestRoutes_AdminRequiresToken(t *testing.T) {
	h, _ := newRoutes(t, domain.DefaultConfig())

	cases := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/admin/ratelimit/config", ""},
		{http.MethodPut, "/admin/ratelimit/config", `{"login_attempts":{"limit":0}}`},
		{http.MethodPost, "/admin/ratelimit/reset", `{"email":"a@b.com"}`},
		{http.MethodGet, "/auth/login/status?email=a@b.com", ""},
	}
	for _, tc := range cases {
		for _, token := range []string{"", "wrong"} {
			if w := do(h, tc.method, tc.path, tc.body, token); w.Code != http.StatusForbidden {
				t.Fatalf("%s %s token=%q: expected 403, got %d", tc.method, tc.path, token, w.Code)
			}
		}
	}
}

func TestRoutes_EmptyAdminTokenAcceptsNobody(t *testing.T) {
	engine := newEngine(t, domain.DefaultConfig())
	h := Routes(RoutesOptions{Engine: engine})

	r := httptest.NewRequest(http.MethodGet, "http://example/admin/ratelimit/config", nil)
	r.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRoutes_ConfigRoundTrip(t *testing.T) {
	h, engine := newRoutes(t, domain.DefaultConfig())

	w := do(h, http.MethodGet, "/admin/ratelimit/config", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cfg domain.Config
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.LoginAttempts.Limit != 5 {
		t.Fatalf("expected default login limit 5, got %d", cfg.LoginAttempts.Limit)
	}

	body := `{"login_attempts":{"limit":3,"window_minutes":10,"lockout_minutes":5},"api_endpoints":{"/api/reports":{"limit":7,"window_minutes":1}}}`
	w = do(h, http.MethodPut, "/admin/ratelimit/config", body, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	active := engine.Admin.Config()
	if active.LoginAttempts.Limit != 3 || active.APIEndpoints["/api/reports"].Limit != 7 {
		t.Fatalf("configuration not applied: %+v", active)
	}
	if len(active.ProgressivePenalties.ViolationLevels) != 4 {
		t.Fatalf("expected default penalty ladder, got %+v", active.ProgressivePenalties.ViolationLevels)
	}
}

func TestRoutes_InvalidConfigKeepsPrevious(t *testing.T) {
	h, engine := newRoutes(t, domain.DefaultConfig())

	w := do(h, http.MethodPut, "/admin/ratelimit/config", `{"login_attempts":{"limit":0,"window_minutes":15}}`, testToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Field != "login_attempts.limit" {
		t.Fatalf("expected field login_attempts.limit, got %+v", resp)
	}

	if w := do(h, http.MethodPut, "/admin/ratelimit/config", `{"login_attempt":{}}`, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown key: expected 400, got %d", w.Code)
	}

	if got := engine.Admin.Config().LoginAttempts.Limit; got != 5 {
		t.Fatalf("expected previous config to stay active, got limit %d", got)
	}
}

func TestRoutes_ResetAndStatus(t *testing.T) {
	h, _ := newRoutes(t, domain.DefaultConfig())
	login := `{"email":"a@b.com","ip":"1.2.3.4"}`

	for i := 0; i < 3; i++ {
		do(h, http.MethodPost, "/auth/login/attempts", login, testServiceToken)
	}

	w := do(h, http.MethodGet, "/auth/login/status?email=a@b.com&ip=1.2.3.4", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st application.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Lockout.Active || st.UserViolations != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}

	w = do(h, http.MethodPost, "/admin/ratelimit/reset", login, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res application.ResetResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode reset: %v", err)
	}
	if res.LockoutsCleared != 1 {
		t.Fatalf("expected one lockout cleared, got %+v", res)
	}

	if w := do(h, http.MethodPost, "/auth/login/check", login, testServiceToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after reset, got %d", w.Code)
	}

	if w := do(h, http.MethodPost, "/admin/ratelimit/reset", `{}`, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("empty reset: expected 400, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/auth/login/status", "", testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("empty status: expected 400, got %d", w.Code)
	}
}
