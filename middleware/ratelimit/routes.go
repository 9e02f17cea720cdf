package ratelimit

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes limita corpos de login e de configuração.
const maxBodyBytes = 1 << 20

// RoutesOptions configura as rotas de login e administração.
type RoutesOptions struct {
	Engine *application.Engine
	Logger *zap.Logger

	// AdminToken é o bearer token que vale o papel de administrador.
	// Vazio: nenhum token é aceito e toda rota admin responde 403.
	AdminToken string
	// AdminPrincipal nomeia quem usa o token nos logs/eventos.
	AdminPrincipal string
	// ServiceToken autentica o serviço de login em /auth/login/check e
	// /auth/login/attempts. O AdminToken também vale. Sem nenhum dos dois,
	// essas rotas respondem 401.
	ServiceToken string

	// KeyFn extrai o IP quando o corpo não informa. Padrão: ClientIPFunc(TrustXForwardedFor).
	KeyFn              KeyFunc
	TrustXForwardedFor bool
}

type handlers struct {
	engine *application.Engine
	log    *zap.Logger
	token  string
	svc    string
	name   string
	ipFn   KeyFunc
}

// Routes monta o router chi com:
//
//	POST /auth/login/check       decide se a tentativa pode prosseguir (serviço)
//	POST /auth/login/attempts    grava o resultado real da tentativa (serviço)
//	GET  /auth/login/status      snapshot de diagnóstico (admin)
//	POST /admin/ratelimit/reset  limpa contadores/bloqueios (admin)
//	GET  /admin/ratelimit/config configuração ativa (admin)
//	PUT  /admin/ratelimit/config troca a configuração (admin)
func Routes(opts RoutesOptions) chi.Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AdminPrincipal == "" {
		opts.AdminPrincipal = "admin-token"
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ClientIPFunc(opts.TrustXForwardedFor)
	}

	h := &handlers{
		engine: opts.Engine,
		log:    opts.Logger,
		token:  opts.AdminToken,
		svc:    opts.ServiceToken,
		name:   opts.AdminPrincipal,
		ipFn:   opts.KeyFn,
	}

	r := chi.NewRouter()
	r.Route("/auth/login", func(r chi.Router) {
		r.With(h.requireService).Post("/check", h.loginCheck)
		r.With(h.requireService).Post("/attempts", h.loginAttempt)
		r.Get("/status", h.status)
	})
	r.Route("/admin/ratelimit", func(r chi.Router) {
		r.Post("/reset", h.reset)
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
	})
	return r
}

// bearerMatches compara o bearer token do pedido com want. want vazio não
// casa com nada.
func bearerMatches(r *http.Request, want string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(want)) == 1
}

// principal traduz o bearer token. Token ausente ou errado vira um principal
// anônimo sem papéis; a autorização fica com a camada application.
func (h *handlers) principal(r *http.Request) domain.Principal {
	if !bearerMatches(r, h.token) {
		return domain.Principal{Name: "anonymous"}
	}
	return domain.Principal{Name: h.name, Roles: []string{domain.RoleAdmin}}
}

// requireService barra quem não é o serviço de login. Só ele pode gravar
// falhas em nome de um usuário e informar o IP do cliente no corpo.
func (h *handlers) requireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !bearerMatches(r, h.svc) && !bearerMatches(r, h.token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="abuse-guard"`)
			writeError(w, http.StatusUnauthorized, "service token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Email   string `json:"email"`
	IP      string `json:"ip"`
	Success bool   `json:"success"`
}

func (h *handlers) decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return loginRequest{}, false
	}
	if strings.TrimSpace(req.IP) == "" {
		req.IP = h.ipFn(r)
	}
	return req, true
}

// statusFor separa bloqueio por lista de IP (403) de excesso de tentativas (429).
func statusFor(dec domain.Decision) int {
	switch dec.Reason {
	case domain.ReasonIPBlacklisted, domain.ReasonIPNotWhitelisted:
		return http.StatusForbidden
	}
	return http.StatusTooManyRequests
}

func (h *handlers) loginCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLogin(w, r)
	if !ok {
		return
	}
	dec := h.engine.Login.Check(r.Context(), req.Email, req.IP)
	if !dec.Allowed {
		writeDenied(w, statusFor(dec), dec)
		return
	}
	writeJSON(w, http.StatusOK, decisionBody(dec))
}

func (h *handlers) loginAttempt(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLogin(w, r)
	if !ok {
		return
	}
	h.engine.Login.Record(r.Context(), req.Email, req.IP, req.Success)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	p := h.principal(r)
	if err := h.engine.Admin.Authorize(p, "read rate limit status"); err != nil {
		h.writeAdminError(w, err)
		return
	}
	q := r.URL.Query()
	st, err := h.engine.Admin.Status(r.Context(), q.Get("email"), q.Get("ip"))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	var req application.ResetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.engine.Admin.Reset(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Admin.Authorize(h.principal(r), "read rate limit configuration"); err != nil {
		h.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Admin.Config())
}

func (h *handlers) putConfig(w http.ResponseWriter, r *http.Request) {
	p := h.principal(r)
	// autoriza antes de ler o corpo: sem privilégio, nada é validado
	if err := h.engine.Admin.Authorize(p, "configure rate limits"); err != nil {
		h.writeAdminError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	cfg, err := domain.ParseConfigJSON(body)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	active, err := h.engine.Admin.Configure(r.Context(), p, cfg)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *handlers) writeAdminError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case domain.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case domain.IsConfigInvalid(err), errors.Is(err, domain.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("admin operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
