package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"abuse-guard/middleware/ratelimit/application"
	"abuse-guard/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

// Options configura o middleware do guard de API.
type Options struct {
	Guard *application.APIGuard

	// EndpointFn dá o nome do endpoint usado em api_endpoints. Padrão: r.URL.Path.
	EndpointFn KeyFunc
	// UserFn extrai o usuário autenticado. Padrão: valor de UserHeader.
	UserFn     KeyFunc
	UserHeader string
	// KeyFn extrai o IP do cliente. Padrão: ClientIPFunc(TrustXForwardedFor).
	KeyFn              KeyFunc
	TrustXForwardedFor bool

	RejectStatus        int
	AddRateLimitHeaders bool
}

// HeaderFunc lê um header, sem espaços nas pontas.
func HeaderFunc(name string) KeyFunc {
	return func(r *http.Request) string {
		if name == "" {
			return ""
		}
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// ClientIPFunc devolve o IP do cliente: primeiro IP do X-Forwarded-For quando
// confiável, senão o host de RemoteAddr.
func ClientIPFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		return strings.TrimSpace(r.RemoteAddr)
	}
}

func pathEndpoint(r *http.Request) string { return r.URL.Path }

// Middleware aplica o guard de API antes do próximo handler. Negação vira
// 429 com Retry-After; endpoints sem limite configurado passam direto.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Guard == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.EndpointFn == nil {
		opts.EndpointFn = pathEndpoint
	}
	if opts.UserFn == nil {
		opts.UserFn = HeaderFunc(opts.UserHeader)
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ClientIPFunc(opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := opts.EndpointFn(r)

			if opts.AddRateLimitHeaders {
				if lim, ok := opts.Guard.Limits(endpoint); ok {
					w.Header().Set("X-RateLimit-Endpoint", endpoint)
					w.Header().Set("X-RateLimit-Limit", formatInt(lim.Limit))
					w.Header().Set("X-RateLimit-Window", formatInt(lim.WindowMinutes*60))
				}
			}

			dec := opts.Guard.Check(r.Context(), endpoint, opts.UserFn(r), opts.KeyFn(r))
			if !dec.Allowed {
				writeDenied(w, opts.RejectStatus, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeDenied responde a negação com Retry-After e o motivo estruturado.
func writeDenied(w http.ResponseWriter, status int, dec domain.Decision) {
	if secs := dec.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", formatInt(secs))
	}
	writeJSON(w, status, decisionBody(dec))
}
