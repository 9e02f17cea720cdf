package application

import (
	"context"
	"fmt"
	"strings"

	"abuse-guard/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// APIIPLimitMultiplier é mais frouxo que o do login: endpoints de leitura têm
// mais tráfego legítimo compartilhando IP.
const APIIPLimitMultiplier = 3

// APIGuard aplica o avaliador por (endpoint, usuário) e (endpoint, IP).
// Endpoints sem configuração passam direto.
type APIGuard struct {
	*core
}

// Limits informa o limite por usuário configurado para endpoint.
func (g *APIGuard) Limits(endpoint string) (domain.EndpointLimit, bool) {
	ep, ok := g.rules.snapshot().cfg.APIEndpoints[strings.TrimSpace(endpoint)]
	return ep, ok
}

// Check nega se o usuário ou o IP estouraram a janela; quando libera, conta
// a chamada nos dois contadores.
func (g *APIGuard) Check(ctx context.Context, endpoint, user, ip string) (dec domain.Decision) {
	endpoint = strings.TrimSpace(endpoint)
	user = domain.NormalizeIdentifier(user)
	ip = domain.NormalizeIdentifier(ip)

	ep, ok := g.rules.snapshot().cfg.APIEndpoints[endpoint]
	if !ok {
		return domain.Allow()
	}

	failOpen := false
	defer func() {
		if r := recover(); r != nil {
			dec = g.failOpen(ctx, domain.GuardAPI, "panic", fmt.Errorf("%v", r), zap.String("endpoint", endpoint))
			failOpen = true
		}
		identifier := user
		if identifier == "" {
			identifier = ip
		}
		g.record(ctx, domain.StatsEvent{
			Guard:      domain.GuardAPI,
			Endpoint:   endpoint,
			Identifier: identifier,
			Allowed:    dec.Allowed,
			Reason:     dec.Reason,
			FailOpen:   failOpen,
		})
	}()

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var hits []domain.RateLimitKey

	if user != "" {
		key := domain.APIKey(endpoint, domain.ScopeUser, user)
		res, err := g.eval.Check(sctx, key, ep.Limit, ep.Window())
		if err != nil {
			failOpen = true
			return g.failOpen(ctx, domain.GuardAPI, "user_limit", err, zap.String("endpoint", endpoint), zap.String("user", user))
		}
		if !res.Allowed {
			return g.rateLimited(ctx, "user", endpoint, user, ip, res)
		}
		hits = append(hits, key)
	}

	if ip != "" {
		key := domain.APIKey(endpoint, domain.ScopeIP, ip)
		res, err := g.eval.Check(sctx, key, ep.Limit*APIIPLimitMultiplier, ep.Window())
		if err != nil {
			failOpen = true
			return g.failOpen(ctx, domain.GuardAPI, "ip_limit", err, zap.String("endpoint", endpoint), zap.String("ip", ip))
		}
		if !res.Allowed {
			return g.rateLimited(ctx, "ip", endpoint, user, ip, res)
		}
		hits = append(hits, key)
	}

	for _, key := range hits {
		if _, err := g.eval.Hit(sctx, key, ep.Window()); err != nil {
			g.log.Warn("failed to count api call", zap.String("key", string(key.Store())), zap.Error(err))
		}
	}
	return domain.Allow()
}

func (g *APIGuard) rateLimited(ctx context.Context, scope, endpoint, user, ip string, res domain.Result) domain.Decision {
	g.log.Debug("api rate limit exceeded",
		zap.String("scope", scope), zap.String("endpoint", endpoint),
		zap.String("user", user), zap.String("ip", ip))
	g.events.Emit(ctx, domain.EventRateLimitExceeded, map[string]any{
		"guard":    string(domain.GuardAPI),
		"scope":    scope,
		"endpoint": endpoint,
		"user":     user,
		"ip":       ip,
	})
	return domain.Deny(domain.ReasonRateLimitExceeded,
		fmt.Sprintf("Rate limit exceeded for %s. Try again in %s.", endpoint, humanMinutes(res.RetryAfter)),
		res.RetryAfter)
}
