package application

import (
	"context"
	"fmt"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// LoginIPLimitMultiplier afrouxa o limite por IP: vários usuários podem
// compartilhar o mesmo IP/NAT.
const LoginIPLimitMultiplier = 2

// ViolationLoginFailure é o tipo de violação gravado em cada login com falha.
const ViolationLoginFailure = "login_failure"

// LoginGuard orquestra listas de IP, limites por usuário/IP e bloqueio
// progressivo das tentativas de autenticação.
type LoginGuard struct {
	*core
}

// Check avalia, em ordem e parando na primeira negação: blacklist, whitelist,
// limite do usuário, limite do IP e bloqueio progressivo. Falhas internas
// liberam a tentativa (fail-open) e são logadas.
func (g *LoginGuard) Check(ctx context.Context, email, ip string) (dec domain.Decision) {
	email = domain.NormalizeIdentifier(email)
	ip = domain.NormalizeIdentifier(ip)
	failOpen := false

	defer func() {
		if r := recover(); r != nil {
			dec = g.failOpen(ctx, domain.GuardLogin, "panic", fmt.Errorf("%v", r), zap.String("user", email), zap.String("ip", ip))
			failOpen = true
		}
		g.record(ctx, domain.StatsEvent{
			Guard:      domain.GuardLogin,
			Identifier: email,
			Allowed:    dec.Allowed,
			Reason:     dec.Reason,
			FailOpen:   failOpen,
		})
	}()

	rules := g.rules.snapshot()
	cfg := rules.cfg.LoginAttempts

	if ip != "" && rules.blacklist.Contains(ip) {
		g.events.Emit(ctx, domain.EventIPBlacklisted, map[string]any{"ip": ip, "user": email})
		return domain.Deny(domain.ReasonIPBlacklisted, "Access denied from this IP address", 0)
	}
	if !rules.whitelist.Empty() && !rules.whitelist.Contains(ip) {
		g.events.Emit(ctx, domain.EventIPNotWhitelisted, map[string]any{"ip": ip, "user": email})
		return domain.Deny(domain.ReasonIPNotWhitelisted, "Access is restricted to whitelisted IP addresses", 0)
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if email != "" {
		res, err := g.eval.Check(sctx, domain.LoginKey(domain.ScopeUser, email), cfg.Limit, cfg.Window())
		if err != nil {
			failOpen = true
			return g.failOpen(ctx, domain.GuardLogin, "user_limit", err, zap.String("user", email))
		}
		if !res.Allowed {
			return g.rateLimited(ctx, "user", email, ip, res.RetryAfter)
		}
	}

	if ip != "" {
		res, err := g.eval.Check(sctx, domain.LoginKey(domain.ScopeIP, ip), cfg.Limit*LoginIPLimitMultiplier, cfg.Window())
		if err != nil {
			failOpen = true
			return g.failOpen(ctx, domain.GuardLogin, "ip_limit", err, zap.String("ip", ip))
		}
		if !res.Allowed {
			return g.rateLimited(ctx, "ip", email, ip, res.RetryAfter)
		}
	}

	remaining, locked, err := g.store.TTL(sctx, domain.LockoutKey(email, ip))
	if err != nil {
		failOpen = true
		return g.failOpen(ctx, domain.GuardLogin, "lockout", err, zap.String("user", email), zap.String("ip", ip))
	}
	if locked {
		return domain.Deny(domain.ReasonProgressiveLockout,
			fmt.Sprintf("Account temporarily locked due to repeated failed attempts. Try again in %s.", humanMinutes(remaining)),
			remaining)
	}

	return domain.Allow()
}

func (g *LoginGuard) rateLimited(ctx context.Context, scope, email, ip string, retry time.Duration) domain.Decision {
	g.log.Debug("login rate limit exceeded", zap.String("scope", scope), zap.String("user", email), zap.String("ip", ip))
	g.events.Emit(ctx, domain.EventRateLimitExceeded, map[string]any{
		"guard": string(domain.GuardLogin),
		"scope": scope,
		"user":  email,
		"ip":    ip,
	})
	return domain.Deny(domain.ReasonRateLimitExceeded,
		fmt.Sprintf("Too many failed login attempts. Try again in %s.", humanMinutes(retry)),
		retry)
}

// Record grava o resultado real de um login, independente do que Check
// decidiu. Só falhas incrementam contadores; sucesso não mexe em nada.
func (g *LoginGuard) Record(ctx context.Context, email, ip string, success bool) {
	if success {
		return
	}

	email = domain.NormalizeIdentifier(email)
	ip = domain.NormalizeIdentifier(ip)

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("login attempt recording panicked", zap.Any("panic", r), zap.String("user", email), zap.String("ip", ip))
		}
	}()

	rules := g.rules.snapshot()
	window := rules.cfg.LoginAttempts.Window()

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var userCount int64
	if email != "" {
		n, err := g.eval.Hit(sctx, domain.LoginKey(domain.ScopeUser, email), window)
		if err != nil {
			g.log.Warn("failed to increment user login counter", zap.String("user", email), zap.Error(err))
		}
		userCount = n
	}
	if ip != "" {
		if _, err := g.eval.Hit(sctx, domain.LoginKey(domain.ScopeIP, ip), window); err != nil {
			g.log.Warn("failed to increment ip login counter", zap.String("ip", ip), zap.Error(err))
		}
	}

	if err := g.tracker.Record(sctx, email, ip, ViolationLoginFailure); err != nil {
		g.log.Warn("failed to record login violation", zap.String("user", email), zap.String("ip", ip), zap.Error(err))
	}

	g.events.Emit(ctx, domain.EventLoginFailure, map[string]any{"user": email, "ip": ip})

	if email != "" && ip != "" {
		g.trackUserSpread(sctx, rules.cfg.IPControls.MaxUsersPerIP, email, ip, window)
	}

	if rules.cfg.ProgressivePenalties.Enabled {
		g.applyProgressive(sctx, rules, email, ip)
		return
	}

	// Sem escada: bloqueio fixo quando o contador do usuário atinge o limite.
	la := rules.cfg.LoginAttempts
	if la.LockoutMinutes > 0 && userCount >= int64(la.Limit) {
		lockout := time.Duration(la.LockoutMinutes) * time.Minute
		if err := g.store.SetFlag(sctx, domain.LockoutKey(email, ip), lockout); err != nil {
			g.log.Warn("failed to set login lockout", zap.String("user", email), zap.String("ip", ip), zap.Error(err))
			return
		}
		g.events.Emit(ctx, domain.EventProgressiveLockout, map[string]any{
			"user":            email,
			"ip":              ip,
			"lockout_minutes": la.LockoutMinutes,
		})
	}
}

func (g *LoginGuard) trackUserSpread(ctx context.Context, maxUsers int, email, ip string, window time.Duration) {
	n, err := g.store.AddMember(ctx, domain.IPUsersKey(ip), email, window)
	if err != nil {
		g.log.Warn("failed to track users per ip", zap.String("ip", ip), zap.Error(err))
		return
	}
	if maxUsers > 0 && n > int64(maxUsers) {
		g.events.Emit(ctx, domain.EventIPUserSpread, map[string]any{
			"ip":               ip,
			"distinct_users":   n,
			"max_users_per_ip": maxUsers,
		})
	}
}

// ApplyProgressiveLockout resolve a escada com a contagem de violações do
// usuário (ou do IP, sem usuário) e grava a flag do par.
func (g *LoginGuard) ApplyProgressiveLockout(ctx context.Context, email, ip string) (time.Duration, bool) {
	email = domain.NormalizeIdentifier(email)
	ip = domain.NormalizeIdentifier(ip)

	rules := g.rules.snapshot()
	if !rules.cfg.ProgressivePenalties.Enabled {
		return 0, false
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.applyProgressive(sctx, rules, email, ip)
}

func (g *LoginGuard) applyProgressive(ctx context.Context, rules *compiledRules, email, ip string) (time.Duration, bool) {
	scope, id := domain.ScopeUser, email
	if id == "" {
		scope, id = domain.ScopeIP, ip
	}

	count, err := g.tracker.Count(ctx, scope, id, 24)
	if err != nil {
		g.log.Warn("failed to count violations", zap.String("scope", string(scope)), zap.String("identifier", id), zap.Error(err))
		return 0, false
	}

	lockout, applied, err := g.penalty.Apply(ctx, rules.cfg.ProgressivePenalties.ViolationLevels, email, ip, count)
	if err != nil {
		g.log.Warn("failed to apply progressive lockout", zap.String("user", email), zap.String("ip", ip), zap.Error(err))
		return 0, false
	}
	if applied {
		g.log.Info("progressive lockout applied",
			zap.String("user", email), zap.String("ip", ip),
			zap.Int("violations", count), zap.Duration("lockout", lockout))
	}
	return lockout, applied
}

// humanMinutes arredonda para cima em minutos ("1 minute", "15 minutes").
func humanMinutes(d time.Duration) string {
	m := int((d + time.Minute - 1) / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
