package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Admin agrupa as operações privilegiadas e o snapshot de diagnóstico.
//
// Diferente dos guards, nada aqui faz fail-open: erros sempre sobem.
type Admin struct {
	*core
}

// CounterStatus é a foto de um contador de janela fixa.
type CounterStatus struct {
	Key            string `json:"key"`
	Count          int64  `json:"count"`
	Limit          int    `json:"limit"`
	Remaining      int    `json:"remaining"`
	ResetInSeconds int    `json:"reset_in_seconds"`
}

type LockoutStatus struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// Status é o snapshot somente leitura de um par (usuário, ip).
type Status struct {
	Email             string         `json:"email,omitempty"`
	IP                string         `json:"ip,omitempty"`
	User              *CounterStatus `json:"user,omitempty"`
	IPCounter         *CounterStatus `json:"ip_counter,omitempty"`
	UserViolations    int            `json:"user_violations"`
	IPViolations      int            `json:"ip_violations"`
	Lockout           LockoutStatus  `json:"lockout"`
	Whitelisted       bool           `json:"whitelisted"`
	Blacklisted       bool           `json:"blacklisted"`
	DistinctUsersOnIP int64          `json:"distinct_users_on_ip"`
	PenaltiesEnabled  bool           `json:"progressive_penalties_enabled"`
}

// Authorize verifica se p pode executar action.
func (a *Admin) Authorize(p domain.Principal, action string) error {
	if !p.HasRole(domain.RoleAdmin) {
		return &domain.AuthError{Principal: p.Name, Action: action}
	}
	return nil
}

func ceilSeconds(d time.Duration) int {
	return domain.Decision{RetryAfter: d}.RetryAfterSeconds()
}

func (a *Admin) counterStatus(ctx context.Context, key domain.RateLimitKey, limit int) (*CounterStatus, error) {
	k := key.Store()
	count, err := a.store.Count(ctx, k)
	if err != nil {
		return nil, err
	}
	st := &CounterStatus{Key: string(k), Count: count, Limit: limit}
	if rem := limit - int(count); rem > 0 {
		st.Remaining = rem
	}
	if count > 0 {
		ttl, ok, err := a.store.TTL(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			st.ResetInSeconds = ceilSeconds(ttl)
		}
	}
	return st, nil
}

// Status monta o snapshot de diagnóstico. Não muta nada.
func (a *Admin) Status(ctx context.Context, email, ip string) (Status, error) {
	email = domain.NormalizeIdentifier(email)
	ip = domain.NormalizeIdentifier(ip)
	if email == "" && ip == "" {
		return Status{}, fmt.Errorf("%w: email or ip is required", domain.ErrInvalidIdentifier)
	}

	rules := a.rules.snapshot()
	la := rules.cfg.LoginAttempts
	st := Status{
		Email:            email,
		IP:               ip,
		PenaltiesEnabled: rules.cfg.ProgressivePenalties.Enabled,
	}

	sctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var err error
	if email != "" {
		if st.User, err = a.counterStatus(sctx, domain.LoginKey(domain.ScopeUser, email), la.Limit); err != nil {
			return Status{}, fmt.Errorf("user counter: %w", err)
		}
		if st.UserViolations, err = a.tracker.Count(sctx, domain.ScopeUser, email, 24); err != nil {
			return Status{}, fmt.Errorf("user violations: %w", err)
		}
	}
	if ip != "" {
		if st.IPCounter, err = a.counterStatus(sctx, domain.LoginKey(domain.ScopeIP, ip), la.Limit*LoginIPLimitMultiplier); err != nil {
			return Status{}, fmt.Errorf("ip counter: %w", err)
		}
		if st.IPViolations, err = a.tracker.Count(sctx, domain.ScopeIP, ip, 24); err != nil {
			return Status{}, fmt.Errorf("ip violations: %w", err)
		}
		if st.DistinctUsersOnIP, err = a.store.Members(sctx, domain.IPUsersKey(ip)); err != nil {
			return Status{}, fmt.Errorf("users per ip: %w", err)
		}
		st.Whitelisted = rules.whitelist.Contains(ip)
		st.Blacklisted = rules.blacklist.Contains(ip)
	}

	remaining, locked, err := a.store.TTL(sctx, domain.LockoutKey(email, ip))
	if err != nil {
		return Status{}, fmt.Errorf("lockout: %w", err)
	}
	st.Lockout = LockoutStatus{Active: locked, RemainingSeconds: ceilSeconds(remaining)}
	return st, nil
}

type ResetRequest struct {
	Email string `json:"email"`
	IP    string `json:"ip"`
}

type ResetResult struct {
	Keys              []string `json:"keys"`
	APICountersPurged int      `json:"api_counters_purged"`
	LockoutsCleared   int      `json:"lockouts_cleared"`
}

// resetKeys lista as chaves fixas dos identificadores do pedido. Contadores
// de API e flags de bloqueio são achados por varredura.
func resetKeys(email, ip string) []domain.Key {
	var keys []domain.Key
	if email != "" {
		keys = append(keys,
			domain.LoginKey(domain.ScopeUser, email).Store(),
			domain.ViolationsKey(domain.ScopeUser, email),
		)
	}
	if ip != "" {
		keys = append(keys,
			domain.LoginKey(domain.ScopeIP, ip).Store(),
			domain.ViolationsKey(domain.ScopeIP, ip),
			domain.IPUsersKey(ip),
		)
	}
	return keys
}

// PlanReset lista as chaves que Reset apagaria diretamente, sem contar
// contadores de API e flags de bloqueio.
func (a *Admin) PlanReset(req ResetRequest) []string {
	keys := resetKeys(domain.NormalizeIdentifier(req.Email), domain.NormalizeIdentifier(req.IP))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// Reset apaga contadores, logs e flags dos identificadores informados, em
// qualquer endpoint que já tenha existido. Repetir o pedido não gera erro.
func (a *Admin) Reset(ctx context.Context, p domain.Principal, req ResetRequest) (ResetResult, error) {
	if err := a.Authorize(p, "reset rate limits"); err != nil {
		return ResetResult{}, err
	}

	email := domain.NormalizeIdentifier(req.Email)
	ip := domain.NormalizeIdentifier(req.IP)
	if email == "" && ip == "" {
		return ResetResult{}, fmt.Errorf("%w: email or ip is required", domain.ErrInvalidIdentifier)
	}

	keys := resetKeys(email, ip)

	sctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.store.Delete(sctx, keys...); err != nil {
		return ResetResult{}, fmt.Errorf("reset rate limits: %w", err)
	}

	res := ResetResult{Keys: make([]string, len(keys))}
	for i, k := range keys {
		res.Keys[i] = string(k)
	}

	purge := func(prefix, suffix string) (int, error) {
		return a.store.Purge(sctx, prefix, suffix)
	}
	if email != "" {
		n, err := purge(domain.APIPrefix, domain.APIScopeSuffix(domain.ScopeUser, email))
		if err != nil {
			return res, fmt.Errorf("reset api counters: %w", err)
		}
		res.APICountersPurged += n

		if n, err = purge(domain.LockoutUserPrefix(email), ""); err != nil {
			return res, fmt.Errorf("reset lockouts: %w", err)
		}
		res.LockoutsCleared += n
	}
	if ip != "" {
		n, err := purge(domain.APIPrefix, domain.APIScopeSuffix(domain.ScopeIP, ip))
		if err != nil {
			return res, fmt.Errorf("reset api counters: %w", err)
		}
		res.APICountersPurged += n

		if n, err = purge(domain.LockoutPrefix, domain.LockoutIPSuffix(ip)); err != nil {
			return res, fmt.Errorf("reset lockouts: %w", err)
		}
		res.LockoutsCleared += n
	}

	a.log.Info("rate limits reset",
		zap.String("principal", p.Name), zap.String("user", email), zap.String("ip", ip),
		zap.Int("keys", len(keys)), zap.Int("api_counters_purged", res.APICountersPurged),
		zap.Int("lockouts_cleared", res.LockoutsCleared))
	a.events.Emit(ctx, domain.EventAdminReset, map[string]any{
		"principal":        p.Name,
		"user":             email,
		"ip":               ip,
		"lockouts_cleared": res.LockoutsCleared,
	})
	return res, nil
}

// Configure valida cfg e troca a configuração ativa. Em erro, a anterior
// continua valendo.
func (a *Admin) Configure(ctx context.Context, p domain.Principal, cfg domain.Config) (domain.Config, error) {
	if err := a.Authorize(p, "configure rate limits"); err != nil {
		return domain.Config{}, err
	}
	if err := a.rules.Replace(cfg); err != nil {
		a.log.Warn("rejected rate limit configuration", zap.String("principal", p.Name), zap.Error(err))
		return domain.Config{}, err
	}

	active := a.rules.Config()
	a.log.Info("rate limit configuration replaced",
		zap.String("principal", p.Name),
		zap.Int("login_limit", active.LoginAttempts.Limit),
		zap.Strings("endpoints", active.EndpointNames()),
		zap.Bool("progressive_penalties", active.ProgressivePenalties.Enabled))
	a.events.Emit(ctx, domain.EventAdminConfigure, map[string]any{
		"principal": p.Name,
		"endpoints": strings.Join(active.EndpointNames(), ","),
	})
	return active, nil
}

// Config devolve a configuração ativa.
func (a *Admin) Config() domain.Config {
	return a.rules.Config()
}
