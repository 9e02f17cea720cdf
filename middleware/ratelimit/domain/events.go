package domain

import "context"

// Tipos de eventos de segurança emitidos pelos guards e pelas operações administrativas.
const (
	EventIPBlacklisted      = "security.ip.blacklisted"
	EventIPNotWhitelisted   = "security.ip.not_whitelisted"
	EventRateLimitExceeded  = "security.ratelimit.exceeded"
	EventLoginFailure       = "security.auth.failure"
	EventProgressiveLockout = "security.progressive_lockout"
	EventIPUserSpread       = "security.ip_user_spread"
	EventStoreDegraded      = "security.store.degraded"
	EventAdminReset         = "security.admin.reset"
	EventAdminConfigure     = "security.admin.configure"
)

// EventSink recebe eventos de auditoria. Emit é fire-and-forget: não pode
// bloquear nem falhar a decisão do guard.
type EventSink interface {
	Emit(ctx context.Context, eventType string, payload map[string]any)
}

// NopSink descarta todos os eventos.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, map[string]any) {}

// Principal é quem invoca uma operação administrativa.
type Principal struct {
	Name  string
	Roles []string
}

// RoleAdmin é o papel exigido por reset/configure.
const RoleAdmin = "rate-limit-admin"

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
