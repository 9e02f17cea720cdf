package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strings"
	"time"
)

const keyPrefix = "ratelimit"

// Scope identifica o tipo de identificador de um contador ou log.
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeIP       Scope = "ip"
	ScopeEndpoint Scope = "endpoint"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeIP, ScopeEndpoint:
		return true
	}
	return false
}

// Key é a chave já renderizada no store.
type Key string

// RateLimitKey é a identidade composta de um contador.
//
// Endpoint vazio significa o guard de login; preenchido, o guard de API.
type RateLimitKey struct {
	Scope      Scope
	Endpoint   string
	Identifier string
}

// NormalizeIdentifier remove espaços e coloca em minúsculas (e-mails e IPs).
func NormalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// LoginKey monta a chave de contador do guard de login.
func LoginKey(scope Scope, identifier string) RateLimitKey {
	return RateLimitKey{Scope: scope, Identifier: NormalizeIdentifier(identifier)}
}

// APIKey monta a chave de contador de um endpoint.
func APIKey(endpoint string, scope Scope, identifier string) RateLimitKey {
	return RateLimitKey{
		Scope:      scope,
		Endpoint:   strings.TrimSpace(endpoint),
		Identifier: NormalizeIdentifier(identifier),
	}
}

// Store renderiza a chave: ratelimit:login:user:<id> ou ratelimit:api:<endpoint>:ip:<id>.
func (k RateLimitKey) Store() Key {
	if k.Endpoint == "" {
		return Key(keyPrefix + ":login:" + string(k.Scope) + ":" + k.Identifier)
	}
	return Key(keyPrefix + ":api:" + k.Endpoint + ":" + string(k.Scope) + ":" + k.Identifier)
}

// APIPrefix cobre os contadores de todos os endpoints.
const APIPrefix = keyPrefix + ":api:"

// APIScopeSuffix casa os contadores de API de um identificador em qualquer
// endpoint, inclusive os que já saíram da configuração.
func APIScopeSuffix(scope Scope, identifier string) string {
	return ":" + string(scope) + ":" + NormalizeIdentifier(identifier)
}

// ViolationsKey é o log de violações de um identificador.
func ViolationsKey(scope Scope, identifier string) Key {
	return Key(keyPrefix + ":violations:" + string(scope) + ":" + NormalizeIdentifier(identifier))
}

// LockoutKey é a flag de bloqueio progressivo do par (usuário, ip).
// O separador "|" permite purgar por prefixo (usuário) ou sufixo (ip).
func LockoutKey(user, ip string) Key {
	return Key(LockoutUserPrefix(user) + NormalizeIdentifier(ip))
}

// LockoutPrefix cobre todas as flags de bloqueio.
const LockoutPrefix = keyPrefix + ":lockout:"

func LockoutUserPrefix(user string) string {
	return LockoutPrefix + NormalizeIdentifier(user) + "|"
}

func LockoutIPSuffix(ip string) string {
	return "|" + NormalizeIdentifier(ip)
}

// IPUsersKey é o conjunto de usuários distintos vistos falhando a partir de um IP.
func IPUsersKey(ip string) Key {
	return Key(keyPrefix + ":ipusers:" + NormalizeIdentifier(ip))
}

// Result é a saída do avaliador de janela fixa para um único contador.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter só é preenchido quando Allowed=false.
	RetryAfter time.Duration
}

// Reason é o código estruturado de uma negação.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonIPBlacklisted      Reason = "IP_BLACKLISTED"
	ReasonIPNotWhitelisted   Reason = "IP_NOT_WHITELISTED"
	ReasonRateLimitExceeded  Reason = "RATE_LIMIT_EXCEEDED"
	ReasonProgressiveLockout Reason = "PROGRESSIVE_LOCKOUT"
)

type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// Allow é a decisão padrão (inclusive a de fail-open).
func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason Reason, message string, retryAfter time.Duration) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message, RetryAfter: retryAfter}
}

// RetryAfterSeconds arredonda para cima, nunca devolvendo 0 numa negação com espera.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Clock permite injetar o relógio em testes.
type Clock func() time.Time
