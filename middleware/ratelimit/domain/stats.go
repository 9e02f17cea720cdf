package domain

import (
	"context"
	"time"
)

// Guard identifica qual guard produziu a decisão.
type Guard string

const (
	GuardLogin Guard = "login"
	GuardAPI   Guard = "api"
)

// StatsEvent representa uma decisão de um guard.
//
// Observação: cuidado com cardinalidade (ex.: salvar Identifier/Endpoint sem
// controle pode explodir o número de séries/chaves em Redis/Prometheus).
type StatsEvent struct {
	Guard      Guard
	Endpoint   string
	Identifier string
	Allowed    bool
	Reason     Reason
	// FailOpen marca decisões liberadas por falha de infraestrutura.
	FailOpen bool

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas dos guards.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// Os guards tratam erro como best-effort (nunca mudam a decisão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
