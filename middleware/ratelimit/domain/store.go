package domain

import (
	"context"
	"time"
)

// ViolationRecord é um evento de falha registrado no log de 24h.
type ViolationRecord struct {
	Timestamp time.Time
	Kind      string
}

// Store é o ponto de coordenação compartilhado entre processos/workers.
//
// Implementações devem ser seguras para uso concorrente e Increment deve ser
// atômico (read-modify-write numa única chave). Erros de infraestrutura devem
// embrulhar ErrStoreUnavailable.
type Store interface {
	// Count retorna o valor atual do contador, 0 se ausente/expirado.
	Count(ctx context.Context, key Key) (int64, error)

	// Increment cria o contador com TTL=window se ausente; se presente,
	// incrementa preservando o TTL existente (janela fixa).
	Increment(ctx context.Context, key Key, window time.Duration) (int64, error)

	// TTL retorna o tempo restante da chave; ok=false se ela não existe.
	// Uma chave sem expiração retorna (0, true).
	TTL(ctx context.Context, key Key) (remaining time.Duration, ok bool, err error)

	// SetFlag grava uma flag booleana com TTL.
	SetFlag(ctx context.Context, key Key, ttl time.Duration) error

	// Delete remove as chaves; chaves ausentes não são erro.
	Delete(ctx context.Context, keys ...Key) error

	// AppendViolation grava rec no log, descartando registros anteriores a
	// rec.Timestamp-retention, e renova o TTL do log. Stores compartilhados
	// podem usar um instante de corte mais antigo (relógio do servidor) e
	// nunca um mais novo.
	AppendViolation(ctx context.Context, key Key, rec ViolationRecord, retention, ttl time.Duration) error

	// Violations lista os registros do log em ordem cronológica.
	Violations(ctx context.Context, key Key) ([]ViolationRecord, error)

	// AddMember adiciona member ao conjunto e retorna a cardinalidade.
	// O TTL só é aplicado na criação do conjunto.
	AddMember(ctx context.Context, key Key, member string, ttl time.Duration) (int64, error)

	// Members retorna a cardinalidade do conjunto (0 se ausente).
	Members(ctx context.Context, key Key) (int64, error)

	// Purge remove as chaves que começam com prefix e terminam com suffix.
	Purge(ctx context.Context, prefix, suffix string) (int, error)
}
