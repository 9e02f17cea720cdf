// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore / RedisStore: contadores de janela fixa, flags, logs de violação
//   - MemoryStatsStore / RedisStatsStore / PrometheusStats: estatísticas de decisão
//   - LogEventSink: eventos de segurança via zap, com throttling por x/time/rate
package infra
