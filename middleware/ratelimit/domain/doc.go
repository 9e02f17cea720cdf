// Package domain define contratos e tipos de domínio do guard de abuso:
// chaves de contador, decisões, registros de violação, escada de penalidades,
// configuração de regras e os contratos de Store, EventSink e StatsStore.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
