// Package ratelimit fornece os adapters HTTP (net/http + chi) do guard de abuso:
// limite de tentativas de login, limite por endpoint de API e bloqueio progressivo.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: guards de login/API, escada de penalidades e operações admin
//   - infra: stores (memória, Redis), estatísticas (Redis, Prometheus) e eventos
//   - ratelimit (este pacote): middleware, rotas, extração de IP/usuário e
//     tradução de decisões para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai endpoint, usuário (header) e IP (RemoteAddr/XFF)
//  2. Chama o APIGuard para obter a decisão
//  3. Se bloqueado, responde 429 com Retry-After
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// O serviço de autenticação usa as rotas /auth/login/*: consulta check antes
// de validar a senha e informa o resultado em attempts, sempre com o bearer
// token de serviço.
package ratelimit
