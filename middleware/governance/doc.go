// Package governance fornece o adapter HTTP (net/http) da camada de
// governança de requests: rate limit por janela fixa, verificação advisory
// de tokens bearer e cache de respostas com proteção contra stampede.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (governar request, acquire/timeout) sem net/http
//   - infra: implementações concretas (TTL store, janela fixa, JWKS, cache)
//   - governance (este pacote): o Governor e seu middleware + extração de
//     chave do cliente + identidade no contexto + tradução para status/headers
//
// Fluxo por request:
//
//  1. Aplica os headers de segurança (CSP) na resposta
//  2. Extrai a chave do cliente (cf-connecting-ip / x-real-ip / XFF / IP)
//  3. Chama a camada application: verificação de token (nunca fatal) e
//     checagem de rate limit (fatal quando estoura)
//  4. Se bloqueado, responde 429 com corpo JSON fixo e Retry-After
//  5. Se permitido, injeta a identidade no contexto e chama o próximo handler
//
// O Governor também é o dono do janitor: um ticker único que varre os stores
// registrados (limiter e caches) removendo entradas vencidas. Start é
// idempotente e Stop encerra a goroutine, o que permite teardown limpo em
// testes.
package governance
