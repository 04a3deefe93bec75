// Package infra contém as implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - TTLStore: mapa genérico com TTL por entrada e teto de tamanho
//   - WindowLimiter: janela fixa por (cliente, rota) sobre o TTLStore
//   - KeySet + Verifier: verificação de tokens bearer contra um JWKS remoto
//   - ResponseCache: cache de respostas com proteção contra stampede
//   - ChanPool: semáforo simples para limite de concorrência
//   - Memory/Redis stats: persistência das estatísticas de decisão
package infra
