// Package domain define contratos e tipos de domínio da governança de requests:
// políticas de rate limit, decisões, identidade verificada e relógio.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de
// negócio de detalhes de infraestrutura (stores, JWKS, Redis).
package domain
