package application

import (
	"context"
	"strings"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

// RequestInfo é o recorte de um request inbound que a governança enxerga:
// método, rota, chave do cliente e o header Authorization cru.
type RequestInfo struct {
	Method        string
	Path          string
	Client        domain.Key
	Authorization string
}

// Outcome é o resultado de governar um request.
//
// Decision vem do rate limiter e é quem manda: Allowed=false encerra o
// request. Identity só é preenchida quando Authenticated=true, e sua
// ausência não é erro, apenas "anônimo".
type Outcome struct {
	Decision domain.Decision

	Authenticated bool
	Identity      domain.Identity
}

// Service concentra a regra de aplicação da governança.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna o desfecho.
// A ordem é fixa: verificação de token primeiro (somente para rotas sob os
// prefixos autenticáveis, e nunca fatal), depois o rate limit (fatal quando
// estoura).
type Service struct {
	Limiter  domain.RateLimiter
	Verifier domain.TokenVerifier
	// AuthPrefixes lista os prefixos de rota onde vale a pena tentar
	// verificar o token. Fora deles o Verifier nem é chamado.
	AuthPrefixes []string
}

// Govern decide o destino de um request.
func (s Service) Govern(ctx context.Context, req RequestInfo) Outcome {
	out := Outcome{Decision: domain.Decision{Allowed: true}}

	if s.Verifier != nil && s.authenticable(req.Path) {
		if id, ok := s.Verifier.Verify(ctx, req.Authorization); ok {
			out.Authenticated = true
			out.Identity = id
		}
	}

	if s.Limiter != nil {
		out.Decision = s.Limiter.Check(req.Client, req.Path)
	}
	return out
}

func (s Service) authenticable(path string) bool {
	for _, prefix := range s.AuthPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
