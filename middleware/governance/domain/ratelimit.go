package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key identifica o cliente sendo governado (ex: IP, API key, usuário).
type Key string

// Policy define a janela fixa aplicada a um grupo de rotas.
type Policy struct {
	// Window é a duração da janela fixa.
	Window time.Duration
	// MaxRequests é o total de requests aceitos dentro de uma janela.
	MaxRequests int
}

// Validate garante que a policy é utilizável antes de entrar na tabela.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("policy: window must be positive, got %v", p.Window)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy: max requests must be positive, got %d", p.MaxRequests)
	}
	return nil
}

type policyRule struct {
	prefix string
	policy Policy
}

// PolicyTable resolve a policy de uma rota pelo prefixo mais longo que casar.
// Rotas sem prefixo correspondente caem na policy default, sempre presente.
type PolicyTable struct {
	fallback Policy
	rules    []policyRule
}

// NewPolicyTable valida a default e cada policy por prefixo.
// Os prefixos são ordenados do mais longo para o mais curto uma única vez,
// então Match é uma varredura simples e determinística.
func NewPolicyTable(fallback Policy, byPrefix map[string]Policy) (*PolicyTable, error) {
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("policy default: %w", err)
	}
	rules := make([]policyRule, 0, len(byPrefix))
	for prefix, p := range byPrefix {
		if prefix == "" {
			return nil, fmt.Errorf("policy table: empty prefix not allowed, use the default policy")
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", prefix, err)
		}
		rules = append(rules, policyRule{prefix: prefix, policy: p})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].prefix) != len(rules[j].prefix) {
			return len(rules[i].prefix) > len(rules[j].prefix)
		}
		return rules[i].prefix < rules[j].prefix
	})
	return &PolicyTable{fallback: fallback, rules: rules}, nil
}

// Match retorna a policy do prefixo mais longo que casa com o path.
func (t *PolicyTable) Match(path string) Policy {
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.prefix) {
			return r.policy
		}
	}
	return t.fallback
}

// Default expõe a policy usada quando nenhum prefixo casa.
func (t *PolicyTable) Default() Policy { return t.fallback }

// Decision é o resultado de uma checagem de rate limit.
type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// É sempre a janela inteira da policy, independente de quanto dela já passou.
	RetryAfter time.Duration

	// Limit, Remaining e ResetAt alimentam os headers X-RateLimit-* quando
	// o middleware está configurado para emiti-los.
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter decide se um request de um cliente para uma rota entra agora.
//
// Contrato: o request recusado também conta dentro da janela corrente, mas o
// limite da janela não muda — a liberação acontece quando a janela vence,
// insistir durante o bloqueio não a adia nem a antecipa.
type RateLimiter interface {
	Check(client Key, path string) Decision
}
