package infra

import (
	"log/slog"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

// windowRecord é o contador de uma janela fixa de um par (cliente, rota).
// Quando a janela vence o registro é substituído inteiro, nunca ajustado.
type windowRecord struct {
	count   int
	resetAt time.Time
}

// WindowLimiter implementa domain.RateLimiter com janelas fixas.
//
// Cada par (cliente, rota) tem um contador guardado no TTLStore com TTL
// igual ao restante da janela; a policy vem da tabela por prefixo mais longo.
// O request que estoura o limite também é contado, então insistir durante o
// bloqueio não antecipa a liberação.
type WindowLimiter struct {
	table *domain.PolicyTable
	store *TTLStore[string, windowRecord]
	clock domain.Clock
}

type limiterSettings struct {
	maxEntries int
	clock      domain.Clock
	log        *slog.Logger
}

type LimiterOption func(*limiterSettings)

// WithLimiterMaxEntries define o teto de janelas vivas guardadas ao mesmo
// tempo. Acima disso o store descarta as janelas mais antigas.
func WithLimiterMaxEntries(n int) LimiterOption {
	return func(s *limiterSettings) { s.maxEntries = n }
}

func WithLimiterClock(c domain.Clock) LimiterOption {
	return func(s *limiterSettings) { s.clock = c }
}

func WithLimiterLogger(l *slog.Logger) LimiterOption {
	return func(s *limiterSettings) { s.log = l }
}

func NewWindowLimiter(table *domain.PolicyTable, opts ...LimiterOption) *WindowLimiter {
	cfg := limiterSettings{
		maxEntries: 10_000,
		clock:      domain.SystemClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WindowLimiter{
		table: table,
		store: NewTTLStore[string, windowRecord]("ratelimit", cfg.maxEntries, cfg.clock, cfg.log),
		clock: cfg.clock,
	}
}

// Check implementa domain.RateLimiter. A checagem e o incremento acontecem
// na mesma seção crítica do store.
func (l *WindowLimiter) Check(client domain.Key, path string) domain.Decision {
	policy := l.table.Match(path)
	key := string(client) + ":" + path

	var d domain.Decision
	l.store.Update(key, func(now time.Time, cur windowRecord, found bool) (windowRecord, time.Duration) {
		if !found || !now.Before(cur.resetAt) {
			cur = windowRecord{resetAt: now.Add(policy.Window)}
		}
		cur.count++

		remaining := policy.MaxRequests - cur.count
		if remaining < 0 {
			remaining = 0
		}
		d = domain.Decision{
			Allowed:    cur.count <= policy.MaxRequests,
			RetryAfter: policy.Window,
			Limit:      policy.MaxRequests,
			Remaining:  remaining,
			ResetAt:    cur.resetAt,
		}
		return cur, cur.resetAt.Sub(now)
	})
	return d
}

// RemoveExpired descarta janelas vencidas; chamado pelo janitor.
func (l *WindowLimiter) RemoveExpired() int { return l.store.RemoveExpired() }

// Len é o número bruto de janelas guardadas, vencidas inclusive.
func (l *WindowLimiter) Len() int { return l.store.Len() }
