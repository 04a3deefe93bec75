package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

func newTestTable(t *testing.T) *domain.PolicyTable {
	t.Helper()
	table, err := domain.NewPolicyTable(
		domain.Policy{Window: time.Minute, MaxRequests: 1000},
		map[string]domain.Policy{
			"/api/markets": {Window: time.Minute, MaxRequests: 100},
		},
	)
	require.NoError(t, err)
	return table
}

func TestWindowLimiterAllowsUpToMaxThenLimits(t *testing.T) {
	clock := newFakeClock()
	lim := NewWindowLimiter(newTestTable(t), WithLimiterClock(clock))

	for i := 1; i <= 100; i++ {
		dec := lim.Check("10.0.0.1", "/api/markets")
		require.True(t, dec.Allowed, "request %d dentro do limite deve passar", i)
		assert.Equal(t, 100, dec.Limit)
		assert.Equal(t, 100-i, dec.Remaining)
	}

	dec := lim.Check("10.0.0.1", "/api/markets")
	require.False(t, dec.Allowed, "request 101 estoura a janela")
	assert.Equal(t, time.Minute, dec.RetryAfter, "a espera anunciada é a janela inteira")
	assert.Equal(t, 0, dec.Remaining)

	// outro cliente na mesma janela não compartilha o contador
	other := lim.Check("10.0.0.2", "/api/markets")
	assert.True(t, other.Allowed)
}

func TestWindowLimiterCountsTheViolatingRequest(t *testing.T) {
	clock := newFakeClock()
	table, err := domain.NewPolicyTable(domain.Policy{Window: time.Minute, MaxRequests: 1}, nil)
	require.NoError(t, err)
	lim := NewWindowLimiter(table, WithLimiterClock(clock))

	require.True(t, lim.Check("c", "/x").Allowed)
	require.False(t, lim.Check("c", "/x").Allowed)

	// a violação também conta, então a janela não reabre antes da hora:
	// meio minuto depois o cliente continua bloqueado
	clock.Advance(30 * time.Second)
	assert.False(t, lim.Check("c", "/x").Allowed)

	// mas insistir não adia a liberação: a janela vence no resetAt original
	// independente de quanto tráfego bateu nela durante o bloqueio
	for i := 0; i < 5; i++ {
		lim.Check("c", "/x")
	}
	clock.Advance(31 * time.Second)
	assert.True(t, lim.Check("c", "/x").Allowed, "a liberação acontece na hora marcada")
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	table, err := domain.NewPolicyTable(domain.Policy{Window: time.Minute, MaxRequests: 2}, nil)
	require.NoError(t, err)
	lim := NewWindowLimiter(table, WithLimiterClock(clock))

	lim.Check("c", "/x")
	lim.Check("c", "/x")
	require.False(t, lim.Check("c", "/x").Allowed)

	clock.Advance(time.Minute + time.Second)

	dec := lim.Check("c", "/x")
	require.True(t, dec.Allowed, "janela vencida começa do zero")
	assert.Equal(t, 1, dec.Remaining, "a janela nova já conta este request")
}

func TestWindowLimiterSeparatesRoutes(t *testing.T) {
	clock := newFakeClock()
	table, err := domain.NewPolicyTable(domain.Policy{Window: time.Minute, MaxRequests: 1}, nil)
	require.NoError(t, err)
	lim := NewWindowLimiter(table, WithLimiterClock(clock))

	require.True(t, lim.Check("c", "/a").Allowed)
	require.False(t, lim.Check("c", "/a").Allowed)
	assert.True(t, lim.Check("c", "/b").Allowed, "rota diferente tem contador próprio")
}

func TestWindowLimiterConcurrentChecksNeverOvercount(t *testing.T) {
	clock := newFakeClock()
	table, err := domain.NewPolicyTable(domain.Policy{Window: time.Hour, MaxRequests: 500}, nil)
	require.NoError(t, err)
	lim := NewWindowLimiter(table, WithLimiterClock(clock))

	const total = 800
	allowed := make(chan bool, total)

	var g errgroup.Group
	for i := 0; i < total; i++ {
		g.Go(func() error {
			allowed <- lim.Check("c", "/api").Allowed
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 500, count, "exatamente MaxRequests passam, nem um a mais")
}

func TestWindowLimiterSweepDropsExpiredWindows(t *testing.T) {
	clock := newFakeClock()
	table, err := domain.NewPolicyTable(domain.Policy{Window: time.Second, MaxRequests: 10}, nil)
	require.NoError(t, err)
	lim := NewWindowLimiter(table, WithLimiterClock(clock))

	lim.Check("a", "/x")
	lim.Check("b", "/x")
	require.Equal(t, 2, lim.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, lim.RemoveExpired())
	assert.Equal(t, 0, lim.Len())
}
