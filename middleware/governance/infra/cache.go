package infra

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

// ResponseCache serve leituras cacheáveis garantindo no máximo uma busca
// upstream em voo por chave.
//
// Fluxo de GetOrFetch: cache fresco responde na hora; ausência ou vencimento
// entra (ou se junta) ao voo único da chave. Sucesso vai para o cache com o
// TTL do chamador e é entregue a todos os que esperavam; falha é entregue a
// todos e nunca cacheada, então a próxima chamada começa um voo novo.
type ResponseCache[V any] struct {
	store *TTLStore[string, V]
	group singleflight.Group

	clock        domain.Clock
	log          *slog.Logger
	fetchTimeout time.Duration
}

// CacheConfig agrupa os ajustes do ResponseCache. O zero de cada campo cai
// no default: store sem teto, busca sem timeout próprio, relógio e logger
// do processo.
type CacheConfig struct {
	MaxEntries   int
	FetchTimeout time.Duration
	Clock        domain.Clock
	Logger       *slog.Logger
}

func NewResponseCache[V any](name string, cfg CacheConfig) *ResponseCache[V] {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ResponseCache[V]{
		store:        NewTTLStore[string, V](name, cfg.MaxEntries, clock, log),
		clock:        clock,
		log:          log.With("component", "responsecache", "cache", name),
		fetchTimeout: cfg.FetchTimeout,
	}
}

// GetOrFetch retorna o valor cacheado fresco ou o resultado de uma única
// busca compartilhada pela chave. ttl<=0 desliga cache e deduplicação e faz
// uma busca direta com o contexto do chamador.
//
// Cancelar ctx enquanto se espera um voo compartilhado abandona apenas a
// espera deste chamador; o voo continua para os demais e ainda popula o
// cache ao terminar.
func (c *ResponseCache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (V, error)) (V, error) {
	var zero V

	if ttl <= 0 {
		return fetch(ctx)
	}

	if v, ok := c.store.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// O voo é de todos que esperam por ele; não morre com quem o iniciou.
		fctx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.fetchTimeout)
			defer cancel()
		}

		start := c.clock.Now()
		v, err := fetch(fctx)
		if err != nil {
			c.log.Warn("upstream fetch failed",
				"key", key, "duration", c.clock.Now().Sub(start), "err", err)
			return nil, err
		}
		c.store.Set(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// RemoveExpired descarta entradas vencidas; chamado pelo janitor.
func (c *ResponseCache[V]) RemoveExpired() int { return c.store.RemoveExpired() }

// Len é o número bruto de entradas, vencidas inclusive.
func (c *ResponseCache[V]) Len() int { return c.store.Len() }

// CacheKey serializa a operação e todos os parâmetros que afetam o resultado
// em uma chave determinística: pares nome=valor ordenados pelo nome. Dois
// conjuntos logicamente equivalentes que serializem diferente valem como
// chaves distintas, o que custa um miss a mais e nunca um hit errado.
//
// Operação, nomes e valores são escapados antes da montagem: os separadores
// '|' e '=' nunca aparecem crus, então um valor contendo separador não colide
// com um conjunto diferente de parâmetros.
func CacheKey(op string, params map[string]string) string {
	if len(params) == 0 {
		return url.QueryEscape(op)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(url.QueryEscape(op))
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}
	return b.String()
}
