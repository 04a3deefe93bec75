package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestResponseCacheHitSkipsFetch(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[string]("teste", CacheConfig{Clock: clock})

	var fetches atomic.Int32
	fetch := func(context.Context) (string, error) {
		fetches.Add(1)
		return "corpo", nil
	}

	v, err := cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "corpo", v)

	v, err = cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "corpo", v)
	assert.Equal(t, int32(1), fetches.Load(), "hit fresco não vai ao upstream")
}

func TestResponseCacheStampede(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[string]("teste", CacheConfig{Clock: clock})

	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		if fetches.Add(1) == 1 {
			close(started)
		}
		<-release
		return "compartilhado", nil
	}

	const waiters = 20
	var ready sync.WaitGroup
	ready.Add(waiters)

	var g errgroup.Group
	for i := 0; i < waiters; i++ {
		g.Go(func() error {
			ready.Done()
			v, err := cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
			if err != nil {
				return err
			}
			if v != "compartilhado" {
				return errors.New("valor divergente entre esperas")
			}
			return nil
		})
	}

	<-started
	ready.Wait()
	// folga para os retardatários entrarem no voo antes de liberá-lo
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), fetches.Load(), "N chamadas concorrentes, exatamente 1 busca")
}

func TestResponseCacheFailureIsSharedAndNeverCached(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[string]("teste", CacheConfig{Clock: clock})

	boom := errors.New("upstream fora do ar")
	var fetches atomic.Int32
	fetch := func(context.Context) (string, error) {
		fetches.Add(1)
		return "", boom
	}

	_, err := cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len(), "falha não entra no cache")

	// a próxima chamada tenta de novo em vez de repetir a falha
	_, err = cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestResponseCacheStaleEntryTriggersOneNewFetch(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[int]("teste", CacheConfig{Clock: clock})

	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		return int(fetches.Add(1)), nil
	}

	v, err := cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(2 * time.Minute)

	v, err = cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "entrada vencida nunca volta como hit")
	assert.Equal(t, int32(2), fetches.Load())
}

func TestResponseCacheZeroTTLBypasses(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[string]("teste", CacheConfig{Clock: clock})

	var fetches atomic.Int32
	fetch := func(context.Context) (string, error) {
		fetches.Add(1)
		return "direto", nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.GetOrFetch(context.Background(), "k", 0, fetch)
		require.NoError(t, err)
		assert.Equal(t, "direto", v)
	}
	assert.Equal(t, int32(3), fetches.Load(), "ttl<=0 vai direto ao upstream toda vez")
	assert.Equal(t, 0, cache.Len(), "bypass não toca o cache")
}

func TestResponseCacheCanceledWaiterAbandonsOnlyItsWait(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache[string]("teste", CacheConfig{Clock: clock})

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		close(started)
		<-release
		return "sobreviveu", nil
	}

	first := make(chan error, 1)
	go func() {
		_, err := cache.GetOrFetch(context.Background(), "k", time.Minute, fetch)
		first <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := cache.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.ErrorIs(t, err, context.Canceled, "quem cancelou abandona só a própria espera")

	close(release)
	require.NoError(t, <-first, "o voo continua para os demais")

	v, ok := cache.store.Get("k")
	require.True(t, ok, "o voo ainda popula o cache após o cancelamento alheio")
	assert.Equal(t, "sobreviveu", v)
}

func TestCacheKeyIsDeterministicAndTotal(t *testing.T) {
	a := CacheKey("search", map[string]string{"q": "btc", "limit": "10", "active": "true"})
	b := CacheKey("search", map[string]string{"active": "true", "limit": "10", "q": "btc"})
	assert.Equal(t, a, b, "a ordem de montagem dos parâmetros não muda a chave")

	c := CacheKey("search", map[string]string{"q": "btc", "limit": "10", "active": "false"})
	assert.NotEqual(t, a, c, "toda flag participa da chave")

	assert.Equal(t, "search", CacheKey("search", nil))
	assert.NotEqual(t, CacheKey("search", nil), CacheKey("lookup", nil))
}

func TestCacheKeySeparatorsInValuesNeverCollide(t *testing.T) {
	// um valor carregando os separadores da chave não pode colidir com um
	// conjunto diferente de parâmetros que serialize parecido
	a := CacheKey("search", map[string]string{"a": "1|b=2"})
	b := CacheKey("search", map[string]string{"a": "1", "b": "2"})
	assert.NotEqual(t, a, b, "separador cru dentro do valor não vira par nome=valor")

	c := CacheKey("search", map[string]string{"a": "1", "b=2": ""})
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c, "o separador dentro do nome também é escapado")

	// nem a operação pode se disfarçar de operação+parâmetro
	d := CacheKey("search|a=1", nil)
	e := CacheKey("search", map[string]string{"a": "1"})
	assert.NotEqual(t, d, e)
}
