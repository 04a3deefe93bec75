package infra

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

type ttlEntry[V any] struct {
	value      V
	expiresAt  time.Time
	insertedAt time.Time
}

// TTLStore é um mapa chave→valor com TTL por entrada e teto de tamanho,
// serializado por um mutex por instância.
//
// Expiração é preguiçosa: Get ignora entradas vencidas sem removê-las.
// A remoção física acontece em RemoveExpired (varredura do janitor) e,
// oportunisticamente, dentro de Set/Update quando o teto é ultrapassado.
// Nesse caso a ordem é: primeiro caem as vencidas, depois as inseridas há
// mais tempo, até voltar para baixo do teto.
type TTLStore[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]ttlEntry[V]

	name       string
	maxEntries int // <=0 desliga o teto
	clock      domain.Clock
	log        *slog.Logger
}

// NewTTLStore cria um store vazio. clock e log nulos caem nos defaults do
// processo; name identifica o store nos logs de pressão de capacidade.
func NewTTLStore[K comparable, V any](name string, maxEntries int, clock domain.Clock, log *slog.Logger) *TTLStore[K, V] {
	if clock == nil {
		clock = domain.SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &TTLStore[K, V]{
		entries:    make(map[K]ttlEntry[V]),
		name:       name,
		maxEntries: maxEntries,
		clock:      clock,
		log:        log.With("component", "ttlstore", "store", name),
	}
}

// Get retorna o valor da chave se existir e ainda não tiver vencido.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.expiresAt) {
		var zero V
		return zero, false
	}
	return ent.value, true
}

// Set insere ou sobrescreve a chave com o TTL dado. Sobrescrever renova o
// instante de inserção considerado pela ordem de descarte.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, value, ttl, now)
}

// Update executa fn dentro da seção crítica do store: fn recebe o valor
// corrente (found=false quando ausente ou vencido) e devolve o próximo valor
// com seu TTL. Leitura-modificação-escrita vira uma operação atômica, que é
// o que o rate limiter precisa para contar sem corridas.
func (s *TTLStore[K, V]) Update(key K, fn func(now time.Time, cur V, found bool) (next V, ttl time.Duration)) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var cur V
	found := false
	if ent, ok := s.entries[key]; ok && now.Before(ent.expiresAt) {
		cur = ent.value
		found = true
	}
	next, ttl := fn(now, cur, found)
	s.setLocked(key, next, ttl, now)
}

// RemoveExpired descarta fisicamente toda entrada vencida e retorna quantas
// caíram. É a chamada periódica do janitor.
func (s *TTLStore[K, V]) RemoveExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeExpiredLocked(now)
}

// Len é o tamanho bruto do mapa, contando entradas vencidas ainda não varridas.
func (s *TTLStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *TTLStore[K, V]) setLocked(key K, value V, ttl time.Duration, now time.Time) {
	s.entries[key] = ttlEntry[V]{value: value, expiresAt: now.Add(ttl), insertedAt: now}

	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}

	expired := s.removeExpiredLocked(now)
	forced := 0
	for len(s.entries) > s.maxEntries {
		oldest, ok := s.oldestLocked()
		if !ok {
			break
		}
		delete(s.entries, oldest)
		forced++
	}
	if forced > 0 {
		s.log.Warn("store over capacity, evicted oldest entries",
			"evicted", forced, "expired", expired, "max", s.maxEntries)
	}
}

func (s *TTLStore[K, V]) removeExpiredLocked(now time.Time) int {
	removed := 0
	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *TTLStore[K, V]) oldestLocked() (K, bool) {
	var oldest K
	var oldestAt time.Time
	found := false
	for k, ent := range s.entries {
		if !found || ent.insertedAt.Before(oldestAt) {
			oldest = k
			oldestAt = ent.insertedAt
			found = true
		}
	}
	return oldest, found
}
