package domain

import (
	"context"
	"time"
)

// StatsEvent registra o desfecho da governança de um request.
//
// Method/Path são strings genéricas de propósito; o evento serve para web,
// gRPC ou qualquer outro transporte.
//
// Observação: cuidado com cardinalidade (ex.: gravar Key/Path sem controle
// pode explodir o número de chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Allowed bool
	// Authenticated indica se o request carregava um token verificado.
	Authenticated bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência das estatísticas de governança.
//
// Implementações podem armazenar em Redis, Postgres, memória, etc.
// O middleware trata erro de Record como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
