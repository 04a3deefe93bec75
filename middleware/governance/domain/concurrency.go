package domain

import "context"

// SlotPool limita quantos requests podem estar em voo ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Quando
// ok=true, a release retornada deve ser chamada exatamente uma vez para
// devolver a vaga ao pool.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
