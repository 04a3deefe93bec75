package domain

import "time"

// Clock abstrai a fonte de tempo das decisões de governança.
//
// Produção usa SystemClock; testes injetam relógios falsos para controlar
// expiração de janelas, TTLs e validação de tokens de forma determinística.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock retorna o relógio de parede do processo.
func SystemClock() Clock { return systemClock{} }
