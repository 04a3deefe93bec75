package infra

import (
	"context"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um domain.SlotPool com `max` vagas sobre um channel.
// max<=0 vira capacidade 1, o menor pool que ainda faz sentido.
func NewChanPool(max int) domain.SlotPool {
	if max <= 0 {
		max = 1
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
