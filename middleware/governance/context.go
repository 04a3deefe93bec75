package governance

import (
	"context"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

type identityKey struct{}

// WithIdentity retorna um contexto carregando a identidade verificada.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extrai a identidade injetada pelo middleware, se houver.
// ok=false significa request anônimo; cabe à rota decidir se isso é erro.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}
