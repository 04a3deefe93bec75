package domain

import "context"

// Identity é o produto de uma verificação bem-sucedida de token bearer.
//
// Campos vazios significam que a claim correspondente não estava no token.
type Identity struct {
	SubjectID     string
	WalletAddress string
	Email         string
}

// TokenVerifier valida um header Authorization e extrai a identidade.
//
// A verificação é advisory: token ausente, malformado, expirado, com
// assinatura inválida ou com JWKS indisponível resulta em ok=false, nunca em
// erro. O request segue anônimo e quem decide exigir identidade é a rota.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (Identity, bool)
}
