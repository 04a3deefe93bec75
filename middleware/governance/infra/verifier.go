package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

// ErrUnknownKeyID marca um token assinado por um kid que o set corrente não
// conhece. É o gatilho do refresh único de rotação de chave.
var ErrUnknownKeyID = errors.New("jwt: token signed by unknown key id")

// Verifier implementa domain.TokenVerifier sobre um KeySet remoto.
//
// O algoritmo de assinatura aceito é fixado na construção; o alg declarado
// pelo próprio token nunca é obedecido. Qualquer falha (header ausente ou
// malformado, token vencido, assinatura inválida, JWKS fora do ar) resulta
// em ok=false com um warning no log, nunca em erro para o chamador.
type Verifier struct {
	keys    *KeySet
	methods []string
	clock   domain.Clock
	log     *slog.Logger
	parser  *jwt.Parser
}

type VerifierOption func(*Verifier)

// WithVerifierMethods substitui a lista de algoritmos de assinatura aceitos.
func WithVerifierMethods(methods []string) VerifierOption {
	return func(v *Verifier) { v.methods = methods }
}

func WithVerifierClock(c domain.Clock) VerifierOption {
	return func(v *Verifier) { v.clock = c }
}

func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.log = l }
}

func NewVerifier(keys *KeySet, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:    keys,
		methods: []string{"RS256"},
		clock:   domain.SystemClock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = slog.Default()
	}
	v.log = v.log.With("component", "verifier")
	v.parser = jwt.NewParser(
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(func() time.Time { return v.clock.Now() }),
	)
	return v
}

// Verify implementa domain.TokenVerifier.
func (v *Verifier) Verify(ctx context.Context, authorization string) (domain.Identity, bool) {
	raw, ok := bearerToken(authorization)
	if !ok {
		return domain.Identity{}, false
	}

	if v.keys.Stale() {
		if err := v.keys.Refresh(ctx); err != nil {
			v.log.Warn("token verification failed", "reason", "jwks refresh failed", "err", err)
			return domain.Identity{}, false
		}
	}

	claims, err := v.parse(raw)
	if errors.Is(err, ErrUnknownKeyID) {
		// Rotação de chave: um refresh e exatamente uma nova tentativa.
		if rerr := v.keys.Refresh(ctx); rerr != nil {
			v.log.Warn("token verification failed", "reason", "jwks refresh after unknown kid failed", "err", rerr)
			return domain.Identity{}, false
		}
		claims, err = v.parse(raw)
	}
	if err != nil {
		v.log.Warn("token verification failed", "reason", err.Error())
		return domain.Identity{}, false
	}

	return identityFromClaims(claims), true
}

func (v *Verifier) parse(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keyfunc); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		if pub, ok := v.keys.Single(); ok {
			return pub, nil
		}
		return nil, fmt.Errorf("%w: token without kid and key set is not a singleton", ErrUnknownKeyID)
	}
	if pub, ok := v.keys.Lookup(kid); ok {
		return pub, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func identityFromClaims(claims jwt.MapClaims) domain.Identity {
	var id domain.Identity
	if sub, ok := stringClaim(claims, "sub"); ok {
		id.SubjectID = sub
	}
	if wallet, ok := walletClaim(claims); ok {
		id.WalletAddress = wallet
	}
	if email, ok := stringClaim(claims, "email"); ok {
		id.Email = email
	}
	return id
}

func stringClaim(claims jwt.MapClaims, name string) (string, bool) {
	v, ok := claims[name].(string)
	return v, ok && v != ""
}

// walletClaim segue a cadeia de fallback do provedor de identidade: o
// endereço da primeira credencial verificada e, na falta dela, a claim plana.
func walletClaim(claims jwt.MapClaims) (string, bool) {
	if creds, ok := claims["verified_credentials"].([]any); ok && len(creds) > 0 {
		if first, ok := creds[0].(map[string]any); ok {
			if addr, ok := first["address"].(string); ok && addr != "" {
				return addr, true
			}
		}
	}
	return stringClaim(claims, "wallet_address")
}
