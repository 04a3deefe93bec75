package infra

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

// ErrNoKeys indica um documento JWKS sem nenhuma chave RSA utilizável.
var ErrNoKeys = errors.New("jwks: document has no usable keys")

// KeySet guarda o JWKS remoto usado na verificação de tokens.
//
// O documento é buscado de forma preguiçosa na primeira verificação e
// renovado quando passa do prazo de validade ou quando um token referencia
// um kid desconhecido (rotação de chave). A renovação acontece fora do lock
// de leitura: verificações concorrentes continuam lendo o set anterior
// enquanto a busca está em voo.
//
// Duas proteções cercam o endpoint remoto: buscas concorrentes colapsam em
// uma só (singleflight) e um rate limiter interno impõe um intervalo mínimo
// entre buscas, segurando tempestades de kid desconhecido.
type KeySet struct {
	url        string
	client     *http.Client
	clock      domain.Clock
	log        *slog.Logger
	staleAfter time.Duration
	minRefetch time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group   singleflight.Group
	refetch *rate.Limiter
}

type KeySetOption func(*KeySet)

// WithKeySetHTTPClient troca o cliente HTTP. O timeout do cliente é o teto
// de cada busca do documento.
func WithKeySetHTTPClient(c *http.Client) KeySetOption {
	return func(ks *KeySet) { ks.client = c }
}

// WithKeySetStaleAfter define a idade a partir da qual o documento é
// considerado velho e renovado na próxima verificação.
func WithKeySetStaleAfter(d time.Duration) KeySetOption {
	return func(ks *KeySet) { ks.staleAfter = d }
}

// WithKeySetMinRefetch define o intervalo mínimo entre buscas remotas.
func WithKeySetMinRefetch(d time.Duration) KeySetOption {
	return func(ks *KeySet) { ks.minRefetch = d }
}

func WithKeySetClock(c domain.Clock) KeySetOption {
	return func(ks *KeySet) { ks.clock = c }
}

func WithKeySetLogger(l *slog.Logger) KeySetOption {
	return func(ks *KeySet) { ks.log = l }
}

func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	ks := &KeySet{
		url:        url,
		client:     &http.Client{Timeout: 5 * time.Second},
		clock:      domain.SystemClock(),
		staleAfter: time.Hour,
		minRefetch: 10 * time.Second,
		keys:       make(map[string]*rsa.PublicKey),
	}
	for _, opt := range opts {
		opt(ks)
	}
	if ks.log == nil {
		ks.log = slog.Default()
	}
	ks.log = ks.log.With("component", "jwks")
	// burst 2: logo após uma busca ainda sobra um refetch imediato para o
	// caso de rotação de chave, sem abrir a porta para tempestades de kid.
	ks.refetch = rate.NewLimiter(rate.Every(ks.minRefetch), 2)
	return ks
}

// Lookup retorna a chave pública do kid, se o set corrente a conhece.
// Nunca dispara rede.
func (ks *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pub, ok := ks.keys[kid]
	return pub, ok
}

// Single retorna a única chave do set, para tokens sem kid no header.
func (ks *KeySet) Single() (*rsa.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if len(ks.keys) != 1 {
		return nil, false
	}
	for _, pub := range ks.keys {
		return pub, true
	}
	return nil, false
}

// Stale informa se o documento precisa de renovação: nunca buscado ou mais
// velho que o prazo configurado.
func (ks *KeySet) Stale() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.fetchedAt.IsZero() {
		return true
	}
	return ks.clock.Now().Sub(ks.fetchedAt) >= ks.staleAfter
}

// Refresh busca o documento remoto e troca o set inteiro em caso de sucesso.
// Chamadas concorrentes compartilham uma única busca e o mesmo resultado.
func (ks *KeySet) Refresh(ctx context.Context) error {
	_, err, _ := ks.group.Do("refresh", func() (any, error) {
		if !ks.refetch.Allow() {
			return nil, errors.New("jwks: refetch throttled")
		}
		return nil, ks.fetch(ctx)
	})
	return err
}

func (ks *KeySet) fetch(ctx context.Context) error {
	start := ks.clock.Now()

	// A busca é compartilhada entre todos os que esperam; não pode morrer
	// junto com o request que a iniciou. O timeout do cliente limita tudo.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: building request: %w", err)
	}

	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetching %s: %w", ks.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetching %s: unexpected status %d", ks.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("jwks: reading body: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("jwks: decoding document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			ks.log.Warn("skipping unusable jwks key", "kid", k.Kid, "err", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return ErrNoKeys
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.fetchedAt = ks.clock.Now()
	ks.mu.Unlock()

	ks.log.Debug("jwks refreshed", "keys", len(keys), "duration", ks.clock.Now().Sub(start))
	return nil
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwksKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwks: key %q: decoding modulus: %w", k.Kid, err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwks: key %q: decoding exponent: %w", k.Kid, err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("jwks: key %q: invalid exponent", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
