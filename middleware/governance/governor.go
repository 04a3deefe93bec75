package governance

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/application"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/infra"
)

// Sweeper é qualquer store que o janitor do Governor sabe varrer.
// WindowLimiter e ResponseCache satisfazem via a passagem ao TTLStore.
type Sweeper interface {
	RemoveExpired() int
	Len() int
}

// Options configura o Governor. Limiter é o único colaborador obrigatório.
type Options struct {
	Limiter  domain.RateLimiter
	Verifier domain.TokenVerifier
	Stats    domain.StatsStore

	// AuthPrefixes lista os prefixos de rota onde a verificação de token é
	// tentada. Vazio desliga a verificação por completo.
	AuthPrefixes []string

	// KeyFn substitui a cadeia padrão de resolução da chave do cliente.
	KeyFn KeyFunc
	// KeyHeader é o primeiro degrau da cadeia padrão (ex: X-Api-Key).
	// Ignorado quando KeyFn é fornecida.
	KeyHeader string

	// ContentSecurityPolicy vai no header de toda resposta, inclusive 429.
	// Vazio desliga o header.
	ContentSecurityPolicy string

	// LimitedMessage é o texto humano do corpo de rejeição.
	LimitedMessage string

	AddRateLimitHeaders bool

	// MaxInFlight limita requests simultâneos (0 desliga). Estouro responde
	// 503 após esperar InFlightTimeout por uma vaga.
	MaxInFlight     int
	InFlightTimeout time.Duration

	// JanitorInterval é o período da varredura dos stores registrados.
	JanitorInterval time.Duration

	Logger *slog.Logger
}

// Governor é o estado explícito da governança: construído uma vez na
// composição do processo, dono do ticker do janitor, injetado nos handlers.
type Governor struct {
	opts   Options
	log    *slog.Logger
	govern application.Service
	slots  application.ConcurrencyService

	mu       sync.Mutex
	sweepers map[string]Sweeper
	stop     chan struct{}
	done     chan struct{}
}

func NewGovernor(opts Options) *Governor {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader)
	}
	if opts.LimitedMessage == "" {
		opts.LimitedMessage = "Too many requests, please slow down."
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	g := &Governor{
		opts: opts,
		log:  log.With("component", "governor"),
		govern: application.Service{
			Limiter:      opts.Limiter,
			Verifier:     opts.Verifier,
			AuthPrefixes: opts.AuthPrefixes,
		},
		sweepers: make(map[string]Sweeper),
	}
	if opts.MaxInFlight > 0 {
		g.slots = application.ConcurrencyService{
			Pool:           infra.NewChanPool(opts.MaxInFlight),
			AcquireTimeout: opts.InFlightTimeout,
		}
	}
	if s, ok := opts.Limiter.(Sweeper); ok {
		g.Register("ratelimit", s)
	}
	return g
}

// Register adiciona um store à ronda do janitor. Registrar o mesmo nome de
// novo substitui o anterior.
func (g *Governor) Register(name string, s Sweeper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepers[name] = s
}

// Start sobe a goroutine do janitor. Chamar com ele já rodando é no-op,
// então não há como registrar o ticker duas vezes.
func (g *Governor) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.janitor(g.stop, g.done)
}

// Stop encerra o janitor e espera a goroutine terminar. Idempotente.
func (g *Governor) Stop() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (g *Governor) janitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Sweep()
		case <-stop:
			return
		}
	}
}

// Sweep varre todos os stores registrados uma vez, removendo entradas
// vencidas, e loga o total removido. Também é o que o ticker chama.
func (g *Governor) Sweep() int {
	g.mu.Lock()
	sweepers := make(map[string]Sweeper, len(g.sweepers))
	for name, s := range g.sweepers {
		sweepers[name] = s
	}
	g.mu.Unlock()

	total := 0
	for name, s := range sweepers {
		removed := s.RemoveExpired()
		total += removed
		if removed > 0 {
			g.log.Debug("janitor sweep", "store", name, "removed", removed, "kept", s.Len())
		}
	}
	return total
}

// Middleware devolve o handler que governa todo request inbound.
func (g *Governor) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.opts.ContentSecurityPolicy != "" {
				w.Header().Set("Content-Security-Policy", g.opts.ContentSecurityPolicy)
			}

			if g.opts.MaxInFlight > 0 {
				release, ok := g.slots.Acquire(r.Context())
				if !ok {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				defer release()
			}

			key := g.opts.KeyFn(r)
			out := g.govern.Govern(r.Context(), application.RequestInfo{
				Method:        r.Method,
				Path:          r.URL.Path,
				Client:        domain.Key(key),
				Authorization: r.Header.Get("Authorization"),
			})

			if g.opts.Stats != nil {
				// best-effort: erro de estatística nunca muda o desfecho
				_ = g.opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:           domain.Key(key),
					Allowed:       out.Decision.Allowed,
					Authenticated: out.Authenticated,
					Method:        r.Method,
					Path:          r.URL.Path,
					At:            time.Now(),
				})
			}

			if g.opts.AddRateLimitHeaders && out.Decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(out.Decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(out.Decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatInt(int(out.Decision.ResetAt.Unix())))
			}

			if !out.Decision.Allowed {
				secs := (int64(out.Decision.RetryAfter) + int64(time.Second) - 1) / int64(time.Second)
				writeRateLimited(w, retryAfterSeconds(secs), g.opts.LimitedMessage)
				return
			}

			if out.Authenticated {
				r = r.WithContext(WithIdentity(r.Context(), out.Identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}
