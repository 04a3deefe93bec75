package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/infra"
)

func main() {
	// .env é opcional: em produção as variáveis vêm do ambiente mesmo
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := readConfig()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("gateway error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, log *slog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	table, err := domain.NewPolicyTable(cfg.defaultPolicy, cfg.policies)
	if err != nil {
		return fmt.Errorf("building policy table: %w", err)
	}
	limiter := infra.NewWindowLimiter(table,
		infra.WithLimiterMaxEntries(cfg.rateMaxWindows),
		infra.WithLimiterLogger(log),
	)

	var verifier domain.TokenVerifier
	if cfg.jwksURL != "" {
		keys := infra.NewKeySet(cfg.jwksURL,
			infra.WithKeySetHTTPClient(&http.Client{Timeout: cfg.jwksTimeout}),
			infra.WithKeySetStaleAfter(cfg.jwksStale),
			infra.WithKeySetMinRefetch(cfg.jwksRefetch),
			infra.WithKeySetLogger(log),
		)
		verifier = infra.NewVerifier(keys, infra.WithVerifierLogger(log))
	}

	var stats domain.StatsStore
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		stats = infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)
	}

	governor := governance.NewGovernor(governance.Options{
		Limiter:               limiter,
		Verifier:              verifier,
		Stats:                 stats,
		AuthPrefixes:          cfg.authPrefixes,
		KeyHeader:             cfg.rateKeyHeader,
		ContentSecurityPolicy: cfg.csp,
		AddRateLimitHeaders:   cfg.addRateHeaders,
		MaxInFlight:           cfg.concurrencyMax,
		InFlightTimeout:       cfg.concurrencyTimeout,
		JanitorInterval:       cfg.janitorInterval,
		Logger:                log,
	})
	governor.Start()
	defer governor.Stop()

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", "path", r.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	lookups := newLookupClient(target, cfg.cacheFetchTimeout)
	cache := infra.NewResponseCache[upstreamResponse]("lookups", infra.CacheConfig{
		MaxEntries:   cfg.cacheMaxEntries,
		FetchTimeout: cfg.cacheFetchTimeout,
		Logger:       log,
	})
	governor.Register("lookups", cache)

	r := chi.NewRouter()
	r.Use(governor.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Get("/api/me", meHandler)

	for prefix, ttl := range cfg.cachedRoutes {
		h := cachedLookupHandler(cache, lookups, ttl)
		r.Get(prefix, h)
		r.Get(prefix+"/*", h)
	}

	r.Handle("/*", proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	log.Info("rate limit",
		"defaultWindow", cfg.defaultPolicy.Window,
		"defaultMax", cfg.defaultPolicy.MaxRequests,
		"prefixPolicies", len(cfg.policies),
		"maxWindows", cfg.rateMaxWindows)
	log.Info("auth", "jwks", cfg.jwksURL != "", "prefixes", strings.Join(cfg.authPrefixes, ","))
	log.Info("cache", "routes", len(cfg.cachedRoutes), "maxEntries", cfg.cacheMaxEntries)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// meHandler demonstra a exigência de identidade no nível da rota: a
// verificação do Governor é advisory, quem recusa anônimo é a rota.
func meHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := governance.IdentityFrom(r.Context())
	if !ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"UNAUTHORIZED","message":"a valid bearer token is required","statusCode":401}`)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"subjectId":%q,"walletAddress":%q,"email":%q}`,
		id.SubjectID, id.WalletAddress, id.Email)
}
