package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
)

type config struct {
	listenAddr  string
	upstreamURL string

	csp          string
	authPrefixes []string
	jwksURL      string
	jwksStale    time.Duration
	jwksRefetch  time.Duration
	jwksTimeout  time.Duration

	defaultPolicy   domain.Policy
	policies        map[string]domain.Policy
	rateKeyHeader   string
	rateMaxWindows  int
	addRateHeaders  bool
	janitorInterval time.Duration

	cachedRoutes      map[string]time.Duration
	cacheMaxEntries   int
	cacheFetchTimeout time.Duration

	concurrencyMax     int
	concurrencyTimeout time.Duration

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

// defaultCSP é a política aplicada a toda resposta do gateway. Os domínios
// liberados são os do deploy alvo (app, API de mercado e provedor de login).
const defaultCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://app.dynamicauth.com; " +
	"connect-src 'self' https://gamma-api.polymarket.com https://app.dynamicauth.com; " +
	"img-src 'self' data: https:; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'"

func readConfig() (config, error) {
	cfg := config{}
	var err error

	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}

	cfg.csp = getenvDefault("CSP", defaultCSP)
	cfg.authPrefixes = splitList(getenvDefault("AUTH_PREFIXES", "/api"))
	cfg.jwksURL = os.Getenv("JWKS_URL")
	if cfg.jwksStale, err = getenvDurationDefault("JWKS_STALE_AFTER", time.Hour); err != nil {
		return config{}, err
	}
	if cfg.jwksRefetch, err = getenvDurationDefault("JWKS_MIN_REFETCH", 10*time.Second); err != nil {
		return config{}, err
	}
	if cfg.jwksTimeout, err = getenvDurationDefault("JWKS_TIMEOUT", 5*time.Second); err != nil {
		return config{}, err
	}

	defWindow, err := getenvIntDefault("RATE_DEFAULT_WINDOW_MS", 60_000)
	if err != nil {
		return config{}, err
	}
	defMax, err := getenvIntDefault("RATE_DEFAULT_MAX_REQUESTS", 300)
	if err != nil {
		return config{}, err
	}
	cfg.defaultPolicy = domain.Policy{
		Window:      time.Duration(defWindow) * time.Millisecond,
		MaxRequests: defMax,
	}
	if cfg.policies, err = parsePolicies(os.Getenv("RATE_POLICIES")); err != nil {
		return config{}, err
	}
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	if cfg.rateMaxWindows, err = getenvIntDefault("RATE_MAX_WINDOWS", 10_000); err != nil {
		return config{}, err
	}
	if cfg.addRateHeaders, err = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false); err != nil {
		return config{}, err
	}
	if cfg.janitorInterval, err = getenvDurationDefault("JANITOR_INTERVAL", time.Minute); err != nil {
		return config{}, err
	}

	if cfg.cachedRoutes, err = parseCachedRoutes(os.Getenv("CACHED_ROUTES")); err != nil {
		return config{}, err
	}
	if cfg.cacheMaxEntries, err = getenvIntDefault("CACHE_MAX_ENTRIES", 5_000); err != nil {
		return config{}, err
	}
	if cfg.cacheFetchTimeout, err = getenvDurationDefault("CACHE_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return config{}, err
	}

	if cfg.concurrencyMax, err = getenvIntDefault("CONCURRENCY_MAX", 0); err != nil {
		return config{}, err
	}
	if cfg.concurrencyTimeout, err = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0); err != nil {
		return config{}, err
	}

	if cfg.statsEnabled, err = getenvBoolDefault("RATE_STATS_ENABLED", false); err != nil {
		return config{}, err
	}
	cfg.statsRedisAddr = os.Getenv("RATE_STATS_REDIS_ADDR")
	cfg.statsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	if cfg.statsRedisDB, err = getenvIntDefault("RATE_STATS_REDIS_DB", 0); err != nil {
		return config{}, err
	}
	cfg.statsPrefix = getenvDefault("RATE_STATS_PREFIX", "governance:stats")
	if cfg.statsTTL, err = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour); err != nil {
		return config{}, err
	}
	cfg.statsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	if cfg.statsTrackKeys, err = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false); err != nil {
		return config{}, err
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}

	return cfg, nil
}

// parsePolicies lê o formato "prefixo:janelaMs:maxRequests,...".
// Ex: "/api/markets:60000:100,/api/search:10000:30"
func parsePolicies(raw string) (map[string]domain.Policy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	policies := make(map[string]domain.Policy)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("parsing RATE_POLICIES entry %q: want prefix:windowMs:maxRequests", entry)
		}
		windowMs, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("parsing RATE_POLICIES entry %q window: %w", entry, err)
		}
		maxReq, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("parsing RATE_POLICIES entry %q max requests: %w", entry, err)
		}
		policies[strings.TrimSpace(parts[0])] = domain.Policy{
			Window:      time.Duration(windowMs) * time.Millisecond,
			MaxRequests: maxReq,
		}
	}
	return policies, nil
}

// parseCachedRoutes lê o formato "prefixo:ttl,...". Ex: "/api/search:30s"
func parseCachedRoutes(raw string) (map[string]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	routes := make(map[string]time.Duration)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, ttlRaw, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("parsing CACHED_ROUTES entry %q: want prefix:ttl", entry)
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(ttlRaw))
		if err != nil {
			return nil, fmt.Errorf("parsing CACHED_ROUTES entry %q ttl: %w", entry, err)
		}
		routes[strings.TrimSpace(prefix)] = ttl
	}
	return routes, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", k, err)
	}
	return i, nil
}

func getenvBoolDefault(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", k, err)
	}
	return b, nil
}

func getenvDurationDefault(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", k, err)
	}
	return d, nil
}
