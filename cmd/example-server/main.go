package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jshsmth/glitch-markets-sub003/middleware/governance"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/domain"
	"github.com/jshsmth/glitch-markets-sub003/middleware/governance/infra"
)

func main() {
	// Exemplo: injetando o Governor direto no seu webserver (sem proxy)
	log := slog.Default()

	table, err := domain.NewPolicyTable(
		domain.Policy{Window: time.Minute, MaxRequests: 300},
		map[string]domain.Policy{
			"/api/markets": {Window: time.Minute, MaxRequests: 100},
		},
	)
	if err != nil {
		log.Error("policy table", "err", err)
		os.Exit(1)
	}

	governor := governance.NewGovernor(governance.Options{
		Limiter:             infra.NewWindowLimiter(table),
		AddRateLimitHeaders: true,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	governor.Start()
	defer governor.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := governor.Middleware()(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}
