package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleet-reports/internal/api"
	"fleet-reports/internal/app"
	"fleet-reports/internal/config"
	internaldb "fleet-reports/internal/db"
	"fleet-reports/internal/engine"
	"fleet-reports/internal/middleware"
)

func main() {
	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// writeDB: single-connection pool for serialized writes (WAL + txlock=immediate).
	// readDB:  4-connection pool for concurrent reads.
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer writeDB.Close() //nolint:errcheck
	defer readDB.Close()  //nolint:errcheck

	if err := internaldb.RunMigrations(writeDB); err != nil {
		return fmt.Errorf("migrate metastore: %w", err)
	}

	storageDB, err := engine.OpenStorage(cfg.ReportDBDriver, cfg.ReportDBDSN, cfg.ReportDBConns)
	if err != nil {
		return fmt.Errorf("open report storage: %w", err)
	}
	defer storageDB.Close() //nolint:errcheck

	a, err := app.New(app.Deps{Cfg: cfg, WriteDB: writeDB, Storage: storageDB, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RestoreSchedulerState(ctx); err != nil {
		return err
	}
	if cfg.SchedulerEnabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	}
	stopPurge, err := a.StartCachePurge(ctx, cfg.CachePurgeSpec)
	if err != nil {
		return err
	}
	defer stopPurge()

	authCfg, err := buildAuth(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(a.Reports, a.Storage, logger), api.RouterConfig{
		Auth: authCfg,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
			Scope:             "reports",
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "driver", cfg.ReportDBDriver)
		logger.Info(fmt.Sprintf("Try: curl -H 'Authorization: Bearer <jwt>' http://%s/v1/reports/tables",
			curlHostForListenAddr(cfg.ListenAddr)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildAuth selects the bearer token validator: OIDC discovery when an
// issuer is configured, otherwise an HS256 shared secret.
func buildAuth(ctx context.Context, cfg config.AuthConfig) (middleware.AuthConfig, error) {
	out := middleware.AuthConfig{
		TenantClaim:      cfg.TenantClaim,
		PermissionsClaim: cfg.PermissionsClaim,
		TrustHeaders:     cfg.TrustHeaders,
	}
	switch {
	case cfg.OIDCIssuer != "":
		v, err := middleware.NewOIDCValidator(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return out, fmt.Errorf("oidc validator: %w", err)
		}
		out.Validator = v
	case cfg.JWTSecret != "":
		v, err := middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			return out, fmt.Errorf("jwt validator: %w", err)
		}
		out.Validator = v
	}
	return out, nil
}

// curlHostForListenAddr turns a listen address into a host:port usable in an
// example curl command. Wildcard and empty hosts become localhost.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
