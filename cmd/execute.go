// Package cmd contains the server entry point: configuration loading,
// dependency wiring, and HTTP server lifecycle.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SleepyXm/SynapseR/db"
	"github.com/SleepyXm/SynapseR/internal/api"
	"github.com/SleepyXm/SynapseR/internal/chat"
	"github.com/SleepyXm/SynapseR/internal/config"
	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/llm"
	"github.com/SleepyXm/SynapseR/internal/log"
	"github.com/SleepyXm/SynapseR/internal/observability"
	"github.com/SleepyXm/SynapseR/internal/search"
	"github.com/SleepyXm/SynapseR/internal/tools"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // completion streaming needs headroom
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// Execute is the entry point called from main.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("synapser %s\n", Version)
			return nil
		}
	}
	return runServe()
}

// parseLogLevel maps SYNAPSER_LOG_LEVEL onto a slog level. Unknown or
// empty values fall back to info.
func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseRateBurst reads SYNAPSER_RATE_BURST from the environment.
// Returns 0 (use default) when unset or invalid.
func parseRateBurst() int {
	v := os.Getenv("SYNAPSER_RATE_BURST")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// runServe wires the application and runs the HTTP server until a
// termination signal arrives.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLogLevel(os.Getenv("SYNAPSER_LOG_LEVEL")),
		JSON:  os.Getenv("SYNAPSER_LOG_FORMAT") == "json",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting synapser", "version", Version)

	traceShutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer traceShutdown()

	pool, poolCleanup, err := newDBPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer poolCleanup()

	store := conversation.NewStore(pool, logger)
	searchClient := search.NewClient(cfg.Search, logger)
	router := tools.NewRouter(logger, searchClient.Tool())
	factory := llm.NewFactory(cfg.LLMBaseURL, logger)
	orchestrator := chat.NewOrchestrator(store, router, factory, cfg, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Store:        store,
		Orchestrator: orchestrator,
		Pool:         pool,
		HMACSecret:   []byte(cfg.HMACSecret),
		CORSOrigins:  cfg.CORSOrigins,
		IsDev:        cfg.PostgresSSLMode == "disable",
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    parseRateBurst(),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		orchestrator.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// newDBPool runs migrations and creates the connection pool.
func newDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
