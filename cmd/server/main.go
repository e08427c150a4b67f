// Package main is the entrypoint for the receiptq print queue server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/api"
	"github.com/kiranshivaraju/receiptq/internal/api/handler"
	mw "github.com/kiranshivaraju/receiptq/internal/api/middleware"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/cache"
	"github.com/kiranshivaraju/receiptq/internal/config"
	"github.com/kiranshivaraju/receiptq/internal/protocol/cloudprnt"
	"github.com/kiranshivaraju/receiptq/internal/protocol/epos"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/render"
	"github.com/kiranshivaraju/receiptq/internal/results"
	"github.com/kiranshivaraju/receiptq/internal/retention"
	"github.com/kiranshivaraju/receiptq/internal/store"
	"github.com/kiranshivaraju/receiptq/internal/store/memstore"
	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// backend bundles the three storage roles. Both implementations serve all of them.
type backend struct {
	keys    store.Store
	queue   queue.Store
	results results.Store
	close   func()
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel.Set(cfg.SlogLevel())
	slog.Info("config loaded", "env", cfg.Server.Env, "store", cfg.Database.Store, "max_queue_depth", cfg.Queue.MaxDepth, "lease_recovery", cfg.Queue.LeaseRecovery)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open storage
	be, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer be.close()

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Bootstrap the first admin key
	if err := bootstrapKey(ctx, be.keys, cfg.Auth.BootstrapKey); err != nil {
		return err
	}

	// 5. Queue engine, result log and renderers
	engine := queue.NewEngine(be.queue,
		queue.WithMaxDepth(cfg.Queue.MaxDepth),
		queue.WithLeaseRecovery(cfg.Queue.LeaseRecovery),
	)
	resultLog := results.NewLog(be.results)
	renderers, err := render.NewRegistry(cfg.Print)
	if err != nil {
		return fmt.Errorf("create renderers: %w", err)
	}

	// 6. Retention sweep
	sweeper := retention.New(engine, resultLog, cfg.Queue.RetentionDays)
	if err := sweeper.Start(cfg.Queue.SweepSchedule); err != nil {
		return err
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(be.keys),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMin),

		HealthHandler: healthHandler(be.keys, redisCache),
		Metrics:       telemetry.Handler(),

		EPOS:      epos.NewHandler(engine, resultLog, redisCache),
		CloudPRNT: cloudprnt.NewHandler(engine, resultLog, redisCache),

		SubmitHandler:      handler.NewSubmitHandler(engine, renderers),
		QueueStatusHandler: handler.NewQueueStatusHandler(engine, redisCache),
		ClearQueueHandler:  handler.NewClearQueueHandler(engine),
		DeleteEntryHandler: handler.NewDeleteEntryHandler(engine),
		AckEntryHandler:    handler.NewAckEntryHandler(engine),
		ListResultsHandler: handler.NewListResultsHandler(resultLog),
		SweepHandler:       handler.NewSweepHandler(sweeper),
		CreateKeyHandler:   handler.NewCreateKeyHandler(be.keys),
		ListKeysHandler:    handler.NewListKeysHandler(be.keys),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(be.keys),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openBackend connects to Postgres and applies migrations, or returns the
// in-memory store when RECEIPTQ_STORE=memory.
func openBackend(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory store, queued jobs are lost on restart")
		mem := memstore.New()
		return &backend{keys: mem, queue: mem, results: mem, close: func() {}}, nil
	}

	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.URL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pg := store.NewPostgresStore(pool)
	return &backend{keys: pg, queue: pg, results: pg, close: pool.Close}, nil
}

// bootstrapKey stores rawKey with every scope when no API key exists yet.
func bootstrapKey(ctx context.Context, keys store.Store, rawKey string) error {
	if rawKey == "" {
		return nil
	}
	n, err := keys.CountAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("count api keys: %w", err)
	}
	if n > 0 {
		slog.Debug("api keys present, bootstrap key ignored", "count", n)
		return nil
	}

	key, err := handler.NewAPIKey("bootstrap", rawKey,
		[]string{models.ScopeAdmin, models.ScopeSubmit}, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	slog.Info("bootstrap api key created", "api_key_id", key.ID, "key_prefix", key.KeyPrefix)
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
