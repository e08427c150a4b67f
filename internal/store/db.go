package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/receiptq/internal/config"
)

const (
	applicationName   = "receiptq"
	healthCheckPeriod = 30 * time.Second
	pingAttempts      = 5
	pingInitialDelay  = 200 * time.Millisecond
	pingMaxDelay      = 5 * time.Second
)

// Connect opens the pool and waits until Postgres answers a ping. The server
// often starts alongside the database container, so the first pings are
// retried with exponential backoff.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pingWithBackoff(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingWithBackoff(ctx context.Context, pool *pgxpool.Pool) error {
	delay := pingInitialDelay
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, pingMaxDelay)
	}
	return fmt.Errorf("ping database after %d attempts: %w", pingAttempts, err)
}
