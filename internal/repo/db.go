package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool создаёт пул соединений к PostgreSQL и проверяет доступность.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS tasks (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			target_url    TEXT NOT NULL,
			task_type     TEXT NOT NULL,
			config        JSONB,
			priority      INT NOT NULL DEFAULT 0,
			status        TEXT NOT NULL,
			retry_count   INT NOT NULL DEFAULT 0,
			max_retries   INT NOT NULL DEFAULT 0,
			worker_id     TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			items_scraped INT NOT NULL DEFAULT 0,
			artifact_ref  TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			started_at    TIMESTAMPTZ,
			completed_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
		CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at DESC);

		CREATE TABLE IF NOT EXISTS proxies (
			address        TEXT NOT NULL,
			port           INT NOT NULL,
			protocol       TEXT NOT NULL DEFAULT 'http',
			country        TEXT NOT NULL DEFAULT '',
			is_healthy     BOOLEAN NOT NULL DEFAULT TRUE,
			response_time  DOUBLE PRECISION NOT NULL DEFAULT 0,
			success_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_requests BIGINT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (address, port)
		);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
