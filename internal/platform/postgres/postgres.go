// Package postgres opens the shared database/sql pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"storefront/internal/platform/config"
)

// DB wraps *sql.DB with health checking.
type DB struct {
	*sql.DB
}

// New opens and pings the pool. Returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &DB{DB: db}, nil
}

// Migrate applies idempotent schema statements.
func (d *DB) Migrate(ctx context.Context, schema ...string) error {
	for _, stmt := range schema {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Health checks if the database is reachable.
func (d *DB) Health(ctx context.Context) error {
	return d.PingContext(ctx)
}
