// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"logwarden/internal/config"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS logs (
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			level VARCHAR(20) NOT NULL,
			service VARCHAR(255) NOT NULL DEFAULT '',
			template_id BIGINT NOT NULL,
			raw_message TEXT NOT NULL,
			parameters TEXT[] NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_logs_service ON logs(service);
		CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
		CREATE INDEX IF NOT EXISTS idx_logs_template ON logs(template_id);

		CREATE TABLE IF NOT EXISTS anomalies (
			id VARCHAR(36) PRIMARY KEY,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			template_id BIGINT NOT NULL,
			rule_id VARCHAR(36) NOT NULL,
			rule_type VARCHAR(20) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			raw_message TEXT NOT NULL,
			service VARCHAR(255) NOT NULL DEFAULT '',
			level VARCHAR(20) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_anomalies_timestamp ON anomalies(timestamp);
		CREATE INDEX IF NOT EXISTS idx_anomalies_rule ON anomalies(rule_id);
		CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies(severity);

		CREATE TABLE IF NOT EXISTS anomaly_rules (
			id VARCHAR(36) PRIMARY KEY,
			rule_type VARCHAR(20) NOT NULL,
			level VARCHAR(20) NOT NULL DEFAULT '',
			keyword TEXT NOT NULL DEFAULT '',
			template_id BIGINT NOT NULL DEFAULT 0,
			time_window_minutes INTEGER NOT NULL DEFAULT 0,
			threshold_count INTEGER NOT NULL DEFAULT 0,
			cooldown_minutes INTEGER NOT NULL DEFAULT 0,
			per_service BOOLEAN NOT NULL DEFAULT FALSE,
			severity VARCHAR(20) NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rules_type ON anomaly_rules(rule_type);
		CREATE INDEX IF NOT EXISTS idx_rules_active ON anomaly_rules(is_active);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
