package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// DSN builds the connection string for a database config
func DSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.WithComponent("database").Info("Connected to PostgreSQL", "database", cfg.Database)
	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("Database connection closed")
	}
}

// Migrations are idempotent and run in order on every start
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS model_usage (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		model VARCHAR(100) NOT NULL,
		tokens INTEGER NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_usage_session ON model_usage(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_model_usage_recorded_at ON model_usage(recorded_at)`,

	`CREATE TABLE IF NOT EXISTS order_executions (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		state VARCHAR(32) NOT NULL,
		entry_order_id VARCHAR(64),
		report JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_executions_symbol ON order_executions(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_order_executions_created_at ON order_executions(created_at)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.WithComponent("database")
	log.Info("Running database migrations", "count", len(Migrations))

	for i, stmt := range Migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Info("Database migrations completed")
	return nil
}
