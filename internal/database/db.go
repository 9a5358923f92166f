// Package database owns the Postgres connection pool and the eight-table
// schema the core persists to (users, subscriptions, alerts,
// user_preferences, screening_schedules, signal_history, user_features,
// subscription_history), using a pgxpool.Config setup and an
// ordered-[]string migration runner applied to this system's own schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Config holds Postgres connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DB wraps the pgx connection pool every Repository method runs against.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB opens and pings a connection pool for cfg.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("database connection closed")
	}
}

// RunMigrations applies every table/index the core and its peripheral
// collaborators (billing, feature flags) require. Each statement is
// idempotent (CREATE ... IF NOT EXISTS) so RunMigrations is safe to call on
// every process start.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			chat_id BIGINT PRIMARY KEY,
			username VARCHAR(64) NOT NULL DEFAULT '',
			first_name VARCHAR(128) NOT NULL DEFAULT '',
			last_name VARCHAR(128) NOT NULL DEFAULT '',
			role VARCHAR(32) NOT NULL DEFAULT 'user',
			tier VARCHAR(16) NOT NULL DEFAULT 'free',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			subscription_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chat_id, symbol, timeframe)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_chat_id ON subscriptions(chat_id)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			alert_type VARCHAR(8) NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			triggered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_untriggered ON alerts(triggered) WHERE triggered = FALSE`,

		`CREATE TABLE IF NOT EXISTS user_preferences (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			key VARCHAR(64) NOT NULL,
			value TEXT NOT NULL,
			UNIQUE (chat_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS screening_schedules (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			timeframe VARCHAR(8) NOT NULL,
			interval_minutes INT NOT NULL,
			min_score DOUBLE PRECISION NOT NULL DEFAULT 60,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_run TIMESTAMPTZ,
			UNIQUE (chat_id, timeframe)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_screening_schedules_due ON screening_schedules(enabled, last_run)`,

		`CREATE TABLE IF NOT EXISTS signal_history (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			signal_type VARCHAR(8) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			entries JSONB NOT NULL,
			take_profits JSONB NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			outcome VARCHAR(16) NOT NULL DEFAULT 'pending',
			actual_outcome DOUBLE PRECISION,
			outcome_at TIMESTAMPTZ,
			plan_id VARCHAR(64) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_history_user_id ON signal_history(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_history_symbol ON signal_history(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_history_outcome ON signal_history(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_history_generated_at ON signal_history(generated_at)`,

		`CREATE TABLE IF NOT EXISTS user_features (
			chat_id BIGINT NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			feature_name VARCHAR(64) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			UNIQUE (chat_id, feature_name)
		)`,

		`CREATE TABLE IF NOT EXISTS subscription_history (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			tier VARCHAR(16) NOT NULL,
			action VARCHAR(32) NOT NULL,
			duration_days INT NOT NULL DEFAULT 0,
			payment_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			payment_method VARCHAR(32) NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Info().Int("count", len(migrations)).Msg("database migrations applied")
	return nil
}
