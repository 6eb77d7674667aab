// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
// Token amounts are stored as NUMERIC(78, 0): wide enough for any uint256,
// exact, and sortable.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS strategy_configs (
			config_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			target_idle_bps BIGINT NOT NULL,
			target_idle_buffer_bps BIGINT NOT NULL,
			min_asset NUMERIC(78, 0) NOT NULL,
			max_swap_value NUMERIC(78, 0) NOT NULL,
			min_tend_wait_seconds BIGINT NOT NULL,
			paired_token_discount_bps BIGINT NOT NULL,
			deposit_limit NUMERIC(78, 0) NOT NULL,
			CONSTRAINT uq_strategy_configs_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_strategy_configs_active ON strategy_configs(config_name, is_active, activated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_strategy_configs_timestamp ON strategy_configs(config_name, activated_at DESC);

		CREATE TABLE IF NOT EXISTS tend_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			tend_id VARCHAR(64) NOT NULL UNIQUE,
			tend_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			config_id INTEGER REFERENCES strategy_configs(config_id),
			action VARCHAR(32) NOT NULL,

			-- Full measured state, before and after
			before_state JSONB,
			after_state JSONB,
			swap_detail JSONB,

			-- Flat copies of the headline numbers for indexing and aggregates
			shares_withdrawn NUMERIC(78, 0) NOT NULL DEFAULT 0,
			shares_minted NUMERIC(78, 0) NOT NULL DEFAULT 0,
			total_before NUMERIC(78, 0) NOT NULL DEFAULT 0,
			total_after NUMERIC(78, 0) NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,

			tx_hashes TEXT[],
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tend_snapshots_timestamp ON tend_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_tend_snapshots_number ON tend_snapshots(tend_number DESC);
		CREATE INDEX IF NOT EXISTS idx_tend_snapshots_action ON tend_snapshots(action);

		-- Tend counter table for persistent numbering across restarts
		CREATE TABLE IF NOT EXISTS tend_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_tend INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO tend_counter (id, current_tend)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
