package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log := logger.WithComponent("storage")
	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("postgres connected")

	return db, nil
}

// EnsureSchema creates the alert and telemetry tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id                   UUID PRIMARY KEY,
			rule_id              TEXT NOT NULL,
			sensor_type          TEXT NOT NULL,
			actual_value         DOUBLE PRECISION NOT NULL,
			range_min            DOUBLE PRECISION NOT NULL,
			range_max            DOUBLE PRECISION NOT NULL,
			deviation_percentage DOUBLE PRECISION NOT NULL,
			deviation_type       TEXT NOT NULL,
			severity             TEXT NOT NULL,
			notify               TEXT[] NOT NULL,
			triggered_at         TIMESTAMPTZ NOT NULL,
			machine_id           TEXT NOT NULL,
			reading_id           UUID NOT NULL,
			telemetry            JSONB NOT NULL,
			acknowledged         BOOLEAN NOT NULL DEFAULT FALSE,
			acknowledged_at      TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts (triggered_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_machine_id ON alerts (machine_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_reading_id ON alerts (reading_id)`,
		`CREATE TABLE IF NOT EXISTS telemetry (
			id          UUID PRIMARY KEY,
			machine_id  TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			readings    JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_machine_recorded ON telemetry (machine_id, recorded_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
