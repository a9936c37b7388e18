package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"
)

// TelemetryRepository is the Postgres-backed TelemetryStore.
type TelemetryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTelemetryRepository creates a telemetry repository over an open pool.
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{
		db:  db,
		log: logger.WithComponent("telemetry_store"),
	}
}

// Insert persists one raw reading.
func (r *TelemetryRepository) Insert(ctx context.Context, reading *models.TelemetryReading) error {
	defer observe("telemetry_insert", time.Now())

	payload, err := json.Marshal(reading.Readings)
	if err != nil {
		return fmt.Errorf("failed to encode readings: %w", err)
	}

	query := `
		INSERT INTO telemetry (id, machine_id, recorded_at, readings, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query,
		reading.ID,
		reading.MachineID,
		reading.RecordedAt,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// LatestPerMachine returns the most recent reading for every machine.
func (r *TelemetryRepository) LatestPerMachine(ctx context.Context) ([]LatestReadingRow, error) {
	defer observe("telemetry_latest_per_machine", time.Now())

	query := `
		SELECT DISTINCT ON (machine_id) machine_id, id, recorded_at
		FROM telemetry
		ORDER BY machine_id, recorded_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	out := make([]LatestReadingRow, 0)
	for rows.Next() {
		var row LatestReadingRow
		if err := rows.Scan(&row.MachineID, &row.ReadingID, &row.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan latest reading row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate latest reading rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the repository does not own the connection pool.
func (r *TelemetryRepository) Close() error { return nil }
