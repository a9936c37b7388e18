package storage

import (
	"context"
	"errors"
	"time"

	"fleetwatch/internal/models"
)

// Store errors
var (
	ErrAlertNotFound = errors.New("alert not found")
)

// AlertFilter narrows alert queries. Nil time bounds and a nil Acknowledged
// flag leave that dimension unfiltered. Results are always sorted by
// triggered_at descending.
type AlertFilter struct {
	Start        *time.Time
	End          *time.Time
	Acknowledged *bool
	Limit        int
	Offset       int
}

// SeverityStatusRow is one grouped row of the severity/status aggregation.
type SeverityStatusRow struct {
	Severity     models.Severity
	Total        int64
	Acknowledged int64
}

// OffenderRow is one grouped pivot row, keyed by machine ID or sensor type.
type OffenderRow struct {
	Key          string
	Catastrophic int64
	Critical     int64
	High         int64
	Medium       int64
	Low          int64
	Total        int64
}

// LatestReadingRow identifies the most recent telemetry sample per machine.
type LatestReadingRow struct {
	MachineID  string
	ReadingID  string
	RecordedAt time.Time
}

// AlertStore persists and queries Alert records. The Alert Lifecycle Manager
// is the sole writer; aggregation reads a best-effort snapshot.
type AlertStore interface {
	Insert(ctx context.Context, alert *models.Alert) error

	// Acknowledge marks the alert acknowledged at the given time.
	// Returns ErrAlertNotFound when no row matches.
	Acknowledge(ctx context.Context, alertID string, at time.Time) error

	// Find returns matching alerts sorted by triggered_at descending plus the
	// total match count before limit/offset.
	Find(ctx context.Context, filter AlertFilter) ([]models.Alert, int64, error)

	// CountsBySeverity groups alerts triggered within [start,end] by severity.
	CountsBySeverity(ctx context.Context, start, end time.Time) (map[models.Severity]int64, error)

	// SeverityStatusCounts returns per-severity total and acknowledged counts
	// for alerts triggered within [start,end].
	SeverityStatusCounts(ctx context.Context, start, end time.Time) ([]SeverityStatusRow, error)

	// OffendersByMachine pivots alerts by machine ID and severity. Either
	// time bound may be nil for an open-ended window.
	OffendersByMachine(ctx context.Context, start, end *time.Time) ([]OffenderRow, error)

	// OffendersBySensor is the same pivot keyed by sensor type.
	OffendersBySensor(ctx context.Context, start, end *time.Time) ([]OffenderRow, error)

	// LatestAlertSeverities returns, for each given reading ID that has
	// alerts, the severity of the most recent alert embedding that reading.
	LatestAlertSeverities(ctx context.Context, readingIDs []string) (map[string]models.Severity, error)

	Close() error
}

// TelemetryStore persists raw readings and answers the latest-per-machine query.
type TelemetryStore interface {
	Insert(ctx context.Context, reading *models.TelemetryReading) error

	// LatestPerMachine returns the most recent reading for every machine.
	LatestPerMachine(ctx context.Context) ([]LatestReadingRow, error)

	Close() error
}
