package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// AlertRepository is the Postgres-backed AlertStore.
type AlertRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAlertRepository creates an alert repository over an open connection pool.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: logger.WithComponent("alert_store"),
	}
}

const alertColumns = `
	id, rule_id, sensor_type, actual_value, range_min, range_max,
	deviation_percentage, deviation_type, severity, notify,
	triggered_at, telemetry, acknowledged, acknowledged_at,
	created_at, updated_at`

// Insert persists a new alert row.
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	defer observe("alert_insert", time.Now())

	snapshot, err := json.Marshal(alert.TelemetryData)
	if err != nil {
		return fmt.Errorf("failed to encode telemetry snapshot: %w", err)
	}

	notify := make([]string, len(alert.Notify))
	for i, ch := range alert.Notify {
		notify[i] = string(ch)
	}

	query := `
		INSERT INTO alerts (
			id, rule_id, sensor_type, actual_value, range_min, range_max,
			deviation_percentage, deviation_type, severity, notify,
			triggered_at, machine_id, reading_id, telemetry,
			acknowledged, acknowledged_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.ID,
		alert.RuleID,
		alert.SensorType,
		alert.ActualValue,
		alert.OptimalRange.Min,
		alert.OptimalRange.Max,
		alert.DeviationPercentage,
		string(alert.DeviationType),
		string(alert.Severity),
		pq.Array(notify),
		alert.TriggeredAt,
		alert.TelemetryData.MachineID,
		alert.TelemetryData.ID,
		snapshot,
		alert.Acknowledged,
		alert.AcknowledgedAt,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Acknowledge marks one alert acknowledged. Idempotent: re-acknowledging an
// already-acknowledged alert just bumps acknowledged_at (last write wins).
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID string, at time.Time) error {
	defer observe("alert_acknowledge", time.Now())

	query := `
		UPDATE alerts
		SET acknowledged = TRUE, acknowledged_at = $2, updated_at = $2
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, alertID, at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read acknowledge result: %w", err)
	}
	if affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Find returns matching alerts sorted by triggered_at descending plus the
// total match count before limit/offset are applied.
func (r *AlertRepository) Find(ctx context.Context, filter AlertFilter) ([]models.Alert, int64, error) {
	defer observe("alert_find", time.Now())

	where := ""
	args := []interface{}{}

	appendCond := func(cond string, value interface{}) {
		args = append(args, value)
		if where == "" {
			where = "WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}

	if filter.Start != nil {
		appendCond("triggered_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		appendCond("triggered_at <= $%d", *filter.End)
	}
	if filter.Acknowledged != nil {
		appendCond("acknowledged = $%d", *filter.Acknowledged)
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM alerts " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := "SELECT " + alertColumns + " FROM alerts " + where +
		" ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, total, nil
}

func scanAlert(rows *sql.Rows) (models.Alert, error) {
	var (
		alert          models.Alert
		deviationType  string
		severity       string
		notify         []string
		snapshot       []byte
		acknowledgedAt sql.NullTime
	)

	err := rows.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.SensorType,
		&alert.ActualValue,
		&alert.OptimalRange.Min,
		&alert.OptimalRange.Max,
		&alert.DeviationPercentage,
		&deviationType,
		&severity,
		pq.Array(&notify),
		&alert.TriggeredAt,
		&snapshot,
		&alert.Acknowledged,
		&acknowledgedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.DeviationType = models.DeviationType(deviationType)
	alert.Severity = models.Severity(severity)
	alert.Notify = make([]models.Channel, len(notify))
	for i, ch := range notify {
		alert.Notify[i] = models.Channel(ch)
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if err := json.Unmarshal(snapshot, &alert.TelemetryData); err != nil {
		return models.Alert{}, fmt.Errorf("failed to decode telemetry snapshot: %w", err)
	}

	return alert, nil
}

// CountsBySeverity groups alerts triggered within [start,end] by severity.
func (r *AlertRepository) CountsBySeverity(ctx context.Context, start, end time.Time) (map[models.Severity]int64, error) {
	defer observe("alert_counts_by_severity", time.Now())

	query := `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE triggered_at >= $1 AND triggered_at <= $2
		GROUP BY severity
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[models.Severity(severity)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate severity counts: %w", err)
	}
	return counts, nil
}

// SeverityStatusCounts returns per-severity total and acknowledged counts for
// alerts triggered within [start,end].
func (r *AlertRepository) SeverityStatusCounts(ctx context.Context, start, end time.Time) ([]SeverityStatusRow, error) {
	defer observe("alert_severity_status_counts", time.Now())

	query := `
		SELECT severity,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE acknowledged) AS acknowledged
		FROM alerts
		WHERE triggered_at >= $1 AND triggered_at <= $2
		GROUP BY severity
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count severity/status: %w", err)
	}
	defer rows.Close()

	out := make([]SeverityStatusRow, 0)
	for rows.Next() {
		var row SeverityStatusRow
		var severity string
		if err := rows.Scan(&severity, &row.Total, &row.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan severity/status row: %w", err)
		}
		row.Severity = models.Severity(severity)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate severity/status rows: %w", err)
	}
	return out, nil
}

// OffendersByMachine pivots alerts by machine ID and severity.
func (r *AlertRepository) OffendersByMachine(ctx context.Context, start, end *time.Time) ([]OffenderRow, error) {
	defer observe("alert_offenders_by_machine", time.Now())
	return r.offenders(ctx, "machine_id", start, end)
}

// OffendersBySensor pivots alerts by sensor type and severity.
func (r *AlertRepository) OffendersBySensor(ctx context.Context, start, end *time.Time) ([]OffenderRow, error) {
	defer observe("alert_offenders_by_sensor", time.Now())
	return r.offenders(ctx, "sensor_type", start, end)
}

func (r *AlertRepository) offenders(ctx context.Context, keyColumn string, start, end *time.Time) ([]OffenderRow, error) {
	where := ""
	args := []interface{}{}
	if start != nil {
		args = append(args, *start)
		where = fmt.Sprintf("WHERE triggered_at >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		if where == "" {
			where = fmt.Sprintf("WHERE triggered_at <= $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND triggered_at <= $%d", len(args))
		}
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       SUM(CASE WHEN severity = 'catastrophic' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN severity = 'high' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN severity = 'medium' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN severity = 'low' THEN 1 ELSE 0 END),
		       COUNT(*) AS total
		FROM alerts
		%s
		GROUP BY %s
	`, keyColumn, where, keyColumn)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offenders by %s: %w", keyColumn, err)
	}
	defer rows.Close()

	out := make([]OffenderRow, 0)
	for rows.Next() {
		var row OffenderRow
		if err := rows.Scan(&row.Key, &row.Catastrophic, &row.Critical, &row.High, &row.Medium, &row.Low, &row.Total); err != nil {
			return nil, fmt.Errorf("failed to scan offender row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offender rows: %w", err)
	}
	return out, nil
}

// LatestAlertSeverities returns the severity of the most recent alert per
// reading ID, for readings that have at least one alert.
func (r *AlertRepository) LatestAlertSeverities(ctx context.Context, readingIDs []string) (map[string]models.Severity, error) {
	defer observe("alert_latest_severities", time.Now())

	if len(readingIDs) == 0 {
		return map[string]models.Severity{}, nil
	}

	query := `
		SELECT DISTINCT ON (reading_id) reading_id, severity
		FROM alerts
		WHERE reading_id = ANY($1)
		ORDER BY reading_id, triggered_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(readingIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest alert severities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Severity)
	for rows.Next() {
		var readingID, severity string
		if err := rows.Scan(&readingID, &severity); err != nil {
			return nil, fmt.Errorf("failed to scan latest severity row: %w", err)
		}
		out[readingID] = models.Severity(severity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate latest severity rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the repository does not own the connection pool.
func (r *AlertRepository) Close() error { return nil }

func observe(operation string, start time.Time) {
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
