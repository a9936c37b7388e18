package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/storage"
)

// Publisher receives newly created alerts after they are persisted. Publish
// failures are logged and discarded; persistence is the durability boundary
// and a failed publish never rolls an alert back.
type Publisher interface {
	PublishAlert(ctx context.Context, alert *models.Alert) error
}

// ListResult is the triple returned by every list operation so callers can
// detect truncation.
type ListResult struct {
	Items         []models.Alert `json:"items"`
	TotalCount    int64          `json:"total_count"`
	ReturnedCount int            `json:"returned_count"`
}

// DefaultListLimit caps list operations when the caller passes limit <= 0.
const DefaultListLimit = 50

// Manager orchestrates evaluation of telemetry readings, alert persistence
// and the acknowledge/query lifecycle. It is the sole writer of Alert rows.
type Manager struct {
	registry   *rules.Registry
	alerts     storage.AlertStore
	telemetry  storage.TelemetryStore
	publishers []Publisher
	log        zerolog.Logger

	// Injectable clock for tests
	now func() time.Time
}

// NewManager wires the lifecycle manager.
func NewManager(registry *rules.Registry, alerts storage.AlertStore, telemetry storage.TelemetryStore, publishers ...Publisher) *Manager {
	return &Manager{
		registry:   registry,
		alerts:     alerts,
		telemetry:  telemetry,
		publishers: publishers,
		log:        logger.WithComponent("engine"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate persists the reading, checks it against every enabled sensor range
// and persists one alert per violation. Returns the newly created alerts in
// sensor-registry order. Sensors that are disabled, absent from the reading
// or carry a NaN value are skipped silently. Store failures are fatal to the
// call; publish failures are not.
func (m *Manager) Evaluate(ctx context.Context, reading *models.TelemetryReading) ([]models.Alert, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationsTotal.Inc()
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	if err := m.telemetry.Insert(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to persist reading %s: %w", reading.ID, err)
	}

	thresholds := m.registry.Thresholds()
	created := make([]models.Alert, 0)

	for _, rng := range m.registry.Ranges() {
		if !rng.Enabled {
			metrics.SensorsSkippedTotal.WithLabelValues("disabled").Inc()
			continue
		}

		value, ok := reading.Value(rng.SensorType)
		if !ok {
			if _, present := reading.Readings[rng.SensorType]; present {
				metrics.SensorsSkippedTotal.WithLabelValues("nan").Inc()
			} else {
				metrics.SensorsSkippedTotal.WithLabelValues("absent").Inc()
			}
			continue
		}

		deviation, ok := rules.Analyze(value, rng)
		if !ok {
			continue
		}

		threshold, ok := rules.Classify(deviation.Percentage, thresholds)
		if !ok {
			// Deviation below every configured floor: no alert.
			continue
		}

		alert := m.buildAlert(reading, rng, value, deviation, threshold)

		if err := m.alerts.Insert(ctx, &alert); err != nil {
			return nil, fmt.Errorf("failed to persist alert %s: %w", alert.RuleID, err)
		}

		metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity), alert.SensorType).Inc()
		m.log.Info().
			Str("alert_id", alert.ID).
			Str("rule_id", alert.RuleID).
			Str("machine_id", reading.MachineID).
			Float64("value", value).
			Float64("deviation_pct", deviation.Percentage).
			Str("severity", string(alert.Severity)).
			Msg("alert created")

		m.publish(ctx, &alert)
		created = append(created, alert)
	}

	return created, nil
}

func (m *Manager) buildAlert(reading *models.TelemetryReading, rng rules.SensorOptimalRange, value float64, deviation rules.DeviationResult, threshold rules.DeviationThreshold) models.Alert {
	now := m.now()

	notify := make([]models.Channel, len(threshold.Notify))
	copy(notify, threshold.Notify)

	return models.Alert{
		ID:                  uuid.New().String(),
		RuleID:              models.BuildRuleID(rng.SensorType, deviation.Type, threshold.Severity),
		SensorType:          rng.SensorType,
		ActualValue:         value,
		OptimalRange:        models.OptimalRange{Min: rng.Min, Max: rng.Max},
		DeviationPercentage: deviation.Percentage,
		DeviationType:       deviation.Type,
		Notify:              notify,
		Severity:            threshold.Severity,
		TriggeredAt:         now,
		TelemetryData:       *reading,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// publish fans the alert out to all publishers. Errors and panics are
// contained here; they never affect the evaluation result.
func (m *Manager) publish(ctx context.Context, alert *models.Alert) {
	for _, pub := range m.publishers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().
						Interface("panic", r).
						Str("alert_id", alert.ID).
						Msg("publisher panic recovered")
					metrics.PanicsRecovered.WithLabelValues("publisher").Inc()
				}
			}()

			if err := pub.PublishAlert(ctx, alert); err != nil {
				m.log.Error().
					Err(err).
					Str("alert_id", alert.ID).
					Msg("alert publish failed")
			}
		}()
	}
}

// Acknowledge marks an alert acknowledged, stamping acknowledged_at with the
// current time. Idempotent; returns storage.ErrAlertNotFound for unknown IDs.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) error {
	if err := m.alerts.Acknowledge(ctx, alertID, m.now()); err != nil {
		return err
	}
	metrics.AlertsAcknowledgedTotal.Inc()
	return nil
}

// ListRecent returns alerts sorted by triggered_at descending.
func (m *Manager) ListRecent(ctx context.Context, limit, offset int) (ListResult, error) {
	return m.list(ctx, storage.AlertFilter{Limit: normalizeLimit(limit), Offset: offset})
}

// ListByDay returns alerts triggered within the given local calendar day.
func (m *Manager) ListByDay(ctx context.Context, date time.Time) (ListResult, error) {
	start, end := DayBounds(date)
	return m.list(ctx, storage.AlertFilter{Start: &start, End: &end, Limit: DefaultListLimit})
}

// ListByAcknowledgment returns alerts filtered by acknowledgment state.
func (m *Manager) ListByAcknowledgment(ctx context.Context, acknowledged bool, limit, offset int) (ListResult, error) {
	return m.list(ctx, storage.AlertFilter{
		Acknowledged: &acknowledged,
		Limit:        normalizeLimit(limit),
		Offset:       offset,
	})
}

func (m *Manager) list(ctx context.Context, filter storage.AlertFilter) (ListResult, error) {
	alerts, total, err := m.alerts.Find(ctx, filter)
	if err != nil {
		return ListResult{}, fmt.Errorf("failed to list alerts: %w", err)
	}
	return ListResult{Items: alerts, TotalCount: total, ReturnedCount: len(alerts)}, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// DayBounds returns [00:00:00.000, 23:59:59.999] of the calendar day holding
// date, in date's location.
func DayBounds(date time.Time) (time.Time, time.Time) {
	year, month, day := date.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}
