package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/storage"
)

func TestMain(m *testing.M) {
	logger.Init("disabled")
	m.Run()
}

type fakeAlertStore struct {
	mu        sync.Mutex
	alerts    []models.Alert
	insertErr error
}

func (s *fakeAlertStore) Insert(_ context.Context, alert *models.Alert) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *fakeAlertStore) Acknowledge(_ context.Context, alertID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].Acknowledged = true
			s.alerts[i].AcknowledgedAt = &at
			return nil
		}
	}
	return storage.ErrAlertNotFound
}

func (s *fakeAlertStore) Find(_ context.Context, filter storage.AlertFilter) ([]models.Alert, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]models.Alert, 0)
	for _, a := range s.alerts {
		if filter.Start != nil && a.TriggeredAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && a.TriggeredAt.After(*filter.End) {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		matched = append(matched, a)
	}

	total := int64(len(matched))
	if filter.Offset > 0 && filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else if filter.Offset >= len(matched) {
		matched = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *fakeAlertStore) CountsBySeverity(context.Context, time.Time, time.Time) (map[models.Severity]int64, error) {
	return nil, nil
}

func (s *fakeAlertStore) SeverityStatusCounts(context.Context, time.Time, time.Time) ([]storage.SeverityStatusRow, error) {
	return nil, nil
}

func (s *fakeAlertStore) OffendersByMachine(context.Context, *time.Time, *time.Time) ([]storage.OffenderRow, error) {
	return nil, nil
}

func (s *fakeAlertStore) OffendersBySensor(context.Context, *time.Time, *time.Time) ([]storage.OffenderRow, error) {
	return nil, nil
}

func (s *fakeAlertStore) LatestAlertSeverities(context.Context, []string) (map[string]models.Severity, error) {
	return nil, nil
}

func (s *fakeAlertStore) Close() error { return nil }

type fakeTelemetryStore struct {
	mu        sync.Mutex
	readings  []models.TelemetryReading
	insertErr error
}

func (s *fakeTelemetryStore) Insert(_ context.Context, reading *models.TelemetryReading) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, *reading)
	return nil
}

func (s *fakeTelemetryStore) LatestPerMachine(context.Context) ([]storage.LatestReadingRow, error) {
	return nil, nil
}

func (s *fakeTelemetryStore) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
	panics bool
}

func (p *recordingPublisher) PublishAlert(_ context.Context, alert *models.Alert) error {
	if p.panics {
		panic("publisher exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, *alert)
	return p.err
}

func testReading(values map[string]float64) *models.TelemetryReading {
	return &models.TelemetryReading{
		ID:         "rdg-1",
		MachineID:  "machine-001",
		RecordedAt: time.Now().UTC(),
		Readings:   values,
	}
}

func newTestManager(publishers ...Publisher) (*Manager, *fakeAlertStore, *fakeTelemetryStore) {
	alerts := &fakeAlertStore{}
	telemetry := &fakeTelemetryStore{}
	m := NewManager(rules.NewRegistry(nil, nil), alerts, telemetry, publishers...)
	return m, alerts, telemetry
}

func TestEvaluateSingleViolation(t *testing.T) {
	pub := &recordingPublisher{}
	m, store, telemetry := newTestManager(pub)

	// Temperature in range, Humidity 35 below [40,60]: one medium alert.
	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Temperature": 22,
		"Humidity":    35,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}

	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(created))
	}

	alert := created[0]
	if alert.SensorType != "Humidity" {
		t.Errorf("sensor type = %s, want Humidity", alert.SensorType)
	}
	if alert.DeviationType != models.DeviationBelowMin {
		t.Errorf("deviation type = %s, want below_min", alert.DeviationType)
	}
	if math.Abs(alert.DeviationPercentage-25) > 1e-9 {
		t.Errorf("deviation percentage = %v, want 25", alert.DeviationPercentage)
	}
	if alert.Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want medium", alert.Severity)
	}
	if alert.RuleID != "Humidity-below_min-medium" {
		t.Errorf("rule ID = %s, want Humidity-below_min-medium", alert.RuleID)
	}
	if alert.TelemetryData.MachineID != "machine-001" {
		t.Errorf("telemetry snapshot lost machine ID: %q", alert.TelemetryData.MachineID)
	}

	if len(store.alerts) != 1 {
		t.Errorf("persisted %d alerts, want 1", len(store.alerts))
	}
	if len(telemetry.readings) != 1 {
		t.Errorf("persisted %d readings, want 1", len(telemetry.readings))
	}
	if len(pub.alerts) != 1 {
		t.Errorf("published %d alerts, want 1", len(pub.alerts))
	}
}

func TestEvaluateCatastrophic(t *testing.T) {
	m, _, _ := newTestManager()

	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Temperature": 40.5,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(created))
	}

	alert := created[0]
	if alert.Severity != models.SeverityCatastrophic {
		t.Errorf("severity = %s, want catastrophic", alert.Severity)
	}
	if alert.DeviationType != models.DeviationAboveMax {
		t.Errorf("deviation type = %s, want above_max", alert.DeviationType)
	}
	if math.Abs(alert.DeviationPercentage-150) > 1e-9 {
		t.Errorf("deviation percentage = %v, want 150", alert.DeviationPercentage)
	}
}

func TestEvaluateSkipsBadValues(t *testing.T) {
	m, store, _ := newTestManager()

	// NaN must be skipped without aborting evaluation of the other sensors.
	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Temperature": math.NaN(),
		"Humidity":    70, // above [40,60] by 50% -> critical
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(created))
	}
	if created[0].SensorType != "Humidity" {
		t.Errorf("alert on %s, want Humidity", created[0].SensorType)
	}
	if len(store.alerts) != 1 {
		t.Errorf("persisted %d alerts, want 1", len(store.alerts))
	}
}

func TestEvaluateSkipsDisabledSensors(t *testing.T) {
	registry := rules.NewRegistry([]rules.SensorOptimalRange{
		{SensorType: "Temperature", Min: 18, Max: 27, Enabled: false},
	}, nil)
	alerts := &fakeAlertStore{}
	m := NewManager(registry, alerts, &fakeTelemetryStore{})

	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Temperature": 100,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("created %d alerts for a disabled sensor, want 0", len(created))
	}
}

func TestEvaluateRegistryOrder(t *testing.T) {
	registry := rules.NewRegistry([]rules.SensorOptimalRange{
		{SensorType: "Voltage", Min: 210, Max: 240, Enabled: true},
		{SensorType: "Temperature", Min: 18, Max: 27, Enabled: true},
	}, nil)
	m := NewManager(registry, &fakeAlertStore{}, &fakeTelemetryStore{})

	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Temperature": 40.5,
		"Voltage":     300,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d alerts, want 2", len(created))
	}
	if created[0].SensorType != "Voltage" || created[1].SensorType != "Temperature" {
		t.Errorf("alerts out of registry order: %s, %s", created[0].SensorType, created[1].SensorType)
	}
}

func TestEvaluatePublishFailureDoesNotPropagate(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	panicking := &recordingPublisher{panics: true}
	m, store, _ := newTestManager(failing, panicking)

	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Humidity": 70,
	}))
	if err != nil {
		t.Fatalf("Evaluate failed because of a publisher: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(created))
	}
	if len(store.alerts) != 1 {
		t.Errorf("persisted %d alerts, want 1", len(store.alerts))
	}
}

func TestEvaluateStoreErrorIsFatal(t *testing.T) {
	alerts := &fakeAlertStore{insertErr: errors.New("connection refused")}
	m := NewManager(rules.NewRegistry(nil, nil), alerts, &fakeTelemetryStore{})

	_, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Humidity": 70,
	}))
	if err == nil {
		t.Fatal("Evaluate swallowed a store error")
	}
}

func TestAcknowledge(t *testing.T) {
	m, store, _ := newTestManager()

	created, err := m.Evaluate(context.Background(), testReading(map[string]float64{
		"Humidity": 70,
	}))
	if err != nil || len(created) != 1 {
		t.Fatalf("setup failed: %v, %d alerts", err, len(created))
	}

	if err := m.Acknowledge(context.Background(), created[0].ID); err != nil {
		t.Fatalf("Acknowledge returned error: %v", err)
	}
	if !store.alerts[0].Acknowledged || store.alerts[0].AcknowledgedAt == nil {
		t.Error("alert not marked acknowledged")
	}

	// Idempotent: second acknowledge succeeds.
	if err := m.Acknowledge(context.Background(), created[0].ID); err != nil {
		t.Errorf("second Acknowledge returned error: %v", err)
	}
}

func TestAcknowledgeUnknownID(t *testing.T) {
	m, store, _ := newTestManager()

	err := m.Acknowledge(context.Background(), "unknown-id")
	if !errors.Is(err, storage.ErrAlertNotFound) {
		t.Errorf("Acknowledge(unknown) error = %v, want ErrAlertNotFound", err)
	}
	if len(store.alerts) != 0 {
		t.Error("store state changed by a failed acknowledge")
	}
}

func TestListRecent(t *testing.T) {
	m, _, _ := newTestManager()

	for i := 0; i < 3; i++ {
		reading := testReading(map[string]float64{"Humidity": 70})
		if _, err := m.Evaluate(context.Background(), reading); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}

	result, err := m.ListRecent(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if result.TotalCount != 3 {
		t.Errorf("total count = %d, want 3", result.TotalCount)
	}
	if result.ReturnedCount != 2 || len(result.Items) != 2 {
		t.Errorf("returned count = %d (%d items), want 2", result.ReturnedCount, len(result.Items))
	}
}

func TestDayBounds(t *testing.T) {
	date := time.Date(2026, 8, 30, 14, 33, 12, 0, time.Local)
	start, end := DayBounds(date)

	if start.Hour() != 0 || start.Minute() != 0 || start.Second() != 0 {
		t.Errorf("start = %v, want midnight", start)
	}
	if end.Hour() != 23 || end.Minute() != 59 || end.Second() != 59 {
		t.Errorf("end = %v, want 23:59:59", end)
	}
	if !end.After(start) {
		t.Error("end not after start")
	}
	if end.Sub(start) >= 24*time.Hour {
		t.Error("day window spans more than 24 hours")
	}
}
