package models_test

import (
	"math"
	"testing"
	"time"

	"fleetwatch/internal/models"
)

func TestTelemetryReadingValidate(t *testing.T) {
	validReading := func() *models.TelemetryReading {
		return &models.TelemetryReading{
			ID:         "rdg-123",
			MachineID:  "machine-001",
			RecordedAt: time.Now(),
			Readings:   map[string]float64{"Temperature": 22},
		}
	}

	tests := []struct {
		name    string
		modify  func(*models.TelemetryReading)
		wantErr error
	}{
		{"valid reading", func(r *models.TelemetryReading) {}, nil},
		{"empty ID", func(r *models.TelemetryReading) { r.ID = "" }, models.ErrEmptyReadingID},
		{"empty machine ID", func(r *models.TelemetryReading) { r.MachineID = "" }, models.ErrEmptyMachineID},
		{"zero timestamp", func(r *models.TelemetryReading) { r.RecordedAt = time.Time{} }, models.ErrZeroRecordedAt},
		{"future timestamp", func(r *models.TelemetryReading) { r.RecordedAt = time.Now().Add(time.Hour) }, models.ErrFutureRecordedAt},
		{"no readings", func(r *models.TelemetryReading) { r.Readings = nil }, models.ErrNoReadings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReading()
			tt.modify(r)
			err := r.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTelemetryReadingValue(t *testing.T) {
	r := &models.TelemetryReading{
		Readings: map[string]float64{
			"Temperature": 22.5,
			"Humidity":    math.NaN(),
			"Pressure":    math.Inf(1),
		},
	}

	if v, ok := r.Value("Temperature"); !ok || v != 22.5 {
		t.Errorf("Value(Temperature) = %v, %v; want 22.5, true", v, ok)
	}
	if _, ok := r.Value("Humidity"); ok {
		t.Error("Value(Humidity) accepted NaN")
	}
	if _, ok := r.Value("Pressure"); ok {
		t.Error("Value(Pressure) accepted Inf")
	}
	if _, ok := r.Value("Vibration"); ok {
		t.Error("Value(Vibration) reported ok for an absent sensor")
	}
}

func TestTelemetryReadingNormalize(t *testing.T) {
	r := &models.TelemetryReading{
		ID:         "  rdg-1  ",
		MachineID:  " machine-001 ",
		RecordedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.FixedZone("X", 3600)),
		Readings: map[string]float64{
			" Temperature ": 22,
			"":              5,
		},
	}

	r.Normalize()

	if r.ID != "rdg-1" || r.MachineID != "machine-001" {
		t.Errorf("identifiers not trimmed: %q %q", r.ID, r.MachineID)
	}
	if r.RecordedAt.Location() != time.UTC {
		t.Error("timestamp not coerced to UTC")
	}
	if _, ok := r.Readings["Temperature"]; !ok {
		t.Error("sensor key not trimmed")
	}
	if _, ok := r.Readings[""]; ok {
		t.Error("empty sensor key kept")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RFC3339", "2026-08-30T12:00:00Z", false},
		{"space separated", "2026-08-30 12:00:00", false},
		{"garbage", "not-a-time", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestBuildRuleID(t *testing.T) {
	got := models.BuildRuleID("Temperature", models.DeviationAboveMax, models.SeverityCatastrophic)
	want := "Temperature-above_max-catastrophic"
	if got != want {
		t.Errorf("BuildRuleID = %q, want %q", got, want)
	}
}
