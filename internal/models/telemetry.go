package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// TelemetryReading is a single timestamped multi-sensor sample from one machine.
// The engine treats it as read-only input; a snapshot of it is embedded into
// every Alert it triggers.
type TelemetryReading struct {
	// Unique identifier for the reading
	ID string `json:"id"`

	// Machine that produced the sample
	MachineID string `json:"machine_id"`

	// Timestamp when the sample was taken
	RecordedAt time.Time `json:"recorded_at"`

	// Sensor-type -> measured value. Loosely typed at the edge; absent keys
	// and NaN values are skipped during evaluation, never treated as errors.
	Readings map[string]float64 `json:"readings"`
}

// Validation errors
var (
	ErrEmptyReadingID   = errors.New("reading ID cannot be empty")
	ErrEmptyMachineID   = errors.New("machine ID cannot be empty")
	ErrZeroRecordedAt   = errors.New("recorded_at cannot be zero")
	ErrFutureRecordedAt = errors.New("recorded_at cannot be in the future")
	ErrNoReadings       = errors.New("reading must carry at least one sensor value")
	ErrTooManySensors   = errors.New("too many sensor values in one reading")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

const MaxSensorsPerReading = 64

// Validate checks if the reading has all required fields and valid values
func (r *TelemetryReading) Validate() error {
	if r.ID == "" {
		return ErrEmptyReadingID
	}

	if r.MachineID == "" {
		return ErrEmptyMachineID
	}

	if r.RecordedAt.IsZero() {
		return ErrZeroRecordedAt
	}

	if r.RecordedAt.After(time.Now().Add(time.Minute)) {
		return ErrFutureRecordedAt
	}

	if len(r.Readings) == 0 {
		return ErrNoReadings
	}

	if len(r.Readings) > MaxSensorsPerReading {
		return ErrTooManySensors
	}

	return nil
}

// Normalize applies field normalization to a reading
// - trims identifiers
// - trims sensor-type keys and drops empty ones
// - coerces the timestamp to UTC
func (r *TelemetryReading) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.MachineID = strings.TrimSpace(r.MachineID)
	r.RecordedAt = r.RecordedAt.UTC()

	if r.Readings != nil {
		normalized := make(map[string]float64, len(r.Readings))
		for k, v := range r.Readings {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			normalized[key] = v
		}
		r.Readings = normalized
	}
}

// Value returns the measured value for a sensor type. ok is false when the
// sensor is absent from the sample or the value is NaN/Inf.
func (r *TelemetryReading) Value(sensorType string) (float64, bool) {
	v, ok := r.Readings[sensorType]
	if !ok {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
