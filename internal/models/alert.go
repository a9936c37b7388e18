package models

import (
	"fmt"
	"time"
)

// OptimalRange is the [min,max] band a sensor value is expected to stay in.
type OptimalRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Alert is the persisted record of a single out-of-range sensor value.
// Created exactly once per violating (sensor, reading) pair; mutated only by
// the acknowledge operation; never deleted by the engine.
type Alert struct {
	// Unique identifier for the alert row
	ID string `json:"id"`

	// Deterministic rule identity: {sensor_type}-{deviation_type}-{severity}
	RuleID string `json:"rule_id"`

	SensorType   string       `json:"sensor_type"`
	ActualValue  float64      `json:"actual_value"`
	OptimalRange OptimalRange `json:"optimal_range"`

	// Percentage of range width the value escaped by, always >= 0
	DeviationPercentage float64       `json:"deviation_percentage"`
	DeviationType       DeviationType `json:"deviation_type"`

	// Channel set copied verbatim from the matching threshold at creation time
	Notify []Channel `json:"notify"`

	Severity    Severity  `json:"severity"`
	TriggeredAt time.Time `json:"triggered_at"`

	// Snapshot of the reading that triggered the alert
	TelemetryData TelemetryReading `json:"telemetry_data"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuildRuleID derives the deterministic rule identity for an alert.
func BuildRuleID(sensorType string, dt DeviationType, sev Severity) string {
	return fmt.Sprintf("%s-%s-%s", sensorType, dt, sev)
}

// MachineID returns the machine identifier from the embedded snapshot.
func (a *Alert) MachineID() string {
	return a.TelemetryData.MachineID
}
