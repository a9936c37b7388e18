package rules

import (
	"errors"
	"sync"

	"fleetwatch/internal/models"
)

// SensorOptimalRange is the per-sensor configuration entry. One entry per
// distinct sensor type; disabled sensors are skipped during evaluation.
type SensorOptimalRange struct {
	SensorType string  `json:"sensor_type"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Unit       string  `json:"unit"`
	Enabled    bool    `json:"enabled"`
}

// DeviationThreshold maps a deviation-percentage floor to a severity tier and
// the notification channels for that tier.
type DeviationThreshold struct {
	Severity            models.Severity  `json:"severity"`
	DeviationPercentage float64          `json:"deviation_percentage"`
	Notify              []models.Channel `json:"notify"`
}

// ErrInvalidRange rejects configuration where max is not above min.
var ErrInvalidRange = errors.New("optimal range must have max > min")

// Registry holds the process-wide range and threshold configuration.
// Reads during evaluation take an immutable snapshot; updates swap the whole
// slice under the lock so concurrent evaluation never observes a half-updated
// configuration.
type Registry struct {
	mu         sync.RWMutex
	ranges     []SensorOptimalRange
	thresholds []DeviationThreshold
}

// NewRegistry creates a registry with the given configuration. Nil slices
// fall back to the defaults.
func NewRegistry(ranges []SensorOptimalRange, thresholds []DeviationThreshold) *Registry {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Registry{ranges: ranges, thresholds: thresholds}
}

// Ranges returns a snapshot of the configured sensor ranges in registry order.
func (r *Registry) Ranges() []SensorOptimalRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SensorOptimalRange, len(r.ranges))
	copy(out, r.ranges)
	return out
}

// Thresholds returns a snapshot of the configured deviation thresholds.
func (r *Registry) Thresholds() []DeviationThreshold {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviationThreshold, len(r.thresholds))
	copy(out, r.thresholds)
	return out
}

// SetRange inserts or replaces the range for one sensor type.
func (r *Registry) SetRange(rng SensorOptimalRange) error {
	if rng.Max <= rng.Min {
		return ErrInvalidRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]SensorOptimalRange, len(r.ranges))
	copy(next, r.ranges)

	for i, existing := range next {
		if existing.SensorType == rng.SensorType {
			next[i] = rng
			r.ranges = next
			return nil
		}
	}
	r.ranges = append(next, rng)
	return nil
}

// SetThresholds replaces the whole threshold list atomically.
func (r *Registry) SetThresholds(thresholds []DeviationThreshold) {
	next := make([]DeviationThreshold, len(thresholds))
	copy(next, thresholds)

	r.mu.Lock()
	r.thresholds = next
	r.mu.Unlock()
}

// DefaultRanges returns the fleet's stock sensor configuration.
func DefaultRanges() []SensorOptimalRange {
	return []SensorOptimalRange{
		{SensorType: "Temperature", Min: 18, Max: 27, Unit: "°C", Enabled: true},
		{SensorType: "Humidity", Min: 40, Max: 60, Unit: "%", Enabled: true},
		{SensorType: "Pressure", Min: 95, Max: 110, Unit: "kPa", Enabled: true},
		{SensorType: "Vibration", Min: 0.2, Max: 2.5, Unit: "mm/s", Enabled: true},
		{SensorType: "Voltage", Min: 210, Max: 240, Unit: "V", Enabled: true},
		{SensorType: "RPM", Min: 1200, Max: 3600, Unit: "rpm", Enabled: true},
	}
}

// DefaultThresholds returns the stock severity tiers. The lowest floor is 10%,
// so deviations under 10% of the range width never raise an alert.
func DefaultThresholds() []DeviationThreshold {
	return []DeviationThreshold{
		{Severity: models.SeverityLow, DeviationPercentage: 10, Notify: []models.Channel{models.ChannelInApp}},
		{Severity: models.SeverityMedium, DeviationPercentage: 20, Notify: []models.Channel{models.ChannelInApp, models.ChannelEmail}},
		{Severity: models.SeverityHigh, DeviationPercentage: 35, Notify: []models.Channel{models.ChannelInApp, models.ChannelEmail}},
		{Severity: models.SeverityCritical, DeviationPercentage: 50, Notify: []models.Channel{models.ChannelInApp, models.ChannelEmail, models.ChannelSMS}},
		{Severity: models.SeverityCatastrophic, DeviationPercentage: 90, Notify: []models.Channel{models.ChannelInApp, models.ChannelEmail, models.ChannelSMS}},
	}
}
