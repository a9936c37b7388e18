package rules

import (
	"testing"

	"fleetwatch/internal/models"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry(nil, nil)

	ranges := r.Ranges()
	if len(ranges) == 0 {
		t.Fatal("default registry has no ranges")
	}
	for _, rng := range ranges {
		if rng.Max <= rng.Min {
			t.Errorf("default range %s has max <= min", rng.SensorType)
		}
	}

	thresholds := r.Thresholds()
	if len(thresholds) != 5 {
		t.Fatalf("default registry has %d thresholds, want 5", len(thresholds))
	}
}

func TestRegistrySetRangeReplaces(t *testing.T) {
	r := NewRegistry(nil, nil)

	if err := r.SetRange(SensorOptimalRange{SensorType: "Temperature", Min: 0, Max: 100, Unit: "°C", Enabled: true}); err != nil {
		t.Fatalf("SetRange returned error: %v", err)
	}

	count := 0
	for _, rng := range r.Ranges() {
		if rng.SensorType == "Temperature" {
			count++
			if rng.Max != 100 {
				t.Errorf("Temperature max = %v, want 100", rng.Max)
			}
		}
	}
	if count != 1 {
		t.Errorf("found %d Temperature entries, want exactly 1", count)
	}
}

func TestRegistrySetRangeInvalid(t *testing.T) {
	r := NewRegistry(nil, nil)

	err := r.SetRange(SensorOptimalRange{SensorType: "Temperature", Min: 50, Max: 50})
	if err != ErrInvalidRange {
		t.Errorf("SetRange(min==max) error = %v, want ErrInvalidRange", err)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry(nil, nil)

	snapshot := r.Ranges()
	snapshot[0].Max = -999

	if r.Ranges()[0].Max == -999 {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestRegistrySetThresholds(t *testing.T) {
	r := NewRegistry(nil, nil)

	next := []DeviationThreshold{
		{Severity: models.SeverityLow, DeviationPercentage: 5, Notify: []models.Channel{models.ChannelInApp}},
	}
	r.SetThresholds(next)

	got := r.Thresholds()
	if len(got) != 1 || got[0].DeviationPercentage != 5 {
		t.Errorf("SetThresholds not applied: got %+v", got)
	}

	// Mutating the caller's slice afterwards must not affect the registry.
	next[0].DeviationPercentage = 99
	if r.Thresholds()[0].DeviationPercentage != 5 {
		t.Error("registry aliased the caller's threshold slice")
	}
}
