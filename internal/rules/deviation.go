package rules

import "fleetwatch/internal/models"

// DeviationResult describes how far outside the optimal range a value fell.
type DeviationResult struct {
	// Distance past the violated boundary as a percentage of range width
	Percentage float64

	// Which boundary was violated
	Type models.DeviationType
}

// Analyze computes the signed deviation of value against the sensor's optimal
// range. Returns ok=false for in-range values, including the exact boundaries.
// The caller guarantees rng.Max > rng.Min; a degenerate range is a
// configuration error, not a runtime condition.
func Analyze(value float64, rng SensorOptimalRange) (DeviationResult, bool) {
	if value >= rng.Min && value <= rng.Max {
		return DeviationResult{}, false
	}

	width := rng.Max - rng.Min

	if value > rng.Max {
		return DeviationResult{
			Percentage: (value - rng.Max) / width * 100,
			Type:       models.DeviationAboveMax,
		}, true
	}

	return DeviationResult{
		Percentage: (rng.Min - value) / width * 100,
		Type:       models.DeviationBelowMin,
	}, true
}
