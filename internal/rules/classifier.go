package rules

import "sort"

// Classify maps an observed deviation percentage to the matching severity
// tier: thresholds are walked from the highest floor to the lowest and the
// first whose floor is <= the observed percentage wins. The sort is stable so
// equal floors keep their configured order. Returns ok=false when the
// observed percentage is below every configured floor.
func Classify(deviationPercentage float64, thresholds []DeviationThreshold) (DeviationThreshold, bool) {
	sorted := make([]DeviationThreshold, len(thresholds))
	copy(sorted, thresholds)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DeviationPercentage > sorted[j].DeviationPercentage
	})

	for _, t := range sorted {
		if t.DeviationPercentage <= deviationPercentage {
			return t, true
		}
	}
	return DeviationThreshold{}, false
}
