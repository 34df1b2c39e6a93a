// Package stats implements the trailing-window z-score kernel used by the
// indicator evaluator: mean/variance helpers written by hand, no numerics
// library.
package stats

import "math"

// DefaultWindow is the trailing observation count used by z-score scoring
// unless an indicator specifies otherwise.
const DefaultWindow = 20

// Z computes the z-score of the last value in points against the trailing
// window (minimum 3 observations, sample variance with an n-1 divisor).
// Returns (z, true) normally; (0, false) when there are fewer than 3
// observations in the window or the series is degenerate
// (std < max(1e-6, 1e-3*|mean|)).
func Z(values []float64, window int) (float64, bool) {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(values) > window {
		values = values[len(values)-window:]
	}
	n := len(values)
	if n < 3 {
		return 0, false
	}

	mean := sum(values) / float64(n)

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(n-1)
	std := math.Sqrt(variance)

	guard := math.Max(1e-6, 1e-3*math.Abs(mean))
	if std < guard {
		return 0, false
	}

	last := values[n-1]
	return (last - mean) / std, true
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// PercentileNearestRank returns the pct-th percentile (0-100) of values
// using the nearest-rank method on a sorted-ascending copy:
// sorted[ceil(pct/100*n) - 1]. Matches the ofr_liq_idx composite's
// 80th-percentile cutoff calculation.
func PercentileNearestRank(sortedAscending []float64, pct float64) (float64, bool) {
	n := len(sortedAscending)
	if n == 0 {
		return 0, false
	}
	idx := int(math.Ceil(pct/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sortedAscending[idx], true
}
