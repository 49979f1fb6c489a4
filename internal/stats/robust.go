// Package stats provides weighted robust statistics primitives used by the
// trait value-model fitter. All functions are pure and tolerate empty or
// single-element inputs.
package stats

import (
	"math"
	"sort"
)

// MADScale converts a median absolute deviation into an approximate standard
// deviation under normality.
const MADScale = 1.4826

// zScoreEpsilon guards the robust z-score against division by zero.
const zScoreEpsilon = 1e-10

// WeightedMedian returns the weighted median of values: pairs are sorted
// ascending by value and the cumulative weight is walked until it reaches half
// the total. The boundary element is returned as-is, without interpolation.
// The second return is false when the input is empty or carries no weight.
func WeightedMedian(values, weights []float64) (float64, bool) {
	return WeightedQuantile(values, weights, 0.5)
}

// WeightedQuantile generalizes WeightedMedian to an arbitrary quantile
// q in [0,1].
func WeightedQuantile(values, weights []float64, q float64) (float64, bool) {
	if len(values) == 0 || len(values) != len(weights) {
		return 0, false
	}

	type pair struct {
		v, w float64
	}
	pairs := make([]pair, 0, len(values))
	total := 0.0
	for i, v := range values {
		w := weights[i]
		if w <= 0 {
			continue
		}
		pairs = append(pairs, pair{v: v, w: w})
		total += w
	}
	if len(pairs) == 0 || total <= 0 {
		return 0, false
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	target := q * total
	cum := 0.0
	for _, p := range pairs {
		cum += p.w
		if cum >= target {
			return p.v, true
		}
	}
	return pairs[len(pairs)-1].v, true
}

// WeightedMean returns the weighted average of values. The second return is
// false when the input is empty or the total weight is zero.
func WeightedMean(values, weights []float64) (float64, bool) {
	if len(values) == 0 || len(values) != len(weights) {
		return 0, false
	}
	sum, total := 0.0, 0.0
	for i, v := range values {
		w := weights[i]
		if w <= 0 {
			continue
		}
		sum += v * w
		total += w
	}
	if total <= 0 {
		return 0, false
	}
	return sum / total, true
}

// RobustMAD returns the weighted median absolute deviation of values around
// median, scaled by MADScale.
func RobustMAD(values, weights []float64, median float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - median)
	}
	mad, ok := WeightedMedian(devs, weights)
	if !ok {
		return 0, false
	}
	return mad * MADScale, true
}

// RobustZScore returns |value - median| / (mad + epsilon). A zero or invalid
// MAD yields 0 rather than an unbounded score.
func RobustZScore(value, median, mad float64) float64 {
	if mad <= 0 || math.IsNaN(mad) {
		return 0
	}
	return math.Abs(value-median) / (mad + zScoreEpsilon)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
