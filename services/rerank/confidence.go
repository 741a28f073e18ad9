package rerank

import "sort"

var confidenceWeights = [3]float64{0.5, 0.3, 0.2}

// Confidence is the weighted mean of the three best scores, renormalized
// when fewer are available. It is advisory and always in [0, 1].
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	n := len(sorted)
	if n > len(confidenceWeights) {
		n = len(confidenceWeights)
	}

	var sum, weight float64
	for i := 0; i < n; i++ {
		sum += confidenceWeights[i] * clamp01(sorted[i])
		weight += confidenceWeights[i]
	}

	return clamp01(sum / weight)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
