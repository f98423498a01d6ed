package biometrics

import "math"

// FaceMatcher compares face feature vectors by Euclidean distance.
type FaceMatcher struct {
	threshold float64
}

// NewFaceMatcher creates a matcher with the given distance threshold.
// Distances at or below the threshold count as a match.
func NewFaceMatcher(threshold float64) *FaceMatcher {
	return &FaceMatcher{threshold: threshold}
}

// Compare matches a probe vector against an enrolled vector. The score is
// 1 - distance clamped to [0, 1]; a distance exactly equal to the threshold
// is a match. Mismatched or empty vectors score 0 and never match.
func (m *FaceMatcher) Compare(enrolled, probe []float64) (bool, float64) {
	if len(enrolled) == 0 || len(probe) == 0 || len(enrolled) != len(probe) {
		return false, 0.0
	}

	d := euclideanDistance(enrolled, probe)
	score := math.Max(0, 1-d)

	return d <= m.threshold, score
}

// Threshold returns the configured distance threshold.
func (m *FaceMatcher) Threshold() float64 {
	return m.threshold
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
