package biometrics

import "math"

// Weights of the three voice similarity signals. Relative magnitude difference
// and Pearson correlation carry slightly more weight than cosine similarity;
// the scale-invariant signals (correlation, cosine) compensate for recording
// level differences while the magnitude-aware one separates similar voices.
const (
	voiceRelativeWeight = 0.35
	voiceCorrWeight     = 0.35
	voiceCosineWeight   = 0.30

	voiceEpsilon = 1e-8
)

// VoiceMatcher compares voice feature vectors with a three-signal fusion:
// mean relative difference, Pearson correlation and cosine similarity.
type VoiceMatcher struct {
	strictThreshold     float64
	continuousThreshold float64
}

// NewVoiceMatcher creates a matcher with a strict threshold for one-shot
// identity verification and a softer one for continuous proctoring checks.
func NewVoiceMatcher(strictThreshold, continuousThreshold float64) *VoiceMatcher {
	return &VoiceMatcher{
		strictThreshold:     strictThreshold,
		continuousThreshold: continuousThreshold,
	}
}

// CompareStrict matches with the one-shot verification threshold.
func (m *VoiceMatcher) CompareStrict(enrolled, probe []float64) (bool, float64) {
	return m.compare(enrolled, probe, m.strictThreshold)
}

// CompareContinuous matches with the continuous-check threshold.
func (m *VoiceMatcher) CompareContinuous(enrolled, probe []float64) (bool, float64) {
	return m.compare(enrolled, probe, m.continuousThreshold)
}

// compare scores two vectors of identical dimensionality. A dimensionality
// mismatch means the stored template predates the current extractor and is
// reported as (false, 0) rather than an error; re-enrollment resolves it.
func (m *VoiceMatcher) compare(enrolled, probe []float64, threshold float64) (bool, float64) {
	if len(enrolled) == 0 || len(probe) == 0 || len(enrolled) != len(probe) {
		return false, 0.0
	}

	relScore := relativeScore(enrolled, probe)
	corrScore := correlationScore(enrolled, probe)
	cosScore := cosineScore(enrolled, probe)

	combined := voiceRelativeWeight*relScore + voiceCorrWeight*corrScore + voiceCosineWeight*cosScore

	return combined >= threshold, combined
}

// StrictThreshold returns the one-shot verification threshold.
func (m *VoiceMatcher) StrictThreshold() float64 {
	return m.strictThreshold
}

// ContinuousThreshold returns the continuous-check threshold.
func (m *VoiceMatcher) ContinuousThreshold() float64 {
	return m.continuousThreshold
}

// relativeScore maps the mean elementwise relative difference onto [0, 1].
// Differences of 80% or more of the local magnitude score zero.
func relativeScore(a, b []float64) float64 {
	var sum float64
	for i := range a {
		mean := (math.Abs(a[i]) + math.Abs(b[i])) / 2
		sum += math.Abs(a[i]-b[i]) / (mean + voiceEpsilon)
	}
	meanRelDiff := sum / float64(len(a))

	return math.Max(0, 1-meanRelDiff/0.8)
}

// correlationScore rescales Pearson correlation so that only ρ > 0.5
// contributes, mapping (0.5, 1] onto (0, 1].
func correlationScore(a, b []float64) float64 {
	rho := pearsonCorrelation(a, b)
	if math.IsNaN(rho) {
		rho = 0
	}
	if rho <= 0.5 {
		return 0
	}
	return math.Max(0, (rho-0.5)/0.5)
}

// cosineScore rescales cosine similarity so that only c > 0.7 contributes,
// mapping (0.7, 1] onto (0, 1].
func cosineScore(a, b []float64) float64 {
	c := cosineSimilarity(a, b)
	if c <= 0.7 {
		return 0
	}
	return math.Max(0, (c-0.7)/0.3)
}

func pearsonCorrelation(a, b []float64) float64 {
	n := float64(len(a))

	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	denom := math.Sqrt(varA * varB)
	if denom == 0 {
		return math.NaN()
	}
	return cov / denom
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + voiceEpsilon)
}
