package biometrics

import (
	"math"
	"testing"
)

func TestVoiceMatcher_Compare(t *testing.T) {
	matcher := NewVoiceMatcher(0.85, 0.75)

	t.Run("identical vectors match strictly", func(t *testing.T) {
		v := []float64{0.5, -1.2, 3.4, 0.9, -0.3, 2.1}
		match, score := matcher.CompareStrict(v, v)
		if !match {
			t.Error("identical vectors should match")
		}
		if math.Abs(score-1.0) > 1e-9 {
			t.Errorf("identical vectors score = %v, want 1.0", score)
		}
	})

	t.Run("dimension mismatch returns false and zero without panicking", func(t *testing.T) {
		enrolled := make([]float64, 71)
		probe := make([]float64, 70)
		for i := range enrolled {
			enrolled[i] = float64(i)
		}
		for i := range probe {
			probe[i] = float64(i)
		}

		match, score := matcher.CompareContinuous(enrolled, probe)
		if match || score != 0.0 {
			t.Errorf("mismatched dimensions = (%v, %v), want (false, 0.0)", match, score)
		}
	})

	t.Run("empty vectors never match", func(t *testing.T) {
		if match, score := matcher.CompareStrict(nil, nil); match || score != 0 {
			t.Errorf("empty vectors = (%v, %v), want (false, 0)", match, score)
		}
	})

	t.Run("unrelated vectors score low", func(t *testing.T) {
		enrolled := []float64{1, 2, 3, 4, 5, 6, 7, 8}
		probe := []float64{8, -7, 6, -5, 4, -3, 2, -1}

		match, score := matcher.CompareContinuous(enrolled, probe)
		if match {
			t.Errorf("unrelated vectors matched with score %v", score)
		}
		if score >= 0.5 {
			t.Errorf("unrelated vectors score = %v, want < 0.5", score)
		}
	})

	t.Run("slightly scaled vector stays above continuous threshold", func(t *testing.T) {
		enrolled := []float64{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0}
		probe := make([]float64, len(enrolled))
		for i, v := range enrolled {
			probe[i] = v * 1.02
		}

		_, score := matcher.CompareContinuous(enrolled, probe)
		if score < 0.75 {
			t.Errorf("2%% scaled vector score = %v, want >= 0.75", score)
		}
	})
}

func TestVoiceMatcher_Thresholds(t *testing.T) {
	matcher := NewVoiceMatcher(0.85, 0.75)
	if got := matcher.StrictThreshold(); got != 0.85 {
		t.Errorf("StrictThreshold() = %v, want 0.85", got)
	}
	if got := matcher.ContinuousThreshold(); got != 0.75 {
		t.Errorf("ContinuousThreshold() = %v, want 0.75", got)
	}
}

func TestRelativeScore(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1.0},
		{name: "opposite signs floor at zero", a: []float64{1, 1}, b: []float64{-1, -1}, want: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relativeScore(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("relativeScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorrelationScore(t *testing.T) {
	t.Run("perfect correlation maps to 1", func(t *testing.T) {
		a := []float64{1, 2, 3, 4}
		b := []float64{2, 4, 6, 8}
		if got := correlationScore(a, b); math.Abs(got-1.0) > 1e-9 {
			t.Errorf("correlationScore() = %v, want 1.0", got)
		}
	})

	t.Run("correlation at or below 0.5 contributes nothing", func(t *testing.T) {
		a := []float64{1, 2, 3, 4}
		b := []float64{4, 3, 2, 1}
		if got := correlationScore(a, b); got != 0 {
			t.Errorf("correlationScore() = %v, want 0", got)
		}
	})

	t.Run("constant vector yields NaN treated as zero", func(t *testing.T) {
		a := []float64{5, 5, 5, 5}
		b := []float64{1, 2, 3, 4}
		if got := correlationScore(a, b); got != 0 {
			t.Errorf("correlationScore() with constant input = %v, want 0", got)
		}
	})
}

func TestCosineScore(t *testing.T) {
	t.Run("parallel vectors map to 1", func(t *testing.T) {
		a := []float64{1, 2, 3}
		b := []float64{2, 4, 6}
		got := cosineScore(a, b)
		if math.Abs(got-1.0) > 1e-6 {
			t.Errorf("cosineScore() = %v, want ~1.0", got)
		}
	})

	t.Run("orthogonal vectors contribute nothing", func(t *testing.T) {
		a := []float64{1, 0}
		b := []float64{0, 1}
		if got := cosineScore(a, b); got != 0 {
			t.Errorf("cosineScore() = %v, want 0", got)
		}
	})
}
