package biometrics

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func defaultFusionConfig() FusionConfig {
	return FusionConfig{
		FaceWeight:          0.6,
		VoiceWeight:         0.4,
		MultimodalThreshold: 0.65,
		MinFaceScore:        0.5,
		MinVoiceScore:       0.55,
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestFusionPolicy_Evaluate(t *testing.T) {
	policy := NewFusionPolicy(defaultFusionConfig())

	tests := []struct {
		name         string
		face         *float64
		voice        *float64
		wantVerified bool
		wantCombined float64
		wantReason   string
	}{
		{
			name:         "both modalities strong",
			face:         floatPtr(0.9),
			voice:        floatPtr(0.8),
			wantVerified: true,
			wantCombined: 0.9*0.6 + 0.8*0.4,
		},
		{
			name:         "voice floor overrides high combined score",
			face:         floatPtr(0.9),
			voice:        floatPtr(0.40),
			wantVerified: false,
			wantCombined: 0.9*0.6 + 0.40*0.4, // 0.70, above threshold yet rejected
			wantReason:   "voice score",
		},
		{
			name:         "face floor overrides high combined score",
			face:         floatPtr(0.45),
			voice:        floatPtr(0.95),
			wantVerified: false,
			wantReason:   "face score",
		},
		{
			name:         "face only uses raw score",
			face:         floatPtr(0.7),
			wantVerified: true,
			wantCombined: 0.7,
		},
		{
			name:         "voice only uses raw score",
			voice:        floatPtr(0.66),
			wantVerified: true,
			wantCombined: 0.66,
		},
		{
			name:         "combined below threshold rejected",
			face:         floatPtr(0.6),
			voice:        floatPtr(0.6),
			wantVerified: false,
			wantCombined: 0.6,
			wantReason:   "combined score",
		},
		{
			name:         "single modality below threshold rejected",
			face:         floatPtr(0.55),
			wantVerified: false,
			wantCombined: 0.55,
			wantReason:   "combined score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Evaluate(tt.face, tt.voice)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got.Verified != tt.wantVerified {
				t.Errorf("Evaluate() verified = %v, want %v (reason %q)", got.Verified, tt.wantVerified, got.Reason)
			}
			if tt.wantCombined != 0 && math.Abs(got.CombinedScore-tt.wantCombined) > 1e-9 {
				t.Errorf("Evaluate() combined = %v, want %v", got.CombinedScore, tt.wantCombined)
			}
			if tt.wantReason != "" && !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Evaluate() reason = %q, want it to mention %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestFusionPolicy_NoData(t *testing.T) {
	policy := NewFusionPolicy(defaultFusionConfig())

	_, err := policy.Evaluate(nil, nil)
	if !errors.Is(err, ErrNoBiometricData) {
		t.Errorf("Evaluate(nil, nil) error = %v, want ErrNoBiometricData", err)
	}
}

func TestFusionPolicy_ParametrizedThresholds(t *testing.T) {
	// Floors and weights come from configuration, not constants baked into
	// the policy.
	cfg := FusionConfig{
		FaceWeight:          0.5,
		VoiceWeight:         0.5,
		MultimodalThreshold: 0.8,
		MinFaceScore:        0.7,
		MinVoiceScore:       0.7,
	}
	policy := NewFusionPolicy(cfg)

	got, err := policy.Evaluate(floatPtr(0.85), floatPtr(0.85))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !got.Verified {
		t.Errorf("0.85/0.85 should verify under threshold 0.8, reason %q", got.Reason)
	}

	got, err = policy.Evaluate(floatPtr(0.69), floatPtr(0.95))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got.Verified {
		t.Error("face 0.69 should fail the configured 0.7 floor")
	}
}
