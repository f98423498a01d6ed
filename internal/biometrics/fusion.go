package biometrics

import (
	"errors"
	"fmt"
)

// ErrNoBiometricData is returned when a fusion evaluation receives neither
// modality. Supplying at least one score is the caller's responsibility.
var ErrNoBiometricData = errors.New("no biometric data supplied")

// FusionConfig carries the weights and thresholds of the multimodal decision.
type FusionConfig struct {
	FaceWeight          float64
	VoiceWeight         float64
	MultimodalThreshold float64
	MinFaceScore        float64
	MinVoiceScore       float64
}

// FusionResult is the outcome of one multimodal evaluation. Score fields are
// nil for modalities that were not supplied.
type FusionResult struct {
	Verified      bool     `json:"verified"`
	FaceScore     *float64 `json:"face_score"`
	VoiceScore    *float64 `json:"voice_score"`
	CombinedScore float64  `json:"combined_score"`
	Reason        string   `json:"reason"`
}

// FusionPolicy combines per-modality scores into one verification decision
// under weighted combination and independent floor thresholds.
type FusionPolicy struct {
	cfg FusionConfig
}

func NewFusionPolicy(cfg FusionConfig) *FusionPolicy {
	return &FusionPolicy{cfg: cfg}
}

// Evaluate fuses the supplied modality scores. Each provided modality must
// individually clear its own floor; a floor failure rejects regardless of the
// combined score, so a strong modality can never compensate a weak one into
// acceptance. With both modalities present the combined score is the weighted
// sum; with one, the raw score of that modality.
func (p *FusionPolicy) Evaluate(faceScore, voiceScore *float64) (FusionResult, error) {
	if faceScore == nil && voiceScore == nil {
		return FusionResult{}, ErrNoBiometricData
	}

	res := FusionResult{
		FaceScore:  faceScore,
		VoiceScore: voiceScore,
	}

	if faceScore != nil && *faceScore < p.cfg.MinFaceScore {
		res.CombinedScore = p.combined(faceScore, voiceScore)
		res.Reason = fmt.Sprintf("face score %.2f below minimum %.2f", *faceScore, p.cfg.MinFaceScore)
		return res, nil
	}
	if voiceScore != nil && *voiceScore < p.cfg.MinVoiceScore {
		res.CombinedScore = p.combined(faceScore, voiceScore)
		res.Reason = fmt.Sprintf("voice score %.2f below minimum %.2f", *voiceScore, p.cfg.MinVoiceScore)
		return res, nil
	}

	res.CombinedScore = p.combined(faceScore, voiceScore)
	if res.CombinedScore < p.cfg.MultimodalThreshold {
		res.Reason = fmt.Sprintf("combined score %.2f below threshold %.2f", res.CombinedScore, p.cfg.MultimodalThreshold)
		return res, nil
	}

	res.Verified = true
	res.Reason = "identity verified"
	return res, nil
}

func (p *FusionPolicy) combined(faceScore, voiceScore *float64) float64 {
	switch {
	case faceScore != nil && voiceScore != nil:
		return p.cfg.FaceWeight**faceScore + p.cfg.VoiceWeight**voiceScore
	case faceScore != nil:
		return *faceScore
	default:
		return *voiceScore
	}
}

// Config returns the policy's configuration.
func (p *FusionPolicy) Config() FusionConfig {
	return p.cfg
}
