package models

import (
	"time"
)

// BiometricProfile holds one candidate's enrolled biometric templates.
// Template columns store ciphertext produced by the template cipher; the
// plaintext feature vectors never touch the database. A nil template means
// that modality is not enrolled.
type BiometricProfile struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"uniqueIndex;not null;size:255"`

	// Face modality
	FaceTemplate []byte   `json:"-" gorm:"type:bytea"`
	FaceQuality  *float64 `json:"face_quality"`

	// Voice modality
	VoiceTemplate []byte   `json:"-" gorm:"type:bytea"`
	VoiceQuality  *float64 `json:"voice_quality"`

	EnrolledAt time.Time `json:"enrolled_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (BiometricProfile) TableName() string {
	return "biometric_profiles"
}

// HasFace reports whether the face modality is enrolled.
func (p *BiometricProfile) HasFace() bool {
	return len(p.FaceTemplate) > 0
}

// HasVoice reports whether the voice modality is enrolled.
func (p *BiometricProfile) HasVoice() bool {
	return len(p.VoiceTemplate) > 0
}

// EnrolledModalities lists the enrolled modality names, for responses and logs.
func (p *BiometricProfile) EnrolledModalities() []string {
	modalities := make([]string, 0, 2)
	if p.HasFace() {
		modalities = append(modalities, "face")
	}
	if p.HasVoice() {
		modalities = append(modalities, "voice")
	}
	return modalities
}
