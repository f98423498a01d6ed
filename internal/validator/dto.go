package validator

import (
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// EnrollBiometricsRequest represents the request structure for biometric enrollment.
// Templates arrive as extraction output vectors; at least one modality is required
// (enforced by ValidateEnrollment).
type EnrollBiometricsRequest struct {
	UserID        string    `json:"user_id" validate:"required"`
	FaceTemplate  []float64 `json:"face_template" validate:"omitempty,feature_vector"`
	FaceQuality   *float64  `json:"face_quality" validate:"omitempty,quality_score"`
	VoiceTemplate []float64 `json:"voice_template" validate:"omitempty,feature_vector"`
	VoiceQuality  *float64  `json:"voice_quality" validate:"omitempty,quality_score"`
}

// VerifyIdentityRequest represents the request structure for one-shot verification
type VerifyIdentityRequest struct {
	UserID     string                 `json:"user_id" validate:"required"`
	FaceProbe  *biometrics.FaceProbe  `json:"face_probe"`
	VoiceProbe *biometrics.VoiceProbe `json:"voice_probe"`
}

// FaceCheckRequest represents one continuous surveillance face check
type FaceCheckRequest struct {
	SessionID uint                 `json:"session_id" validate:"required"`
	Probe     biometrics.FaceProbe `json:"probe"`
}

// PresenceCheckRequest represents a cheap presence-only check, no identity match
type PresenceCheckRequest struct {
	Probe biometrics.FaceProbe `json:"probe"`
}

// ChallengeRequest represents a voice challenge issuance request
type ChallengeRequest struct {
	SessionID *uint `json:"session_id"`
}

// VoiceVerifyRequest represents challenge redemption plus the voice identity check
type VoiceVerifyRequest struct {
	SessionID   uint                  `json:"session_id" validate:"required"`
	ChallengeID string                `json:"challenge_id" validate:"required,len=16"`
	Probe       biometrics.VoiceProbe `json:"probe"`
}

// AbsenceReportRequest represents a reported candidate absence
type AbsenceReportRequest struct {
	SessionID       uint     `json:"session_id" validate:"required"`
	DurationSeconds *float64 `json:"duration_seconds" validate:"omitempty,min=0"`
}

// ExamCreateRequest represents the request structure for creating exams
type ExamCreateRequest struct {
	Title              string    `json:"title" validate:"required,exam_title"`
	Description        *string   `json:"description" validate:"omitempty,exam_description"`
	StartTime          time.Time `json:"start_time" validate:"required"`
	EndTime            time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Duration           int       `json:"duration" validate:"required,exam_duration"`
	RequireFaceChecks  *bool     `json:"require_face_checks"`
	RequireVoiceChecks *bool     `json:"require_voice_checks"`
}

// ExamUpdateRequest represents the request structure for updating exams
type ExamUpdateRequest struct {
	Title              *string            `json:"title" validate:"omitempty,exam_title"`
	Description        *string            `json:"description" validate:"omitempty,exam_description"`
	Status             *models.ExamStatus `json:"status" validate:"omitempty,oneof=scheduled active completed archived"`
	StartTime          *time.Time         `json:"start_time"`
	EndTime            *time.Time         `json:"end_time"`
	Duration           *int               `json:"duration" validate:"omitempty,exam_duration"`
	RequireFaceChecks  *bool              `json:"require_face_checks"`
	RequireVoiceChecks *bool              `json:"require_voice_checks"`
}

// AssignCandidatesRequest represents assigning candidates to an exam
type AssignCandidatesRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=500,dive,required"`
}

// StartSessionRequest represents a candidate starting their session
type StartSessionRequest struct {
	ClientInfo map[string]interface{} `json:"client_info"`
}

// SubmitSessionRequest represents final submission of a session. The score is
// computed by the assessment service and arrives as input here.
type SubmitSessionRequest struct {
	Score *float64 `json:"score" validate:"omitempty,min=0,max=100"`
}

// SessionActionRequest represents a proctor action on a session
type SessionActionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
