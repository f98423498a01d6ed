package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type EnrollBiometricsRequest = validator.EnrollBiometricsRequest
type VerifyIdentityRequest = validator.VerifyIdentityRequest
type FaceCheckRequest = validator.FaceCheckRequest
type PresenceCheckRequest = validator.PresenceCheckRequest
type VoiceVerifyRequest = validator.VoiceVerifyRequest
type AbsenceReportRequest = validator.AbsenceReportRequest
type CreateExamRequest = validator.ExamCreateRequest
type UpdateExamRequest = validator.ExamUpdateRequest
type AssignCandidatesRequest = validator.AssignCandidatesRequest
type StartSessionRequest = validator.StartSessionRequest
type SubmitSessionRequest = validator.SubmitSessionRequest
type SessionActionRequest = validator.SessionActionRequest

// ===== ENROLLMENT RELATED DTOs =====

type EnrollmentResult struct {
	UserID        string    `json:"user_id"`
	FaceEnrolled  bool      `json:"face_enrolled"`
	VoiceEnrolled bool      `json:"voice_enrolled"`
	FaceQuality   *float64  `json:"face_quality,omitempty"`
	VoiceQuality  *float64  `json:"voice_quality,omitempty"`
	EnrolledAt    time.Time `json:"enrolled_at"`
}

type EnrollmentStatus struct {
	UserID        string     `json:"user_id"`
	IsEnrolled    bool       `json:"is_enrolled"`
	FaceEnrolled  bool       `json:"face_enrolled"`
	VoiceEnrolled bool       `json:"voice_enrolled"`
	FaceQuality   *float64   `json:"face_quality,omitempty"`
	VoiceQuality  *float64   `json:"voice_quality,omitempty"`
	EnrolledAt    *time.Time `json:"enrolled_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// ===== VERIFICATION RELATED DTOs =====

type VerificationResult struct {
	UserID        string    `json:"user_id"`
	Verified      bool      `json:"verified"`
	FaceScore     *float64  `json:"face_score,omitempty"`
	VoiceScore    *float64  `json:"voice_score,omitempty"`
	CombinedScore float64   `json:"combined_score"`
	Reason        string    `json:"reason,omitempty"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// ===== SURVEILLANCE RELATED DTOs =====

// CheckResult is the outcome of one continuous identity check
type CheckResult struct {
	SessionID         uint      `json:"session_id"`
	Modality          string    `json:"modality"` // "face" or "voice"
	IsMatch           bool      `json:"is_match"`
	Score             float64   `json:"score"`
	Disqualified      bool      `json:"disqualified"`
	RemainingAttempts int       `json:"remaining_attempts"`
	CheckedAt         time.Time `json:"checked_at"`
}

type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Prompt      string    `json:"prompt"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AbsenceAck struct {
	SessionID    uint      `json:"session_id"`
	AnomalyCount int       `json:"anomaly_count"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// SurveillanceStatus is the proctor UI projection of a running session
type SurveillanceStatus struct {
	SessionID              uint                 `json:"session_id"`
	ExamID                 uint                 `json:"exam_id"`
	UserID                 string               `json:"user_id"`
	Status                 models.SessionStatus `json:"status"`
	TotalFaceChecks        int                  `json:"total_face_checks"`
	SuccessfulFaceChecks   int                  `json:"successful_face_checks"`
	TotalVoiceChecks       int                  `json:"total_voice_checks"`
	SuccessfulVoiceChecks  int                  `json:"successful_voice_checks"`
	FaceFailures           int                  `json:"face_failures"`
	VoiceFailures          int                  `json:"voice_failures"`
	RemainingFaceFailures  int                  `json:"remaining_face_failures"`
	RemainingVoiceFailures int                  `json:"remaining_voice_failures"`
	AnomalyCount           int                  `json:"anomaly_count"`
	LastFaceCheckAt        *time.Time           `json:"last_face_check_at,omitempty"`
	LastVoiceCheckAt       *time.Time           `json:"last_voice_check_at,omitempty"`

	// Client pacing hints from config
	FaceCheckIntervalSeconds      int `json:"face_check_interval_seconds"`
	VoiceChallengeIntervalSeconds int `json:"voice_challenge_interval_seconds"`
	MaxAbsenceSeconds             int `json:"max_absence_seconds"`
}

// ===== EXAM RELATED DTOs =====

type ExamResponse struct {
	*models.Exam
	CanEdit      bool `json:"can_edit"`
	CanDelete    bool `json:"can_delete"`
	SessionCount int  `json:"session_count"`
}

type ExamListResponse struct {
	Exams []*ExamResponse `json:"exams"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type SessionResponse struct {
	*models.ExamSession
	RemainingFaceFailures  int `json:"remaining_face_failures"`
	RemainingVoiceFailures int `json:"remaining_voice_failures"`
}

type AssignmentResult struct {
	ExamID   uint     `json:"exam_id"`
	Assigned []string `json:"assigned"`
	Skipped  []string `json:"skipped"`
}

// ===== AUDIT RELATED DTOs =====

type SecurityEventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Total  int64                   `json:"total"`
	Page   int                     `json:"page"`
	Size   int                     `json:"size"`
}

type ExamStatistics struct {
	ExamID   uint                             `json:"exam_id"`
	Sessions *repositories.SessionStats       `json:"sessions"`
	Events   *repositories.SecurityEventStats `json:"events"`
}

type VerificationMetrics struct {
	*repositories.FailureRateStats
	CheatingCount int64      `json:"cheating_count"`
	AbsenceCount  int64      `json:"absence_count"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
}

// ===== SERVICE INTERFACES =====

type EnrollmentService interface {
	// Enroll stores encrypted templates for the supplied modalities, merging
	// with any existing profile (an omitted modality is preserved)
	Enroll(ctx context.Context, req *EnrollBiometricsRequest, actorID string) (*EnrollmentResult, error)

	// Status and lookup
	GetEnrollmentStatus(ctx context.Context, userID string) (*EnrollmentStatus, error)
	IsEnrolled(ctx context.Context, userID string) (bool, error)

	// Removal (admin, irreversible)
	DeleteEnrollment(ctx context.Context, userID string, actorID string) error
}

type VerificationService interface {
	// Verify runs one-shot multimodal identity verification against the
	// user's enrolled templates and writes its audit record
	Verify(ctx context.Context, req *VerifyIdentityRequest) (*VerificationResult, error)
}

type ProctoringService interface {
	// Presence only, no identity match, no counters
	CheckFacePresence(probe *biometrics.FaceProbe) bool

	// Continuous identity checks with failure escalation
	CheckFaceIdentity(ctx context.Context, sessionID uint, userID string, probe *biometrics.FaceProbe) (*CheckResult, error)
	CheckVoiceIdentity(ctx context.Context, sessionID uint, userID string, probe *biometrics.VoiceProbe) (*CheckResult, error)

	// Voice challenge-response protocol
	IssueChallenge(ctx context.Context, userID string, sessionID *uint) (*ChallengeResponse, error)
	RedeemChallenge(ctx context.Context, challengeID, userID string) (string, error)
	VerifyVoiceChallenge(ctx context.Context, req *VoiceVerifyRequest, userID string) (*CheckResult, error)

	// Absence and status
	ReportAbsence(ctx context.Context, sessionID uint, userID string, durationSeconds *float64) (*AbsenceAck, error)
	Status(ctx context.Context, sessionID uint, userID string) (*SurveillanceStatus, error)
}

type ExamService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// List operations
	List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error)

	// Candidate assignment and session lifecycle
	AssignCandidates(ctx context.Context, examID uint, userIDs []string, actorID string) (*AssignmentResult, error)
	StartSession(ctx context.Context, examID uint, userID string, req *StartSessionRequest) (*SessionResponse, error)
	SubmitSession(ctx context.Context, sessionID uint, userID string, req *SubmitSessionRequest) (*SessionResponse, error)
	SuspendSession(ctx context.Context, sessionID uint, reason string, actorID string) error
	ResumeSession(ctx context.Context, sessionID uint, actorID string) error
	TerminateSession(ctx context.Context, sessionID uint, reason string, actorID string) error

	// Session views
	GetSession(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error)
	GetCandidateSessions(ctx context.Context, userID string) ([]*SessionResponse, error)
}

type AuditService interface {
	// Query operations
	ListSecurityEvents(ctx context.Context, filters repositories.SecurityEventFilters, userID string) (*SecurityEventListResponse, error)
	GetSessionTimeline(ctx context.Context, sessionID uint, userID string) ([]*models.SecurityEvent, error)

	// Statistics
	GetExamStatistics(ctx context.Context, examID uint, userID string) (*ExamStatistics, error)
	GetVerificationMetrics(ctx context.Context, from, to *time.Time, userID string) (*VerificationMetrics, error)

	// Compliance export: xlsx workbook bytes plus a suggested filename
	ExportSecurityReport(ctx context.Context, examID uint, userID string) ([]byte, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Enrollment() EnrollmentService
	Verification() VerificationService
	Proctoring() ProctoringService
	Exam() ExamService
	Audit() AuditService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
