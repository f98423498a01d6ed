package repositories

import (
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	CreatedBy *string            `json:"created_by"`
	DateFrom  *time.Time         `json:"date_from"`
	DateTo    *time.Time         `json:"date_to"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`    // "created_at", "title", "start_time"
	SortOrder string             `json:"sort_order"` // "asc", "desc"
}

type SessionFilters struct {
	Status    *models.SessionStatus `json:"status"`
	ExamID    *uint                 `json:"exam_id"`
	UserID    *string               `json:"user_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type SecurityEventFilters struct {
	EventType    *models.SecurityEventType `json:"event_type"`
	UserID       *string                   `json:"user_id"`
	SessionID    *uint                     `json:"session_id"`
	ExamID       *uint                     `json:"exam_id"`
	FailuresOnly bool                      `json:"failures_only"`
	DateFrom     *time.Time                `json:"date_from"`
	DateTo       *time.Time                `json:"date_to"`
	Limit        int                       `json:"limit"`
	Offset       int                       `json:"offset"`
	SortOrder    string                    `json:"sort_order"`
}

type BiometricFilters struct {
	HasFace  *bool `json:"has_face"`
	HasVoice *bool `json:"has_voice"`
	Limit    int   `json:"limit"`
	Offset   int   `json:"offset"`
}

// ===== VALIDATION STRUCTS =====

// SessionValidation is the result of the pre-flight checks run before a
// candidate session is created.
type SessionValidation struct {
	CanStart bool   `json:"can_start"`
	Reason   string `json:"reason,omitempty"`
}

// ===== SHARED STATISTICS STRUCTS =====

type SessionStats struct {
	TotalSessions    int                          `json:"total_sessions"`
	StatusBreakdown  map[models.SessionStatus]int `json:"status_breakdown"`
	DisqualifiedRate float64                      `json:"disqualified_rate"`
	AverageScore     float64                      `json:"average_score"`
	TotalAnomalies   int                          `json:"total_anomalies"`
}

type SecurityEventStats struct {
	TotalEvents   int                              `json:"total_events"`
	EventsByType  map[models.SecurityEventType]int `json:"events_by_type"`
	FailureCount  int                              `json:"failure_count"`
	CheatingCount int                              `json:"cheating_count"`
	AbsenceCount  int                              `json:"absence_count"`
}

// FailureRateStats estimates per-modality false rejection rates from the
// audit log. Rates are percentages over the queried window. A true false
// acceptance rate would need labeled impostor attempts, which the audit
// log cannot distinguish from genuine failures.
type FailureRateStats struct {
	TotalFaceChecks    int     `json:"total_face_checks"`
	FailedFaceChecks   int     `json:"failed_face_checks"`
	FaceRejectionRate  float64 `json:"face_rejection_rate"`
	TotalVoiceChecks   int     `json:"total_voice_checks"`
	FailedVoiceChecks  int     `json:"failed_voice_checks"`
	VoiceRejectionRate float64 `json:"voice_rejection_rate"`
	TotalLogins        int     `json:"total_logins"`
	FailedLogins       int     `json:"failed_logins"`
	LoginRejectionRate float64 `json:"login_rejection_rate"`
}
