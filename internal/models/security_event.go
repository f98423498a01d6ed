package models

import (
	"time"

	"gorm.io/datatypes"
)

type SecurityEventType string

const (
	// Verification outcomes
	EventLoginSuccess SecurityEventType = "LOGIN_SUCCESS"
	EventLoginFailed  SecurityEventType = "LOGIN_FAILED"

	// Continuous surveillance outcomes
	EventFaceCheckSuccess  SecurityEventType = "FACE_CHECK_SUCCESS"
	EventFaceCheckFailed   SecurityEventType = "FACE_CHECK_FAILED"
	EventVoiceCheckSuccess SecurityEventType = "VOICE_CHECK_SUCCESS"
	EventVoiceCheckFailed  SecurityEventType = "VOICE_CHECK_FAILED"
	EventAbsenceDetected   SecurityEventType = "ABSENCE_DETECTED"
	EventCheatingDetected  SecurityEventType = "CHEATING_DETECTED"

	// Enrollment
	EventEnrollmentSuccess SecurityEventType = "ENROLLMENT_SUCCESS"
	EventEnrollmentFailed  SecurityEventType = "ENROLLMENT_FAILED"
	EventEnrollmentDeleted SecurityEventType = "ENROLLMENT_DELETED"

	// Session lifecycle
	EventExamStarted    SecurityEventType = "EXAM_STARTED"
	EventExamCompleted  SecurityEventType = "EXAM_COMPLETED"
	EventExamSuspended  SecurityEventType = "EXAM_SUSPENDED"
	EventExamResumed    SecurityEventType = "EXAM_RESUMED"
	EventExamTerminated SecurityEventType = "EXAM_TERMINATED"

	// Liveness protocol
	EventChallengeIssued SecurityEventType = "CHALLENGE_ISSUED"
)

// SecurityEvent is one append-only audit record. Rows are inserted in the same
// transaction as the state change they describe and are never updated or
// deleted afterwards; the repository exposes no mutation methods.
type SecurityEvent struct {
	ID        uint              `json:"id" gorm:"primaryKey"`
	EventType SecurityEventType `json:"event_type" gorm:"not null;size:50;index"`

	// Subject (both optional: enrollment events have no session, system
	// events may have no user)
	UserID    *string `json:"user_id" gorm:"index;size:255"`
	SessionID *uint   `json:"session_id" gorm:"index"`

	// Scores captured at decision time
	FaceScore     *float64 `json:"face_score"`
	VoiceScore    *float64 `json:"voice_score"`
	CombinedScore *float64 `json:"combined_score"`

	Message string         `json:"message" gorm:"type:text"`
	Details datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"`

	// Request context
	IPAddress *string `json:"ip_address" gorm:"size:45"`
	UserAgent *string `json:"user_agent" gorm:"type:text"`
	RequestID *string `json:"request_id" gorm:"size:100"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

// IsFailure reports whether the event records a rejected or anomalous outcome.
func (t SecurityEventType) IsFailure() bool {
	switch t {
	case EventLoginFailed, EventFaceCheckFailed, EventVoiceCheckFailed,
		EventAbsenceDetected, EventCheatingDetected, EventEnrollmentFailed:
		return true
	}
	return false
}
