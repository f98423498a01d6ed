package models

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionPending      SessionStatus = "pending"
	SessionInProgress   SessionStatus = "in_progress"
	SessionCompleted    SessionStatus = "completed"
	SessionSuspended    SessionStatus = "suspended"
	SessionTerminated   SessionStatus = "terminated"
	SessionDisqualified SessionStatus = "disqualified"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionTerminated || s == SessionDisqualified
}

// ExamSession is one candidate's run of one exam. The surveillance counters
// are durable columns updated under a row lock so that concurrent checks for
// the same session serialize and counts survive restarts; see
// SessionRepository.GetByIDForUpdate.
type ExamSession struct {
	ID     uint          `json:"id" gorm:"primaryKey"`
	ExamID uint          `json:"exam_id" gorm:"not null;index;uniqueIndex:idx_exam_candidate"`
	UserID string        `json:"user_id" gorm:"not null;index;size:255;uniqueIndex:idx_exam_candidate"`
	Status SessionStatus `json:"status" gorm:"default:pending;index"`

	// Timing
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Scoring (computed by the assessment service, fixed to 0 on disqualification)
	Score *float64 `json:"score"`

	// Surveillance counters, cumulative for the session lifetime
	TotalFaceChecks       int `json:"total_face_checks" gorm:"not null;default:0"`
	SuccessfulFaceChecks  int `json:"successful_face_checks" gorm:"not null;default:0"`
	TotalVoiceChecks      int `json:"total_voice_checks" gorm:"not null;default:0"`
	SuccessfulVoiceChecks int `json:"successful_voice_checks" gorm:"not null;default:0"`
	FaceFailures          int `json:"face_failures" gorm:"not null;default:0"`
	VoiceFailures         int `json:"voice_failures" gorm:"not null;default:0"`
	AnomalyCount          int `json:"anomaly_count" gorm:"not null;default:0"`

	// Last observed activity, drives the proctor UI
	LastFaceCheckAt  *time.Time `json:"last_face_check_at"`
	LastVoiceCheckAt *time.Time `json:"last_voice_check_at"`

	// Metadata
	TerminationReason *string        `json:"termination_reason" gorm:"type:text"`
	ClientInfo        datatypes.JSON `json:"client_info,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam      Exam `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	Candidate User `json:"candidate,omitempty" gorm:"foreignKey:UserID"`
}

func (ExamSession) TableName() string {
	return "exam_sessions"
}

// AcceptsChecks reports whether surveillance checks may run for this session.
func (s *ExamSession) AcceptsChecks() bool {
	return s.Status == SessionInProgress
}
