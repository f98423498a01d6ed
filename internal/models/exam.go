package models

import (
	"time"

	"gorm.io/gorm"
)

type ExamStatus string

const (
	ExamScheduled ExamStatus = "scheduled"
	ExamActive    ExamStatus = "active"
	ExamCompleted ExamStatus = "completed"
	ExamArchived  ExamStatus = "archived"
)

type Exam struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Title       string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Status      ExamStatus `json:"status" gorm:"default:scheduled;index" validate:"omitempty,oneof=scheduled active completed archived"`

	// Window during which candidate sessions may run
	StartTime time.Time `json:"start_time" gorm:"not null" validate:"required"`
	EndTime   time.Time `json:"end_time" gorm:"not null" validate:"required"`
	Duration  int       `json:"duration" gorm:"not null" validate:"required,min=5,max=480"` // minutes per candidate

	// Proctoring requirements
	RequireFaceChecks  bool `json:"require_face_checks" gorm:"not null;default:true"`
	RequireVoiceChecks bool `json:"require_voice_checks" gorm:"not null;default:true"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Sessions []ExamSession `json:"sessions,omitempty" gorm:"foreignKey:ExamID"`
	Creator  User          `json:"creator,omitempty" gorm:"foreignKey:CreatedBy"`

	// Computed fields (not stored)
	SessionCount int `json:"session_count" gorm:"-"`
}

func (Exam) TableName() string {
	return "exams"
}

// WindowOpen reports whether sessions may start at the given instant.
func (e *Exam) WindowOpen(now time.Time) bool {
	return !now.Before(e.StartTime) && now.Before(e.EndTime)
}
