package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	eventSource  = "proctoring-service"
	eventVersion = "1.0"
)

// Event types consumed by the proctor dashboard and notification services
const (
	EventSessionStarted      = "proctoring.session_started"
	EventSessionCompleted    = "proctoring.session_completed"
	EventSessionSuspended    = "proctoring.session_suspended"
	EventSessionResumed      = "proctoring.session_resumed"
	EventSessionTerminated   = "proctoring.session_terminated"
	EventSessionDisqualified = "proctoring.session_disqualified"
	EventCheatingDetected    = "proctoring.cheating_detected"
	EventAbsenceDetected     = "proctoring.absence_detected"
	EventEnrollmentCompleted = "biometric.enrollment_completed"
	EventIdentityVerified    = "biometric.identity_verified"
	EventVerificationFailed  = "biometric.verification_failed"
)

// Event is the envelope for all messages leaving the service
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent creates an event envelope with a fresh id and timestamp
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// EventPublisher fans proctoring events out to downstream consumers.
// Publishing is best-effort: the audit log, not the event stream, is the
// record of truth for security decisions.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// SessionEventPayload describes a session lifecycle change
type SessionEventPayload struct {
	SessionID uint   `json:"session_id"`
	ExamID    uint   `json:"exam_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// CheatingDetectedPayload carries the escalation detail for a disqualification
type CheatingDetectedPayload struct {
	SessionID    uint   `json:"session_id"`
	ExamID       uint   `json:"exam_id"`
	UserID       string `json:"user_id"`
	Modality     string `json:"modality"`
	FailureCount int    `json:"failure_count"`
}

// EnrollmentPayload describes a completed biometric enrollment
type EnrollmentPayload struct {
	UserID     string   `json:"user_id"`
	Modalities []string `json:"modalities"`
}

// VerificationPayload carries the scores of a one-shot identity verification
type VerificationPayload struct {
	UserID        string   `json:"user_id"`
	Verified      bool     `json:"verified"`
	FaceScore     *float64 `json:"face_score,omitempty"`
	VoiceScore    *float64 `json:"voice_score,omitempty"`
	CombinedScore float64  `json:"combined_score"`
	Reason        string   `json:"reason"`
}

// NoopEventPublisher is used when Kafka is disabled
type NoopEventPublisher struct {
	logger *slog.Logger
}

// NewNoopEventPublisher creates a publisher that drops all events
func NewNoopEventPublisher(logger *slog.Logger) *NoopEventPublisher {
	return &NoopEventPublisher{logger: logger}
}

// Publish logs the event at debug level and discards it
func (p *NoopEventPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.DebugContext(ctx, "Event publishing disabled, dropping event",
		"event_id", event.ID,
		"event_type", event.Type)
	return nil
}

// Close is a no-op
func (p *NoopEventPublisher) Close() error {
	return nil
}
