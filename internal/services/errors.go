package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	// Lookup failures
	ErrExamNotFound    = errors.New("exam not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNotEnrolled     = errors.New("no biometric templates enrolled for user")

	// Session state
	ErrSessionNotActive    = errors.New("session is not accepting surveillance checks")
	ErrSessionDisqualified = errors.New("session has been disqualified")
	ErrSessionCannotStart  = errors.New("session cannot be started")
	ErrSessionNotOwned     = errors.New("session does not belong to user")
)

// ===== TYPED ERRORS =====

// ValidationError represents a business rule violation on a single field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// PermissionError represents a denied action on a resource
type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) error {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// ===== ERROR CLASSIFICATION HELPERS =====

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
