package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// GetExamBasicInfo gets the columns needed for eligibility checks
func (h *SharedHelpers) GetExamBasicInfo(ctx context.Context, examID uint) (*models.Exam, error) {
	var exam models.Exam
	err := h.db.WithContext(ctx).
		Select("id, status, start_time, end_time, require_face_checks, require_voice_checks").
		First(&exam, examID).Error
	return &exam, err
}

// ApplyExamFilters applies common filters to exam queries
func (h *SharedHelpers) ApplyExamFilters(query *gorm.DB, filters repositories.ExamFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplySessionFilters applies common filters to session queries
func (h *SharedHelpers) ApplySessionFilters(query *gorm.DB, filters repositories.SessionFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplySecurityEventFilters applies common filters to audit log queries
func (h *SharedHelpers) ApplySecurityEventFilters(query *gorm.DB, filters repositories.SecurityEventFilters) *gorm.DB {
	if filters.EventType != nil {
		query = query.Where("event_type = ?", *filters.EventType)
	}
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.SessionID != nil {
		query = query.Where("session_id = ?", *filters.SessionID)
	}
	if filters.ExamID != nil {
		query = query.Where("session_id IN (?)",
			h.db.Model(&models.ExamSession{}).Select("id").Where("exam_id = ?", *filters.ExamID))
	}
	if filters.FailuresOnly {
		query = query.Where("event_type IN ?", []models.SecurityEventType{
			models.EventLoginFailed,
			models.EventFaceCheckFailed,
			models.EventVoiceCheckFailed,
			models.EventAbsenceDetected,
			models.EventCheatingDetected,
			models.EventEnrollmentFailed,
		})
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"id":           true,
		"title":        true,
		"status":       true,
		"start_time":   true,
		"completed_at": true,
		"score":        true,
	}

	// Validate and set sort column
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	// Validate and set sort order
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}

// ValidateSessionEligibility checks if a candidate can start a session
func (h *SharedHelpers) ValidateSessionEligibility(ctx context.Context, examID uint, userID string) (*repositories.SessionValidation, error) {
	validation := &repositories.SessionValidation{CanStart: true}

	// Get exam info
	exam, err := h.GetExamBasicInfo(ctx, examID)
	if err != nil {
		return nil, err
	}

	// Check exam status
	if exam.Status != models.ExamActive {
		validation.CanStart = false
		validation.Reason = "Exam is not active"
		return validation, nil
	}

	// Check exam window
	now := time.Now()
	if now.Before(exam.StartTime) {
		validation.CanStart = false
		validation.Reason = "Exam window has not opened yet"
		return validation, nil
	}
	if !now.Before(exam.EndTime) {
		validation.CanStart = false
		validation.Reason = "Exam window has closed"
		return validation, nil
	}

	// Starting requires an assigned pending session. One session per
	// candidate per exam: a disqualified candidate never gets a second one.
	var existing models.ExamSession
	err = h.db.WithContext(ctx).
		Where("exam_id = ? AND user_id = ?", examID, userID).
		First(&existing).Error
	if err != nil {
		if repositories.IsNotFoundError(err) {
			validation.CanStart = false
			validation.Reason = "Candidate is not assigned to this exam"
			return validation, nil
		}
		return nil, err
	}
	if existing.Status != models.SessionPending {
		validation.CanStart = false
		switch {
		case existing.Status == models.SessionDisqualified:
			validation.Reason = "Candidate was disqualified from this exam"
		case existing.Status.IsTerminal():
			validation.Reason = "Session for this exam has already finished"
		case existing.Status == models.SessionSuspended:
			validation.Reason = "Session is suspended, a proctor must resume it"
		default:
			validation.Reason = "Session is already in progress"
		}
		return validation, nil
	}

	// Check for in-progress sessions on other exams
	var activeCount int64
	err = h.db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("user_id = ? AND status = ?", userID, models.SessionInProgress).
		Count(&activeCount).Error
	if err != nil {
		return nil, err
	}

	if activeCount > 0 {
		validation.CanStart = false
		validation.Reason = "Another exam session is in progress"
		return validation, nil
	}

	return validation, nil
}
