package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

// exportEventLimit caps the rows written to one report workbook
const exportEventLimit = 10000

type auditService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewAuditService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) AuditService {
	return &auditService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// ===== QUERY OPERATIONS =====

func (s *auditService) ListSecurityEvents(ctx context.Context, filters repositories.SecurityEventFilters, userID string) (*SecurityEventListResponse, error) {
	allowed, err := hasProctorAccess(ctx, s.repo, userID)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, NewPermissionError(userID, 0, "security_event", "list", "insufficient role permissions")
	}

	events, total, err := s.repo.SecurityEvent().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	page, size := pageFromFilters(filters.Offset, filters.Limit)
	return &SecurityEventListResponse{
		Events: events,
		Total:  total,
		Page:   page,
		Size:   size,
	}, nil
}

func (s *auditService) GetSessionTimeline(ctx context.Context, sessionID uint, userID string) ([]*models.SecurityEvent, error) {
	session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.UserID != userID {
		allowed, err := hasProctorAccess(ctx, s.repo, userID)
		if err != nil {
			return nil, fmt.Errorf("permission check failed: %w", err)
		}
		if !allowed {
			return nil, NewPermissionError(userID, sessionID, "session", "read", "not the session owner")
		}
	}

	events, err := s.repo.SecurityEvent().GetBySession(ctx, s.db, sessionID, repositories.SecurityEventFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to get session timeline: %w", err)
	}
	return events, nil
}

// ===== STATISTICS =====

func (s *auditService) GetExamStatistics(ctx context.Context, examID uint, userID string) (*ExamStatistics, error) {
	allowed, err := hasProctorAccess(ctx, s.repo, userID)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, NewPermissionError(userID, examID, "exam", "statistics", "insufficient role permissions")
	}

	if _, err := s.repo.Exam().GetByID(ctx, s.db, examID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	sessionStats, err := s.repo.Session().GetSessionStats(ctx, s.db, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	eventStats, err := s.repo.SecurityEvent().GetEventStats(ctx, s.db, repositories.SecurityEventFilters{ExamID: &examID})
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}

	return &ExamStatistics{
		ExamID:   examID,
		Sessions: sessionStats,
		Events:   eventStats,
	}, nil
}

func (s *auditService) GetVerificationMetrics(ctx context.Context, from, to *time.Time, userID string) (*VerificationMetrics, error) {
	allowed, err := hasProctorAccess(ctx, s.repo, userID)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, NewPermissionError(userID, 0, "metrics", "read", "insufficient role permissions")
	}

	rates, err := s.repo.SecurityEvent().GetFailureRates(ctx, s.db, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get failure rates: %w", err)
	}

	cheating, err := s.repo.SecurityEvent().CountByType(ctx, s.db, models.EventCheatingDetected, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count cheating events: %w", err)
	}

	absence, err := s.repo.SecurityEvent().CountByType(ctx, s.db, models.EventAbsenceDetected, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count absence events: %w", err)
	}

	return &VerificationMetrics{
		FailureRateStats: rates,
		CheatingCount:    cheating,
		AbsenceCount:     absence,
		From:             from,
		To:               to,
	}, nil
}

// ===== COMPLIANCE EXPORT =====

// ExportSecurityReport builds an xlsx workbook with a summary sheet and the
// exam's full audit trail, oldest first
func (s *auditService) ExportSecurityReport(ctx context.Context, examID uint, userID string) ([]byte, string, error) {
	allowed, err := hasProctorAccess(ctx, s.repo, userID)
	if err != nil {
		return nil, "", fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, "", NewPermissionError(userID, examID, "exam", "export", "insufficient role permissions")
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", ErrExamNotFound
		}
		return nil, "", fmt.Errorf("failed to get exam: %w", err)
	}

	sessionStats, err := s.repo.Session().GetSessionStats(ctx, s.db, examID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get session stats: %w", err)
	}

	eventStats, err := s.repo.SecurityEvent().GetEventStats(ctx, s.db, repositories.SecurityEventFilters{ExamID: &examID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get event stats: %w", err)
	}

	events, _, err := s.repo.SecurityEvent().List(ctx, s.db, repositories.SecurityEventFilters{
		ExamID:    &examID,
		SortOrder: "asc",
		Limit:     exportEventLimit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list events for export: %w", err)
	}

	data, err := s.buildReportWorkbook(exam, sessionStats, eventStats, events)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build report workbook: %w", err)
	}

	filename := fmt.Sprintf("security_report_exam_%d_%s.xlsx", examID, time.Now().Format("2006-01-02"))

	s.logger.Info("Security report exported",
		"exam_id", examID,
		"events", len(events),
		"requested_by", userID)

	return data, filename, nil
}

func (s *auditService) buildReportWorkbook(exam *models.Exam, sessionStats *repositories.SessionStats, eventStats *repositories.SecurityEventStats, events []*models.SecurityEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	setRow := func(sheet string, rowIdx int, values []interface{}) {
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
		_ = f.SetSheetRow(sheet, cell, &values)
	}

	setRow(summarySheet, 1, []interface{}{"Security Report"})
	setRow(summarySheet, 2, []interface{}{"Exam", exam.Title})
	setRow(summarySheet, 3, []interface{}{"Exam ID", exam.ID})
	setRow(summarySheet, 4, []interface{}{"Status", string(exam.Status)})
	setRow(summarySheet, 5, []interface{}{"Window", fmt.Sprintf("%s to %s",
		exam.StartTime.Format(time.RFC3339), exam.EndTime.Format(time.RFC3339))})
	setRow(summarySheet, 6, []interface{}{"Generated", time.Now().Format(time.RFC3339)})

	row := 8
	setRow(summarySheet, row, []interface{}{"Sessions"})
	_ = f.SetCellStyle(summarySheet, "A1", "A1", headerStyle)
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetCellStyle(summarySheet, cell, cell, headerStyle)
	row++
	setRow(summarySheet, row, []interface{}{"Total", sessionStats.TotalSessions})
	row++
	for _, status := range []models.SessionStatus{
		models.SessionPending, models.SessionInProgress, models.SessionCompleted,
		models.SessionSuspended, models.SessionTerminated, models.SessionDisqualified,
	} {
		setRow(summarySheet, row, []interface{}{string(status), sessionStats.StatusBreakdown[status]})
		row++
	}
	setRow(summarySheet, row, []interface{}{"Disqualified rate (%)", sessionStats.DisqualifiedRate})
	row++
	setRow(summarySheet, row, []interface{}{"Average score", sessionStats.AverageScore})
	row++
	setRow(summarySheet, row, []interface{}{"Total anomalies", sessionStats.TotalAnomalies})
	row += 2

	setRow(summarySheet, row, []interface{}{"Audit events"})
	cell, _ = excelize.CoordinatesToCellName(1, row)
	_ = f.SetCellStyle(summarySheet, cell, cell, headerStyle)
	row++
	setRow(summarySheet, row, []interface{}{"Total", eventStats.TotalEvents})
	row++
	setRow(summarySheet, row, []interface{}{"Failures", eventStats.FailureCount})
	row++
	setRow(summarySheet, row, []interface{}{"Cheating detections", eventStats.CheatingCount})
	row++
	setRow(summarySheet, row, []interface{}{"Absence detections", eventStats.AbsenceCount})
	row++

	// Stable ordering for the per-type counts, maps iterate randomly
	types := make([]string, 0, len(eventStats.EventsByType))
	for eventType := range eventStats.EventsByType {
		types = append(types, string(eventType))
	}
	sort.Strings(types)
	for _, eventType := range types {
		setRow(summarySheet, row, []interface{}{eventType, eventStats.EventsByType[models.SecurityEventType(eventType)]})
		row++
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
	_ = f.SetColWidth(summarySheet, "B", "B", 44)

	const eventSheet = "Events"
	if _, err := f.NewSheet(eventSheet); err != nil {
		return nil, err
	}
	setRow(eventSheet, 1, []interface{}{
		"ID", "Created At", "Event Type", "User ID", "Session ID",
		"Face Score", "Voice Score", "Combined Score", "Message",
	})
	_ = f.SetCellStyle(eventSheet, "A1", "I1", headerStyle)
	for i, event := range events {
		setRow(eventSheet, i+2, []interface{}{
			event.ID,
			event.CreatedAt.Format(time.RFC3339),
			string(event.EventType),
			derefString(event.UserID),
			cellUint(event.SessionID),
			cellFloat(event.FaceScore),
			cellFloat(event.VoiceScore),
			cellFloat(event.CombinedScore),
			event.Message,
		})
	}
	_ = f.SetColWidth(eventSheet, "B", "B", 22)
	_ = f.SetColWidth(eventSheet, "C", "C", 24)
	_ = f.SetColWidth(eventSheet, "D", "D", 28)
	_ = f.SetColWidth(eventSheet, "I", "I", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func cellUint(v *uint) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
