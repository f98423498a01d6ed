package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

// SecurityEventPostgreSQL persists the append-only audit log. No cache
// client: audit queries always read committed rows.
type SecurityEventPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSecurityEventPostgreSQL(db *gorm.DB) repositories.SecurityEventRepository {
	return &SecurityEventPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (r *SecurityEventPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create appends one audit record. Callers recording a state change pass
// the transaction that carries the change so both commit or neither does.
func (r *SecurityEventPostgreSQL) Create(ctx context.Context, tx *gorm.DB, event *models.SecurityEvent) error {
	if err := r.getDB(tx).WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create security event: %w", err)
	}
	return nil
}

func (r *SecurityEventPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	err := r.getDB(tx).WithContext(ctx).First(&event, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get security event: %w", err)
	}
	return &event, nil
}

func (r *SecurityEventPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SecurityEventFilters) ([]*models.SecurityEvent, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.SecurityEvent{})
	query = r.helpers.ApplySecurityEventFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count security events: %w", err)
	}

	order := "created_at DESC"
	if filters.SortOrder == "asc" {
		order = "created_at ASC"
	}
	query = query.Order(order)

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var events []*models.SecurityEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list security events: %w", err)
	}

	return events, total, nil
}

// GetBySession returns a session's audit trail, oldest first so the
// timeline reads top to bottom
func (r *SecurityEventPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters repositories.SecurityEventFilters) ([]*models.SecurityEvent, error) {
	filters.SessionID = &sessionID
	if filters.SortOrder == "" {
		filters.SortOrder = "asc"
	}

	events, _, err := r.List(ctx, tx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get session events: %w", err)
	}
	return events, nil
}

// ===== Statistics operations =====

func (r *SecurityEventPostgreSQL) CountByType(ctx context.Context, tx *gorm.DB, eventType models.SecurityEventType, dateFrom, dateTo *time.Time) (int64, error) {
	query := r.getDB(tx).WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("event_type = ?", eventType)

	if dateFrom != nil {
		query = query.Where("created_at >= ?", *dateFrom)
	}
	if dateTo != nil {
		query = query.Where("created_at <= ?", *dateTo)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events by type: %w", err)
	}
	return count, nil
}

func (r *SecurityEventPostgreSQL) GetEventStats(ctx context.Context, tx *gorm.DB, filters repositories.SecurityEventFilters) (*repositories.SecurityEventStats, error) {
	stats := &repositories.SecurityEventStats{
		EventsByType: make(map[models.SecurityEventType]int),
	}

	query := r.getDB(tx).WithContext(ctx).Model(&models.SecurityEvent{})
	query = r.helpers.ApplySecurityEventFilters(query, filters)

	var rows []struct {
		EventType models.SecurityEventType
		Count     int
	}
	err := query.
		Select("event_type, COUNT(*) as count").
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}

	for _, row := range rows {
		stats.EventsByType[row.EventType] = row.Count
		stats.TotalEvents += row.Count
		if row.EventType.IsFailure() {
			stats.FailureCount += row.Count
		}
	}

	stats.CheatingCount = stats.EventsByType[models.EventCheatingDetected]
	stats.AbsenceCount = stats.EventsByType[models.EventAbsenceDetected]

	return stats, nil
}

// GetFailureRates derives per-modality rejection rates from event counts
// over the given window
func (r *SecurityEventPostgreSQL) GetFailureRates(ctx context.Context, tx *gorm.DB, dateFrom, dateTo *time.Time) (*repositories.FailureRateStats, error) {
	counts := make(map[models.SecurityEventType]int64)
	for _, eventType := range []models.SecurityEventType{
		models.EventFaceCheckSuccess, models.EventFaceCheckFailed,
		models.EventVoiceCheckSuccess, models.EventVoiceCheckFailed,
		models.EventLoginSuccess, models.EventLoginFailed,
	} {
		count, err := r.CountByType(ctx, tx, eventType, dateFrom, dateTo)
		if err != nil {
			return nil, err
		}
		counts[eventType] = count
	}

	stats := &repositories.FailureRateStats{
		TotalFaceChecks:   int(counts[models.EventFaceCheckSuccess] + counts[models.EventFaceCheckFailed]),
		FailedFaceChecks:  int(counts[models.EventFaceCheckFailed]),
		TotalVoiceChecks:  int(counts[models.EventVoiceCheckSuccess] + counts[models.EventVoiceCheckFailed]),
		FailedVoiceChecks: int(counts[models.EventVoiceCheckFailed]),
		TotalLogins:       int(counts[models.EventLoginSuccess] + counts[models.EventLoginFailed]),
		FailedLogins:      int(counts[models.EventLoginFailed]),
	}

	if stats.TotalFaceChecks > 0 {
		stats.FaceRejectionRate = float64(stats.FailedFaceChecks) / float64(stats.TotalFaceChecks) * 100
	}
	if stats.TotalVoiceChecks > 0 {
		stats.VoiceRejectionRate = float64(stats.FailedVoiceChecks) / float64(stats.TotalVoiceChecks) * 100
	}
	if stats.TotalLogins > 0 {
		stats.LoginRejectionRate = float64(stats.FailedLogins) / float64(stats.TotalLogins) * 100
	}

	return stats, nil
}
