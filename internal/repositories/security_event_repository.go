package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// SecurityEventRepository interface for the append-only audit log.
// There are intentionally no update or delete operations: recorded
// security decisions are immutable.
type SecurityEventRepository interface {
	// Append operations
	Create(ctx context.Context, tx *gorm.DB, event *models.SecurityEvent) error

	// Query operations
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.SecurityEvent, error)
	List(ctx context.Context, tx *gorm.DB, filters SecurityEventFilters) ([]*models.SecurityEvent, int64, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters SecurityEventFilters) ([]*models.SecurityEvent, error)

	// Statistics and analytics
	CountByType(ctx context.Context, tx *gorm.DB, eventType models.SecurityEventType, dateFrom, dateTo *time.Time) (int64, error)
	GetEventStats(ctx context.Context, tx *gorm.DB, filters SecurityEventFilters) (*SecurityEventStats, error)
	GetFailureRates(ctx context.Context, tx *gorm.DB, dateFrom, dateTo *time.Time) (*FailureRateStats, error)
}
