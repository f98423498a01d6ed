package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// ExamRepository interface for exam-specific operations
type ExamRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters ExamFilters) ([]*models.Exam, int64, error)

	// Validation and checks
	ExistsByTitle(ctx context.Context, tx *gorm.DB, title string, creatorID string, excludeID *uint) (bool, error)
	HasSessions(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

// SessionRepository interface for exam session operations
type SessionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error

	// GetByIDForUpdate locks the session row (SELECT ... FOR UPDATE) so
	// failure counters and status transitions serialize per session.
	// Must be called inside a transaction.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)

	// Query operations
	GetByExamAndUser(ctx context.Context, tx *gorm.DB, examID uint, userID string) (*models.ExamSession, error)
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.ExamSession, int64, error)

	// Statistics and analytics
	GetSessionStats(ctx context.Context, tx *gorm.DB, examID uint) (*SessionStats, error)

	// Validation and checks
	CanStartSession(ctx context.Context, examID uint, userID string) (*SessionValidation, error)
}
