package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// BiometricRepository interface for encrypted template storage.
// Templates arrive here already encrypted, the repository never sees
// plaintext vectors.
type BiometricRepository interface {
	// Basic operations
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.BiometricProfile, error)
	Upsert(ctx context.Context, tx *gorm.DB, profile *models.BiometricProfile) error
	Delete(ctx context.Context, tx *gorm.DB, userID string) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters BiometricFilters) ([]*models.BiometricProfile, int64, error)

	// Validation and checks
	ExistsByUserID(ctx context.Context, tx *gorm.DB, userID string) (bool, error)
}
