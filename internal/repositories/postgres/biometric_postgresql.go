package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

// BiometricPostgreSQL stores encrypted biometric templates. Template
// blobs are never written to the cache layer, only the enrollment
// status flag is cached.
type BiometricPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewBiometricPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.BiometricRepository {
	return &BiometricPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (b *BiometricPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return b.db
}

// GetByUserID retrieves a user's biometric profile
func (b *BiometricPostgreSQL) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.BiometricProfile, error) {
	var profile models.BiometricProfile
	err := b.getDB(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get biometric profile: %w", err)
	}
	return &profile, nil
}

// Upsert creates the profile on first enrollment and replaces the stored
// templates on re-enrollment, keyed by user_id
func (b *BiometricPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, profile *models.BiometricProfile) error {
	err := b.getDB(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"face_template", "face_quality",
				"voice_template", "voice_quality",
				"updated_at",
			}),
		}).
		Create(profile).Error
	if err != nil {
		return fmt.Errorf("failed to upsert biometric profile: %w", err)
	}

	cache.InvalidateProfileCache(ctx, b.cacheManager, profile.UserID)
	return nil
}

// Delete removes a user's biometric data entirely
func (b *BiometricPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, userID string) error {
	result := b.getDB(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.BiometricProfile{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete biometric profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateProfileCache(ctx, b.cacheManager, userID)
	return nil
}

// List returns profiles matching the enrollment filters
func (b *BiometricPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.BiometricFilters) ([]*models.BiometricProfile, int64, error) {
	query := b.getDB(tx).WithContext(ctx).Model(&models.BiometricProfile{})

	if filters.HasFace != nil {
		if *filters.HasFace {
			query = query.Where("face_template IS NOT NULL")
		} else {
			query = query.Where("face_template IS NULL")
		}
	}
	if filters.HasVoice != nil {
		if *filters.HasVoice {
			query = query.Where("voice_template IS NOT NULL")
		} else {
			query = query.Where("voice_template IS NULL")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count biometric profiles: %w", err)
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var profiles []*models.BiometricProfile
	if err := query.Order("enrolled_at DESC").Find(&profiles).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list biometric profiles: %w", err)
	}

	return profiles, total, nil
}

// ExistsByUserID checks whether a user has any enrolled biometric data.
// Cached under the profile status key, invalidated on Upsert and Delete.
func (b *BiometricPostgreSQL) ExistsByUserID(ctx context.Context, tx *gorm.DB, userID string) (bool, error) {
	cacheKey := fmt.Sprintf("status:%s", userID)
	var exists bool

	err := b.cacheManager.Profile.CacheOrExecute(ctx, cacheKey, &exists, cache.ProfileCacheConfig.TTL, func() (interface{}, error) {
		var count int64
		err := b.getDB(tx).WithContext(ctx).
			Model(&models.BiometricProfile{}).
			Where("user_id = ?", userID).
			Count(&count).Error
		if err != nil {
			return false, fmt.Errorf("failed to check biometric profile existence: %w", err)
		}
		return count > 0, nil
	})
	if err != nil {
		return false, err
	}

	return exists, nil
}
