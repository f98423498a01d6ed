package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

type SessionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewSessionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Create creates a new exam session
func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	if err := s.getDB(tx).WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, s.cacheManager.Stats, fmt.Sprintf("exam:%d:*", session.ExamID))
	return nil
}

// GetByID retrieves a session by ID with short-lived caching. Status
// display only: the proctoring check path reads through GetByIDForUpdate.
func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	cacheKey := fmt.Sprintf("id:%d", id)
	var session models.ExamSession

	err := s.cacheManager.Session.CacheOrExecute(ctx, cacheKey, &session, cache.SessionCacheConfig.TTL, func() (interface{}, error) {
		var dbSession models.ExamSession
		err := s.getDB(tx).WithContext(ctx).
			Preload("Exam").
			First(&dbSession, id).Error
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		return &dbSession, nil
	})

	if err != nil {
		return nil, err
	}

	return &session, nil
}

// GetByIDForUpdate locks the session row for the duration of the
// enclosing transaction. Never cached: the caller is about to mutate
// failure counters and must see the committed state.
func (s *SessionPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	var session models.ExamSession
	err := s.getDB(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&session, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	return &session, nil
}

// Update persists all mutable session fields. Uses a column map so zero
// values (cleared counters, score 0) are written rather than skipped.
func (s *SessionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	updates := map[string]interface{}{
		"status":                  session.Status,
		"started_at":              session.StartedAt,
		"completed_at":            session.CompletedAt,
		"score":                   session.Score,
		"total_face_checks":       session.TotalFaceChecks,
		"successful_face_checks":  session.SuccessfulFaceChecks,
		"total_voice_checks":      session.TotalVoiceChecks,
		"successful_voice_checks": session.SuccessfulVoiceChecks,
		"face_failures":           session.FaceFailures,
		"voice_failures":          session.VoiceFailures,
		"anomaly_count":           session.AnomalyCount,
		"last_face_check_at":      session.LastFaceCheckAt,
		"last_voice_check_at":     session.LastVoiceCheckAt,
		"termination_reason":      session.TerminationReason,
		"updated_at":              time.Now(),
	}

	result := s.getDB(tx).WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ?", session.ID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID, session.ExamID)
	return nil
}

// GetByExamAndUser finds the candidate's session for an exam
func (s *SessionPostgreSQL) GetByExamAndUser(ctx context.Context, tx *gorm.DB, examID uint, userID string) (*models.ExamSession, error) {
	var session models.ExamSession
	err := s.getDB(tx).WithContext(ctx).
		Where("exam_id = ? AND user_id = ?", examID, userID).
		First(&session).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get session for exam %d: %w", examID, err)
	}
	return &session, nil
}

// List returns sessions matching the filters with total count
func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	query := s.getDB(tx).WithContext(ctx).Model(&models.ExamSession{})
	query = s.helpers.ApplySessionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var sessions []*models.ExamSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, total, nil
}

// GetSessionStats aggregates session outcomes for an exam. Results are
// cached per exam and dropped whenever a session of that exam changes.
func (s *SessionPostgreSQL) GetSessionStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.SessionStats, error) {
	cacheKey := fmt.Sprintf("exam:%d:sessions", examID)
	var stats repositories.SessionStats

	err := s.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return s.computeSessionStats(ctx, tx, examID)
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (s *SessionPostgreSQL) computeSessionStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.SessionStats, error) {
	stats := &repositories.SessionStats{
		StatusBreakdown: make(map[models.SessionStatus]int),
	}

	var rows []struct {
		Status models.SessionStatus
		Count  int
	}
	err := s.getDB(tx).WithContext(ctx).
		Model(&models.ExamSession{}).
		Select("status, COUNT(*) as count").
		Where("exam_id = ?", examID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get session status breakdown: %w", err)
	}

	for _, row := range rows {
		stats.StatusBreakdown[row.Status] = row.Count
		stats.TotalSessions += row.Count
	}

	if stats.TotalSessions > 0 {
		disqualified := stats.StatusBreakdown[models.SessionDisqualified]
		stats.DisqualifiedRate = float64(disqualified) / float64(stats.TotalSessions) * 100
	}

	var aggregates struct {
		AverageScore   float64
		TotalAnomalies int
	}
	err = s.getDB(tx).WithContext(ctx).
		Model(&models.ExamSession{}).
		Select("COALESCE(AVG(score), 0) as average_score, COALESCE(SUM(anomaly_count), 0) as total_anomalies").
		Where("exam_id = ?", examID).
		Scan(&aggregates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get session aggregates: %w", err)
	}

	stats.AverageScore = aggregates.AverageScore
	stats.TotalAnomalies = aggregates.TotalAnomalies

	return stats, nil
}

// CanStartSession runs the pre-flight eligibility checks for starting a
// session. Advisory only: StartSession re-checks under the row lock.
func (s *SessionPostgreSQL) CanStartSession(ctx context.Context, examID uint, userID string) (*repositories.SessionValidation, error) {
	return s.helpers.ValidateSessionEligibility(ctx, examID, userID)
}
