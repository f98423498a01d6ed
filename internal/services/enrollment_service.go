package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/encryption"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type enrollmentService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	cipher    *encryption.TemplateCipher
	publisher events.EventPublisher
}

func NewEnrollmentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, cipher *encryption.TemplateCipher, publisher events.EventPublisher) EnrollmentService {
	return &enrollmentService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		cipher:    cipher,
		publisher: publisher,
	}
}

// ===== CORE ENROLLMENT OPERATIONS =====

func (s *enrollmentService) Enroll(ctx context.Context, req *EnrollBiometricsRequest, actorID string) (*EnrollmentResult, error) {
	s.logger.Info("Enrolling biometric templates",
		"user_id", req.UserID,
		"actor_id", actorID,
		"has_face", len(req.FaceTemplate) > 0,
		"has_voice", len(req.VoiceTemplate) > 0)

	// Validate request with business rules
	if errors := s.validator.GetBusinessValidator().ValidateEnrollment(req); len(errors) > 0 {
		return nil, errors
	}

	// Candidates enroll themselves, admins may enroll on behalf
	canEnroll, err := s.canEnrollFor(ctx, actorID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !canEnroll {
		return nil, NewPermissionError(actorID, 0, "enrollment", "enroll", "not self and not admin")
	}

	// The enrollment target must exist in the identity provider
	exists, err := s.repo.User().ExistsByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	// Encrypt templates before anything touches the database
	var faceCipher, voiceCipher []byte
	if len(req.FaceTemplate) > 0 {
		faceCipher, err = s.cipher.EncryptVector(req.FaceTemplate)
		if err != nil {
			s.recordEnrollmentFailure(ctx, req.UserID, "face template encryption failed")
			return nil, fmt.Errorf("failed to encrypt face template: %w", err)
		}
	}
	if len(req.VoiceTemplate) > 0 {
		voiceCipher, err = s.cipher.EncryptVector(req.VoiceTemplate)
		if err != nil {
			s.recordEnrollmentFailure(ctx, req.UserID, "voice template encryption failed")
			return nil, fmt.Errorf("failed to encrypt voice template: %w", err)
		}
	}

	// Merge with any existing profile so an omitted modality is preserved
	var profile *models.BiometricProfile
	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.Biometric().GetByUserID(ctx, tx, req.UserID)
		if err != nil && !repositories.IsNotFoundError(err) {
			return fmt.Errorf("failed to load existing profile: %w", err)
		}

		now := time.Now()
		profile = &models.BiometricProfile{
			UserID:     req.UserID,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		if existing != nil {
			profile.ID = existing.ID
			profile.EnrolledAt = existing.EnrolledAt
			profile.FaceTemplate = existing.FaceTemplate
			profile.FaceQuality = existing.FaceQuality
			profile.VoiceTemplate = existing.VoiceTemplate
			profile.VoiceQuality = existing.VoiceQuality
		}
		if faceCipher != nil {
			profile.FaceTemplate = faceCipher
			profile.FaceQuality = req.FaceQuality
		}
		if voiceCipher != nil {
			profile.VoiceTemplate = voiceCipher
			profile.VoiceQuality = req.VoiceQuality
		}

		if err := s.repo.Biometric().Upsert(ctx, tx, profile); err != nil {
			return fmt.Errorf("failed to store biometric profile: %w", err)
		}

		// Audit row commits with the profile or not at all
		details, _ := json.Marshal(map[string]interface{}{
			"modalities": profile.EnrolledModalities(),
			"actor_id":   actorID,
		})
		event := &models.SecurityEvent{
			EventType: models.EventEnrollmentSuccess,
			UserID:    &req.UserID,
			Message:   fmt.Sprintf("biometric enrollment updated (%v)", profile.EnrolledModalities()),
			Details:   datatypes.JSON(details),
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record enrollment event: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.NewEvent(events.EventEnrollmentCompleted, events.EnrollmentPayload{
		UserID:     req.UserID,
		Modalities: profile.EnrolledModalities(),
	}))

	s.logger.Info("Biometric enrollment stored",
		"user_id", req.UserID,
		"modalities", profile.EnrolledModalities())

	return &EnrollmentResult{
		UserID:        req.UserID,
		FaceEnrolled:  profile.HasFace(),
		VoiceEnrolled: profile.HasVoice(),
		FaceQuality:   profile.FaceQuality,
		VoiceQuality:  profile.VoiceQuality,
		EnrolledAt:    profile.EnrolledAt,
	}, nil
}

// ===== STATUS OPERATIONS =====

func (s *enrollmentService) GetEnrollmentStatus(ctx context.Context, userID string) (*EnrollmentStatus, error) {
	profile, err := s.repo.Biometric().GetByUserID(ctx, s.db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			// Not enrolled is a valid answer, not an error
			return &EnrollmentStatus{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get biometric profile: %w", err)
	}

	return &EnrollmentStatus{
		UserID:        userID,
		IsEnrolled:    profile.HasFace() || profile.HasVoice(),
		FaceEnrolled:  profile.HasFace(),
		VoiceEnrolled: profile.HasVoice(),
		FaceQuality:   profile.FaceQuality,
		VoiceQuality:  profile.VoiceQuality,
		EnrolledAt:    &profile.EnrolledAt,
		UpdatedAt:     &profile.UpdatedAt,
	}, nil
}

func (s *enrollmentService) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	return s.repo.Biometric().ExistsByUserID(ctx, s.db, userID)
}

// ===== REMOVAL OPERATIONS =====

func (s *enrollmentService) DeleteEnrollment(ctx context.Context, userID string, actorID string) error {
	s.logger.Info("Deleting biometric enrollment", "user_id", userID, "actor_id", actorID)

	isAdmin, err := s.repo.User().HasRole(ctx, actorID, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !isAdmin {
		return NewPermissionError(actorID, 0, "enrollment", "delete", "insufficient role permissions")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Biometric().Delete(ctx, tx, userID); err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrNotEnrolled
			}
			return fmt.Errorf("failed to delete biometric profile: %w", err)
		}

		event := &models.SecurityEvent{
			EventType: models.EventEnrollmentDeleted,
			UserID:    &userID,
			Message:   fmt.Sprintf("biometric enrollment deleted by %s", actorID),
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record enrollment deletion event: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Biometric enrollment deleted", "user_id", userID)
	return nil
}

// ===== HELPERS =====

func (s *enrollmentService) canEnrollFor(ctx context.Context, actorID, userID string) (bool, error) {
	if actorID == userID {
		return true, nil
	}
	return s.repo.User().HasRole(ctx, actorID, models.RoleAdmin)
}

// recordEnrollmentFailure appends an audit row outside any transaction.
// There is no state change to roll back, so this is best-effort.
func (s *enrollmentService) recordEnrollmentFailure(ctx context.Context, userID, reason string) {
	event := &models.SecurityEvent{
		EventType: models.EventEnrollmentFailed,
		UserID:    &userID,
		Message:   reason,
	}
	if err := s.repo.SecurityEvent().Create(ctx, nil, event); err != nil {
		s.logger.Error("Failed to record enrollment failure event", "user_id", userID, "error", err)
	}
}

func (s *enrollmentService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
