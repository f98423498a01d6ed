package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/encryption"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type verificationService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	cipher    *encryption.TemplateCipher
	face      *biometrics.FaceMatcher
	voice     *biometrics.VoiceMatcher
	fusion    *biometrics.FusionPolicy
	publisher events.EventPublisher
}

func NewVerificationService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, cipher *encryption.TemplateCipher, face *biometrics.FaceMatcher, voice *biometrics.VoiceMatcher, fusion *biometrics.FusionPolicy, publisher events.EventPublisher) VerificationService {
	return &verificationService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		cipher:    cipher,
		face:      face,
		voice:     voice,
		fusion:    fusion,
		publisher: publisher,
	}
}

// Verify runs one multimodal identity verification against the user's
// enrolled templates. Each supplied modality is scored individually, the
// fusion policy makes the accept/reject decision, and exactly one
// LOGIN_SUCCESS or LOGIN_FAILED audit row carrying all scores is written.
// If that row cannot be written the verification fails.
func (s *verificationService) Verify(ctx context.Context, req *VerifyIdentityRequest) (*VerificationResult, error) {
	s.logger.Info("Verifying identity",
		"user_id", req.UserID,
		"has_face_probe", req.FaceProbe != nil,
		"has_voice_probe", req.VoiceProbe != nil)

	// Validate request with business rules
	if errors := s.validator.GetBusinessValidator().ValidateVerification(req); len(errors) > 0 {
		return nil, errors
	}

	profile, err := s.repo.Biometric().GetByUserID(ctx, s.db, req.UserID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("failed to get biometric profile: %w", err)
	}

	// A supplied probe always enters the fusion, even when its modality has
	// no template or no usable extraction. It then scores zero and trips the
	// modality floor, so a claimed modality can never be silently skipped.
	faceScore, err := s.scoreFace(req.UserID, profile, req.FaceProbe)
	if err != nil {
		return nil, err
	}
	voiceScore, err := s.scoreVoice(req.UserID, profile, req.VoiceProbe)
	if err != nil {
		return nil, err
	}

	decision, err := s.fusion.Evaluate(faceScore, voiceScore)
	if err != nil {
		return nil, err
	}

	eventType := models.EventLoginFailed
	if decision.Verified {
		eventType = models.EventLoginSuccess
	}

	// The audit row is this operation's only state change; verification
	// without its record must not succeed
	combined := decision.CombinedScore
	event := &models.SecurityEvent{
		EventType:     eventType,
		UserID:        &req.UserID,
		FaceScore:     decision.FaceScore,
		VoiceScore:    decision.VoiceScore,
		CombinedScore: &combined,
		Message:       decision.Reason,
	}
	if err := s.repo.SecurityEvent().Create(ctx, nil, event); err != nil {
		return nil, fmt.Errorf("failed to record verification event: %w", err)
	}

	verifiedAt := time.Now()

	eventName := events.EventVerificationFailed
	if decision.Verified {
		eventName = events.EventIdentityVerified
	}
	s.publishEvent(ctx, events.NewEvent(eventName, events.VerificationPayload{
		UserID:        req.UserID,
		Verified:      decision.Verified,
		FaceScore:     decision.FaceScore,
		VoiceScore:    decision.VoiceScore,
		CombinedScore: decision.CombinedScore,
		Reason:        decision.Reason,
	}))

	s.logger.Info("Identity verification decided",
		"user_id", req.UserID,
		"verified", decision.Verified,
		"combined_score", decision.CombinedScore,
		"reason", decision.Reason)

	return &VerificationResult{
		UserID:        req.UserID,
		Verified:      decision.Verified,
		FaceScore:     decision.FaceScore,
		VoiceScore:    decision.VoiceScore,
		CombinedScore: decision.CombinedScore,
		Reason:        decision.Reason,
		VerifiedAt:    verifiedAt,
	}, nil
}

// ===== MODALITY SCORING =====

func (s *verificationService) scoreFace(userID string, profile *models.BiometricProfile, probe *biometrics.FaceProbe) (*float64, error) {
	if probe == nil {
		return nil, nil
	}

	score := 0.0
	encoding := probe.Encoding()
	switch {
	case encoding == nil:
		s.logger.Warn("Face probe carries no usable encoding", "user_id", userID)
	case !profile.HasFace():
		s.logger.Warn("Face probe supplied but no face template enrolled", "user_id", userID)
	default:
		enrolled, err := s.cipher.DecryptVector(profile.FaceTemplate)
		if err != nil {
			s.logger.Error("Face template decryption failed", "user_id", userID, "error", err)
			return nil, fmt.Errorf("cannot read biometric data: %w", err)
		}
		_, score = s.face.Compare(enrolled, encoding)
	}

	return &score, nil
}

func (s *verificationService) scoreVoice(userID string, profile *models.BiometricProfile, probe *biometrics.VoiceProbe) (*float64, error) {
	if probe == nil {
		return nil, nil
	}

	score := 0.0
	switch {
	case !probe.Usable():
		s.logger.Warn("Voice probe carries no features", "user_id", userID)
	case !profile.HasVoice():
		s.logger.Warn("Voice probe supplied but no voice template enrolled", "user_id", userID)
	default:
		enrolled, err := s.cipher.DecryptVector(profile.VoiceTemplate)
		if err != nil {
			s.logger.Error("Voice template decryption failed", "user_id", userID, "error", err)
			return nil, fmt.Errorf("cannot read biometric data: %w", err)
		}
		if len(enrolled) != len(probe.Features) {
			s.logger.Warn("Voice template dimensionality mismatch, re-enrollment required",
				"user_id", userID,
				"template_dims", len(enrolled),
				"probe_dims", len(probe.Features))
		}
		_, score = s.voice.CompareStrict(enrolled, probe.Features)
	}

	return &score, nil
}

func (s *verificationService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
