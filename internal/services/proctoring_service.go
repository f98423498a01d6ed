package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/encryption"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type proctoringService struct {
	repo       repositories.Repository
	db         *gorm.DB
	logger     *slog.Logger
	validator  *validator.Validator
	cipher     *encryption.TemplateCipher
	face       *biometrics.FaceMatcher
	voice      *biometrics.VoiceMatcher
	challenges cache.ChallengeStore
	publisher  events.EventPublisher
	cfg        config.BiometricConfig
}

func NewProctoringService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, cipher *encryption.TemplateCipher, face *biometrics.FaceMatcher, voice *biometrics.VoiceMatcher, challenges cache.ChallengeStore, publisher events.EventPublisher, cfg config.BiometricConfig) ProctoringService {
	return &proctoringService{
		repo:       repo,
		db:         db,
		logger:     logger,
		validator:  validator,
		cipher:     cipher,
		face:       face,
		voice:      voice,
		challenges: challenges,
		publisher:  publisher,
		cfg:        cfg,
	}
}

// ===== CONTINUOUS IDENTITY CHECKS =====

// CheckFacePresence reports whether the probe's fast detector saw a face.
// Pure projection of the probe, no counters, no audit row.
func (s *proctoringService) CheckFacePresence(probe *biometrics.FaceProbe) bool {
	return probe != nil && probe.Present()
}

// CheckFaceIdentity runs one continuous face check for a running session.
// The session row is locked for the whole check so concurrent checks for the
// same session serialize; counter updates, the audit row and a possible
// disqualification commit atomically. Failure counters are cumulative for
// the session lifetime and are never reset by a successful check.
func (s *proctoringService) CheckFaceIdentity(ctx context.Context, sessionID uint, userID string, probe *biometrics.FaceProbe) (*CheckResult, error) {
	var (
		session      *models.ExamSession
		isMatch      bool
		score        float64
		failures     int
		disqualified bool
		checkedAt    time.Time
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.lockSessionForCheck(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}

		checkedAt = time.Now()
		session.TotalFaceChecks++
		session.LastFaceCheckAt = &checkedAt

		// Presence pre-check before any identity matching. A frame without
		// a face burns a failure without ever reaching the matcher.
		var message, cause string
		var encoding []float64
		if probe != nil {
			encoding = probe.Encoding()
		}
		switch {
		case probe == nil || !probe.Present():
			cause = "no face detected"
			message = cause
		case encoding == nil:
			cause = "no usable face encoding extracted"
			message = cause
		default:
			profile, err := s.repo.Biometric().GetByUserID(ctx, tx, userID)
			if err != nil {
				if repositories.IsNotFoundError(err) {
					return ErrNotEnrolled
				}
				return fmt.Errorf("failed to get biometric profile: %w", err)
			}
			if !profile.HasFace() {
				return ErrNotEnrolled
			}

			enrolled, err := s.cipher.DecryptVector(profile.FaceTemplate)
			if err != nil {
				s.logger.Error("Face template decryption failed", "user_id", userID, "error", err)
				return fmt.Errorf("cannot read biometric data: %w", err)
			}

			isMatch, score = s.face.Compare(enrolled, encoding)
			if isMatch {
				message = fmt.Sprintf("face check passed, score %.2f", score)
			} else {
				cause = "face not recognized"
				message = fmt.Sprintf("face not recognized, score %.2f", score)
			}
		}

		if isMatch {
			session.SuccessfulFaceChecks++
		} else {
			session.FaceFailures++
			session.AnomalyCount++
			disqualified = session.FaceFailures >= s.cfg.MaxFaceFailures
		}
		failures = session.FaceFailures

		if err := s.recordCheckEvent(ctx, tx, session, "face", isMatch, score, message); err != nil {
			return err
		}
		if disqualified {
			if err := s.disqualify(ctx, tx, session, "face", cause, failures); err != nil {
				return err
			}
		}
		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if disqualified {
		s.publishDisqualification(ctx, session, "face", failures)
	}

	return &CheckResult{
		SessionID:         session.ID,
		Modality:          "face",
		IsMatch:           isMatch,
		Score:             score,
		Disqualified:      disqualified,
		RemainingAttempts: max(0, s.cfg.MaxFaceFailures-failures),
		CheckedAt:         checkedAt,
	}, nil
}

// CheckVoiceIdentity runs one continuous voice check for a running session,
// under the same locking and escalation rules as CheckFaceIdentity. The
// continuous threshold is softer than the one-shot login threshold because
// candidates read challenge phrases under exam stress.
func (s *proctoringService) CheckVoiceIdentity(ctx context.Context, sessionID uint, userID string, probe *biometrics.VoiceProbe) (*CheckResult, error) {
	var (
		session      *models.ExamSession
		isMatch      bool
		score        float64
		failures     int
		disqualified bool
		checkedAt    time.Time
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.lockSessionForCheck(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}

		checkedAt = time.Now()
		session.TotalVoiceChecks++
		session.LastVoiceCheckAt = &checkedAt

		var message, cause string
		if probe == nil || !probe.Usable() {
			cause = "no voice features extracted"
			message = cause
		} else {
			profile, err := s.repo.Biometric().GetByUserID(ctx, tx, userID)
			if err != nil {
				if repositories.IsNotFoundError(err) {
					return ErrNotEnrolled
				}
				return fmt.Errorf("failed to get biometric profile: %w", err)
			}
			if !profile.HasVoice() {
				return ErrNotEnrolled
			}

			enrolled, err := s.cipher.DecryptVector(profile.VoiceTemplate)
			if err != nil {
				s.logger.Error("Voice template decryption failed", "user_id", userID, "error", err)
				return fmt.Errorf("cannot read biometric data: %w", err)
			}
			if len(enrolled) != len(probe.Features) {
				s.logger.Warn("Voice template dimensionality mismatch, re-enrollment required",
					"user_id", userID,
					"template_dims", len(enrolled),
					"probe_dims", len(probe.Features))
			}

			isMatch, score = s.voice.CompareContinuous(enrolled, probe.Features)
			if isMatch {
				message = fmt.Sprintf("voice check passed, score %.2f", score)
			} else {
				cause = "voice not recognized"
				message = fmt.Sprintf("voice not recognized, score %.2f", score)
			}
		}

		if isMatch {
			session.SuccessfulVoiceChecks++
		} else {
			session.VoiceFailures++
			session.AnomalyCount++
			disqualified = session.VoiceFailures >= s.cfg.MaxVoiceFailures
		}
		failures = session.VoiceFailures

		if err := s.recordCheckEvent(ctx, tx, session, "voice", isMatch, score, message); err != nil {
			return err
		}
		if disqualified {
			if err := s.disqualify(ctx, tx, session, "voice", cause, failures); err != nil {
				return err
			}
		}
		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if disqualified {
		s.publishDisqualification(ctx, session, "voice", failures)
	}

	return &CheckResult{
		SessionID:         session.ID,
		Modality:          "voice",
		IsMatch:           isMatch,
		Score:             score,
		Disqualified:      disqualified,
		RemainingAttempts: max(0, s.cfg.MaxVoiceFailures-failures),
		CheckedAt:         checkedAt,
	}, nil
}

// ===== VOICE CHALLENGE PROTOCOL =====

// IssueChallenge creates a short-lived voice challenge for the user. With a
// session id the session must be running and owned by the caller; without
// one the challenge serves pre-exam equipment checks.
func (s *proctoringService) IssueChallenge(ctx context.Context, userID string, sessionID *uint) (*ChallengeResponse, error) {
	if sessionID != nil {
		session, err := s.repo.Session().GetByID(ctx, s.db, *sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		if session.UserID != userID {
			return nil, ErrSessionNotOwned
		}
		if session.Status == models.SessionDisqualified {
			return nil, ErrSessionDisqualified
		}
		if !session.AcceptsChecks() {
			return nil, ErrSessionNotActive
		}
	}

	// A challenge is pointless without a voice template to match the reading
	profile, err := s.repo.Biometric().GetByUserID(ctx, s.db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("failed to get biometric profile: %w", err)
	}
	if !profile.HasVoice() {
		return nil, ErrNotEnrolled
	}

	challenge, err := s.challenges.Issue(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	// The challenge lives in the cache, not the database, so there is no
	// state change to roll back; the audit row is best-effort.
	event := &models.SecurityEvent{
		EventType: models.EventChallengeIssued,
		UserID:    &userID,
		SessionID: sessionID,
		Message:   fmt.Sprintf("voice challenge %s issued", challenge.ID),
	}
	if err := s.repo.SecurityEvent().Create(ctx, nil, event); err != nil {
		s.logger.Error("Failed to record challenge event", "challenge_id", challenge.ID, "error", err)
	}

	s.logger.Info("Voice challenge issued", "user_id", userID, "challenge_id", challenge.ID)

	return &ChallengeResponse{
		ChallengeID: challenge.ID,
		Prompt:      challenge.Prompt,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// RedeemChallenge consumes a challenge and returns its prompt. A second
// redemption of the same id fails with cache.ErrChallengeInvalid, as does an
// expired id or one issued to a different user.
func (s *proctoringService) RedeemChallenge(ctx context.Context, challengeID, userID string) (string, error) {
	challenge, err := s.challenges.Redeem(ctx, userID, challengeID)
	if err != nil {
		return "", err
	}
	return challenge.Prompt, nil
}

// VerifyVoiceChallenge redeems the challenge and runs the continuous voice
// identity check in one step. The session is gated before redemption so an
// inactive session does not burn the single-use challenge.
func (s *proctoringService) VerifyVoiceChallenge(ctx context.Context, req *VoiceVerifyRequest, userID string) (*CheckResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	session, err := s.repo.Session().GetByID(ctx, s.db, req.SessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotOwned
	}
	if session.Status == models.SessionDisqualified {
		return nil, ErrSessionDisqualified
	}
	if !session.AcceptsChecks() {
		return nil, ErrSessionNotActive
	}

	if _, err := s.challenges.Redeem(ctx, userID, req.ChallengeID); err != nil {
		return nil, err
	}

	return s.CheckVoiceIdentity(ctx, req.SessionID, userID, &req.Probe)
}

// ===== ABSENCE AND STATUS =====

// ReportAbsence records a client-reported absence. It raises the anomaly
// count and writes an ABSENCE_DETECTED row but leaves the face failure
// counter alone; only failed identity checks feed the escalation budget.
func (s *proctoringService) ReportAbsence(ctx context.Context, sessionID uint, userID string, durationSeconds *float64) (*AbsenceAck, error) {
	var session *models.ExamSession

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.lockSessionForCheck(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}

		session.AnomalyCount++

		message := "absence detected, no face visible"
		var details datatypes.JSON
		if durationSeconds != nil {
			message = fmt.Sprintf("absence detected for %.1fs, no face visible", *durationSeconds)
			raw, _ := json.Marshal(map[string]interface{}{"duration_seconds": *durationSeconds})
			details = datatypes.JSON(raw)
		}
		event := &models.SecurityEvent{
			EventType: models.EventAbsenceDetected,
			UserID:    &userID,
			SessionID: &session.ID,
			Message:   message,
			Details:   details,
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record absence event: %w", err)
		}
		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.NewEvent(events.EventAbsenceDetected, events.SessionEventPayload{
		SessionID: session.ID,
		ExamID:    session.ExamID,
		UserID:    userID,
		Status:    string(session.Status),
		Reason:    "absence detected",
	}))

	return &AbsenceAck{
		SessionID:    session.ID,
		AnomalyCount: session.AnomalyCount,
		RecordedAt:   time.Now(),
	}, nil
}

// Status projects a session's surveillance counters for the candidate's
// client or a proctor's dashboard.
func (s *proctoringService) Status(ctx context.Context, sessionID uint, userID string) (*SurveillanceStatus, error) {
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

	remainingFace := max(0, s.cfg.MaxFaceFailures-session.FaceFailures)
	remainingVoice := max(0, s.cfg.MaxVoiceFailures-session.VoiceFailures)
	if session.Status == models.SessionDisqualified {
		remainingFace, remainingVoice = 0, 0
	}

	return &SurveillanceStatus{
		SessionID:              session.ID,
		ExamID:                 session.ExamID,
		UserID:                 session.UserID,
		Status:                 session.Status,
		TotalFaceChecks:        session.TotalFaceChecks,
		SuccessfulFaceChecks:   session.SuccessfulFaceChecks,
		TotalVoiceChecks:       session.TotalVoiceChecks,
		SuccessfulVoiceChecks:  session.SuccessfulVoiceChecks,
		FaceFailures:           session.FaceFailures,
		VoiceFailures:          session.VoiceFailures,
		RemainingFaceFailures:  remainingFace,
		RemainingVoiceFailures: remainingVoice,
		AnomalyCount:           session.AnomalyCount,
		LastFaceCheckAt:        session.LastFaceCheckAt,
		LastVoiceCheckAt:       session.LastVoiceCheckAt,

		FaceCheckIntervalSeconds:      int(s.cfg.FaceCheckInterval.Seconds()),
		VoiceChallengeIntervalSeconds: int(s.cfg.VoiceChallengeInterval.Seconds()),
		MaxAbsenceSeconds:             int(s.cfg.MaxAbsenceDuration.Seconds()),
	}, nil
}

// ===== HELPERS =====

// lockSessionForCheck loads the session under a row lock and gates it for
// surveillance writes. Must run inside a transaction.
func (s *proctoringService) lockSessionForCheck(ctx context.Context, tx *gorm.DB, sessionID uint, userID string) (*models.ExamSession, error) {
	session, err := s.repo.Session().GetByIDForUpdate(ctx, tx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	if session.UserID != userID {
		return nil, ErrSessionNotOwned
	}
	if session.Status == models.SessionDisqualified {
		return nil, ErrSessionDisqualified
	}
	if !session.AcceptsChecks() {
		return nil, ErrSessionNotActive
	}

	return session, nil
}

func (s *proctoringService) recordCheckEvent(ctx context.Context, tx *gorm.DB, session *models.ExamSession, modality string, isMatch bool, score float64, message string) error {
	event := &models.SecurityEvent{
		UserID:    &session.UserID,
		SessionID: &session.ID,
		Message:   message,
	}
	if modality == "face" {
		event.EventType = models.EventFaceCheckFailed
		if isMatch {
			event.EventType = models.EventFaceCheckSuccess
		}
		event.FaceScore = &score
	} else {
		event.EventType = models.EventVoiceCheckFailed
		if isMatch {
			event.EventType = models.EventVoiceCheckSuccess
		}
		event.VoiceScore = &score
	}

	if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to record %s check event: %w", modality, err)
	}
	return nil
}

// disqualify finalizes a session whose failure budget is exhausted. The
// score drops to zero, both modality counters reset, and exactly one
// CHEATING_DETECTED row records why. Irreversible: the status gate rejects
// every later check.
func (s *proctoringService) disqualify(ctx context.Context, tx *gorm.DB, session *models.ExamSession, modality, cause string, failures int) error {
	now := time.Now()
	zero := 0.0
	reason := fmt.Sprintf("%s %d times in total", cause, failures)

	session.Status = models.SessionDisqualified
	session.Score = &zero
	session.CompletedAt = &now
	session.FaceFailures = 0
	session.VoiceFailures = 0
	session.TerminationReason = &reason

	details, _ := json.Marshal(map[string]interface{}{
		"modality":      modality,
		"failure_count": failures,
	})
	event := &models.SecurityEvent{
		EventType: models.EventCheatingDetected,
		UserID:    &session.UserID,
		SessionID: &session.ID,
		Message:   fmt.Sprintf("cheating detected: %s", reason),
		Details:   datatypes.JSON(details),
	}
	if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to record cheating event: %w", err)
	}

	s.logger.Warn("Session disqualified",
		"session_id", session.ID,
		"user_id", session.UserID,
		"modality", modality,
		"failures", failures)

	return nil
}

func (s *proctoringService) publishDisqualification(ctx context.Context, session *models.ExamSession, modality string, failures int) {
	s.publishEvent(ctx, events.NewEvent(events.EventCheatingDetected, events.CheatingDetectedPayload{
		SessionID:    session.ID,
		ExamID:       session.ExamID,
		UserID:       session.UserID,
		Modality:     modality,
		FailureCount: failures,
	}))
	s.publishEvent(ctx, events.NewEvent(events.EventSessionDisqualified, events.SessionEventPayload{
		SessionID: session.ID,
		ExamID:    session.ExamID,
		UserID:    session.UserID,
		Status:    string(models.SessionDisqualified),
		Reason:    derefString(session.TerminationReason),
	}))
}

func (s *proctoringService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
