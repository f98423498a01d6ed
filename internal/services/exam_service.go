package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type examService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	cfg       config.BiometricConfig
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cfg config.BiometricConfig) ExamService {
	return &examService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		cfg:       cfg,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error) {
	s.logger.Info("Creating exam", "title", req.Title, "creator_id", creatorID)

	// Validate request with business rules
	if errors := s.validator.GetBusinessValidator().ValidateExamCreate(req); len(errors) > 0 {
		return nil, errors
	}

	isAdmin, err := s.repo.User().HasRole(ctx, creatorID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !isAdmin {
		return nil, NewPermissionError(creatorID, 0, "exam", "create", "insufficient role permissions")
	}

	exists, err := s.repo.Exam().ExistsByTitle(ctx, s.db, req.Title, creatorID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check exam title: %w", err)
	}
	if exists {
		return nil, NewValidationError("title", "an exam with this title already exists", req.Title)
	}

	exam := &models.Exam{
		Title:              req.Title,
		Description:        req.Description,
		Status:             models.ExamScheduled,
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		Duration:           req.Duration,
		RequireFaceChecks:  true,
		RequireVoiceChecks: true,
		CreatedBy:          creatorID,
	}
	if req.RequireFaceChecks != nil {
		exam.RequireFaceChecks = *req.RequireFaceChecks
	}
	if req.RequireVoiceChecks != nil {
		exam.RequireVoiceChecks = *req.RequireVoiceChecks
	}

	if err := s.repo.Exam().Create(ctx, s.db, exam); err != nil {
		return nil, fmt.Errorf("failed to create exam: %w", err)
	}

	s.logger.Info("Exam created", "exam_id", exam.ID, "title", exam.Title)

	return s.buildExamResponse(exam, true), nil
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	stats, err := s.repo.Session().GetSessionStats(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	exam.SessionCount = stats.TotalSessions

	canManage, err := s.canManageExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}

	return s.buildExamResponse(exam, canManage), nil
}

func (s *examService) Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	canManage, err := s.canManageExam(ctx, exam, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "exam", "update", "not the creator and not admin")
	}

	// Validate request with business rules against the stored exam
	if errors := s.validator.GetBusinessValidator().ValidateExamUpdate(req, exam); len(errors) > 0 {
		return nil, errors
	}

	if req.Title != nil && *req.Title != exam.Title {
		exists, err := s.repo.Exam().ExistsByTitle(ctx, s.db, *req.Title, exam.CreatedBy, &exam.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check exam title: %w", err)
		}
		if exists {
			return nil, NewValidationError("title", "an exam with this title already exists", *req.Title)
		}
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = req.Description
	}
	if req.Status != nil {
		exam.Status = *req.Status
	}
	if req.StartTime != nil {
		exam.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		exam.EndTime = *req.EndTime
	}
	if req.Duration != nil {
		exam.Duration = *req.Duration
	}
	if req.RequireFaceChecks != nil {
		exam.RequireFaceChecks = *req.RequireFaceChecks
	}
	if req.RequireVoiceChecks != nil {
		exam.RequireVoiceChecks = *req.RequireVoiceChecks
	}

	if err := s.repo.Exam().Update(ctx, s.db, exam); err != nil {
		return nil, fmt.Errorf("failed to update exam: %w", err)
	}

	s.logger.Info("Exam updated", "exam_id", exam.ID, "status", exam.Status)

	return s.buildExamResponse(exam, true), nil
}

func (s *examService) Delete(ctx context.Context, id uint, userID string) error {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrExamNotFound
		}
		return fmt.Errorf("failed to get exam: %w", err)
	}

	canManage, err := s.canManageExam(ctx, exam, userID)
	if err != nil {
		return err
	}
	if !canManage {
		return NewPermissionError(userID, id, "exam", "delete", "not the creator and not admin")
	}

	// Sessions carry audit history that must outlive the exam listing
	hasSessions, err := s.repo.Exam().HasSessions(ctx, s.db, id)
	if err != nil {
		return fmt.Errorf("failed to check exam sessions: %w", err)
	}
	if hasSessions {
		return NewValidationError("exam", "cannot delete an exam that has candidate sessions", id)
	}

	if err := s.repo.Exam().Delete(ctx, s.db, id); err != nil {
		return fmt.Errorf("failed to delete exam: %w", err)
	}

	s.logger.Info("Exam deleted", "exam_id", id, "deleted_by", userID)
	return nil
}

// ===== LIST OPERATIONS =====

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	exams, total, err := s.repo.Exam().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}

	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}

	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		responses = append(responses, s.buildExamResponse(exam, isAdmin || exam.CreatedBy == userID))
	}

	page, size := pageFromFilters(filters.Offset, filters.Limit)
	return &ExamListResponse{
		Exams: responses,
		Total: total,
		Page:  page,
		Size:  size,
	}, nil
}

func (s *examService) GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error) {
	exams, total, err := s.repo.Exam().GetByCreator(ctx, s.db, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams by creator: %w", err)
	}

	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		responses = append(responses, s.buildExamResponse(exam, true))
	}

	page, size := pageFromFilters(filters.Offset, filters.Limit)
	return &ExamListResponse{
		Exams: responses,
		Total: total,
		Page:  page,
		Size:  size,
	}, nil
}

// ===== CANDIDATE ASSIGNMENT =====

// AssignCandidates creates one pending session per candidate. Users that do
// not exist, are not candidates or already hold a session for this exam are
// skipped and reported rather than failing the batch.
func (s *examService) AssignCandidates(ctx context.Context, examID uint, userIDs []string, actorID string) (*AssignmentResult, error) {
	s.logger.Info("Assigning candidates", "exam_id", examID, "count", len(userIDs), "actor_id", actorID)

	isAdmin, err := s.repo.User().HasRole(ctx, actorID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !isAdmin {
		return nil, NewPermissionError(actorID, examID, "exam", "assign", "insufficient role permissions")
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.Status == models.ExamCompleted || exam.Status == models.ExamArchived {
		return nil, NewValidationError("exam", "cannot assign candidates to a finished exam", exam.Status)
	}

	result := &AssignmentResult{ExamID: examID, Assigned: []string{}, Skipped: []string{}}

	seen := make(map[string]bool, len(userIDs))
	unique := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		unique = append(unique, userID)
	}

	// One batch lookup against the identity provider. Unknown IDs are simply
	// absent from the result and end up skipped below.
	users, err := s.repo.User().GetByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to look up candidates: %w", err)
	}
	byID := make(map[string]*models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	for _, userID := range unique {
		user, found := byID[userID]
		if !found || user.Role != models.RoleCandidate {
			s.logger.Warn("Skipping ineligible user", "user_id", userID, "exam_id", examID)
			result.Skipped = append(result.Skipped, userID)
			continue
		}

		_, err = s.repo.Session().GetByExamAndUser(ctx, s.db, examID, userID)
		if err == nil {
			result.Skipped = append(result.Skipped, userID)
			continue
		}
		if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to check existing session: %w", err)
		}

		session := &models.ExamSession{
			ExamID: examID,
			UserID: userID,
			Status: models.SessionPending,
		}
		if err := s.repo.Session().Create(ctx, s.db, session); err != nil {
			return nil, fmt.Errorf("failed to create session for user %s: %w", userID, err)
		}
		result.Assigned = append(result.Assigned, userID)
	}

	s.logger.Info("Candidates assigned",
		"exam_id", examID,
		"assigned", len(result.Assigned),
		"skipped", len(result.Skipped))

	return result, nil
}

// ===== SESSION LIFECYCLE =====

// StartSession moves an assigned pending session to in_progress. The
// business rules run unlocked first so the candidate gets a precise reason;
// the status transition itself is re-checked under the row lock.
func (s *examService) StartSession(ctx context.Context, examID uint, userID string, req *StartSessionRequest) (*SessionResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	enrolled, err := s.meetsEnrollmentRequirements(ctx, exam, userID)
	if err != nil {
		return nil, err
	}

	if errors := s.validator.GetBusinessValidator().ValidateSessionStart(exam.Status, exam.StartTime, exam.EndTime, enrolled); len(errors) > 0 {
		return nil, errors
	}

	eligibility, err := s.repo.Session().CanStartSession(ctx, examID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session eligibility: %w", err)
	}
	if !eligibility.CanStart {
		return nil, fmt.Errorf("%w: %s", ErrSessionCannotStart, eligibility.Reason)
	}

	var session *models.ExamSession
	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.Session().GetByExamAndUser(ctx, tx, examID, userID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return fmt.Errorf("%w: candidate is not assigned to this exam", ErrSessionCannotStart)
			}
			return fmt.Errorf("failed to get session: %w", err)
		}

		session, err = s.repo.Session().GetByIDForUpdate(ctx, tx, existing.ID)
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if session.Status != models.SessionPending {
			return fmt.Errorf("%w: session is %s", ErrSessionCannotStart, session.Status)
		}

		now := time.Now()
		session.Status = models.SessionInProgress
		session.StartedAt = &now
		if req != nil && req.ClientInfo != nil {
			raw, _ := json.Marshal(req.ClientInfo)
			session.ClientInfo = datatypes.JSON(raw)
		}

		event := &models.SecurityEvent{
			EventType: models.EventExamStarted,
			UserID:    &userID,
			SessionID: &session.ID,
			Message:   fmt.Sprintf("exam session started for exam %d", examID),
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record session start event: %w", err)
		}

		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.NewEvent(events.EventSessionStarted, events.SessionEventPayload{
		SessionID: session.ID,
		ExamID:    examID,
		UserID:    userID,
		Status:    string(models.SessionInProgress),
	}))

	s.logger.Info("Exam session started", "session_id", session.ID, "exam_id", examID, "user_id", userID)

	return s.buildSessionResponse(session), nil
}

// SubmitSession completes a running session. The score arrives as input;
// answer grading belongs to the assessment service, not this one.
func (s *examService) SubmitSession(ctx context.Context, sessionID uint, userID string, req *SubmitSessionRequest) (*SessionResponse, error) {
	if req != nil {
		if err := s.validator.Validate(req); err != nil {
			return nil, err
		}
	}

	var session *models.ExamSession
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.Session().GetByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		if session.UserID != userID {
			return ErrSessionNotOwned
		}
		if session.Status == models.SessionDisqualified {
			return ErrSessionDisqualified
		}
		if session.Status != models.SessionInProgress {
			return ErrSessionNotActive
		}

		now := time.Now()
		session.Status = models.SessionCompleted
		session.CompletedAt = &now
		if req != nil && req.Score != nil {
			session.Score = req.Score
		}

		event := &models.SecurityEvent{
			EventType: models.EventExamCompleted,
			UserID:    &userID,
			SessionID: &session.ID,
			Message:   "exam session submitted",
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record session completion event: %w", err)
		}

		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.NewEvent(events.EventSessionCompleted, events.SessionEventPayload{
		SessionID: session.ID,
		ExamID:    session.ExamID,
		UserID:    userID,
		Status:    string(models.SessionCompleted),
	}))

	s.logger.Info("Exam session submitted", "session_id", session.ID, "user_id", userID)

	return s.buildSessionResponse(session), nil
}

func (s *examService) SuspendSession(ctx context.Context, sessionID uint, reason string, actorID string) error {
	return s.transitionSession(ctx, sessionID, models.SessionSuspended, reason, actorID)
}

func (s *examService) ResumeSession(ctx context.Context, sessionID uint, actorID string) error {
	return s.transitionSession(ctx, sessionID, models.SessionInProgress, "session resumed", actorID)
}

func (s *examService) TerminateSession(ctx context.Context, sessionID uint, reason string, actorID string) error {
	return s.transitionSession(ctx, sessionID, models.SessionTerminated, reason, actorID)
}

// ===== SESSION VIEWS =====

func (s *examService) GetSession(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error) {
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

	return s.buildSessionResponse(session), nil
}

func (s *examService) GetCandidateSessions(ctx context.Context, userID string) ([]*SessionResponse, error) {
	sessions, _, err := s.repo.Session().List(ctx, s.db, repositories.SessionFilters{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	responses := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, s.buildSessionResponse(session))
	}
	return responses, nil
}

// ===== HELPERS =====

// transitionSession applies a proctor-driven status change under the row
// lock, with the audit row in the same transaction.
func (s *examService) transitionSession(ctx context.Context, sessionID uint, target models.SessionStatus, reason string, actorID string) error {
	allowed, err := hasProctorAccess(ctx, s.repo, actorID)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return NewPermissionError(actorID, sessionID, "session", string(target), "insufficient role permissions")
	}

	var session *models.ExamSession
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.Session().GetByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		if errors := s.validator.GetBusinessValidator().ValidateStatusTransition(session.Status, target); len(errors) > 0 {
			return errors
		}

		now := time.Now()
		session.Status = target
		if target == models.SessionTerminated {
			session.CompletedAt = &now
			session.TerminationReason = &reason
		}

		details, _ := json.Marshal(map[string]interface{}{
			"actor_id": actorID,
			"reason":   reason,
		})
		event := &models.SecurityEvent{
			EventType: auditTypeForTransition(target),
			UserID:    &session.UserID,
			SessionID: &session.ID,
			Message:   reason,
			Details:   datatypes.JSON(details),
		}
		if err := s.repo.SecurityEvent().Create(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to record session transition event: %w", err)
		}

		if err := s.repo.Session().Update(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, events.NewEvent(publishTypeForTransition(target), events.SessionEventPayload{
		SessionID: session.ID,
		ExamID:    session.ExamID,
		UserID:    session.UserID,
		Status:    string(target),
		Reason:    reason,
	}))

	s.logger.Info("Session transitioned",
		"session_id", sessionID,
		"status", target,
		"actor_id", actorID)

	return nil
}

// meetsEnrollmentRequirements checks the candidate's profile against the
// exam's proctoring requirements. An exam with neither modality required
// accepts unenrolled candidates.
func (s *examService) meetsEnrollmentRequirements(ctx context.Context, exam *models.Exam, userID string) (bool, error) {
	if !exam.RequireFaceChecks && !exam.RequireVoiceChecks {
		return true, nil
	}

	profile, err := s.repo.Biometric().GetByUserID(ctx, s.db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get biometric profile: %w", err)
	}

	if exam.RequireFaceChecks && !profile.HasFace() {
		return false, nil
	}
	if exam.RequireVoiceChecks && !profile.HasVoice() {
		return false, nil
	}
	return true, nil
}

func (s *examService) canManageExam(ctx context.Context, exam *models.Exam, userID string) (bool, error) {
	if exam.CreatedBy == userID {
		return true, nil
	}
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return isAdmin, nil
}

func (s *examService) buildExamResponse(exam *models.Exam, canManage bool) *ExamResponse {
	return &ExamResponse{
		Exam:         exam,
		CanEdit:      canManage,
		CanDelete:    canManage && exam.Status != models.ExamActive,
		SessionCount: exam.SessionCount,
	}
}

func (s *examService) buildSessionResponse(session *models.ExamSession) *SessionResponse {
	remainingFace := max(0, s.cfg.MaxFaceFailures-session.FaceFailures)
	remainingVoice := max(0, s.cfg.MaxVoiceFailures-session.VoiceFailures)
	if session.Status == models.SessionDisqualified {
		remainingFace, remainingVoice = 0, 0
	}

	return &SessionResponse{
		ExamSession:            session,
		RemainingFaceFailures:  remainingFace,
		RemainingVoiceFailures: remainingVoice,
	}
}

func auditTypeForTransition(target models.SessionStatus) models.SecurityEventType {
	switch target {
	case models.SessionSuspended:
		return models.EventExamSuspended
	case models.SessionInProgress:
		return models.EventExamResumed
	default:
		return models.EventExamTerminated
	}
}

func publishTypeForTransition(target models.SessionStatus) string {
	switch target {
	case models.SessionSuspended:
		return events.EventSessionSuspended
	case models.SessionInProgress:
		return events.EventSessionResumed
	default:
		return events.EventSessionTerminated
	}
}

func (s *examService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
