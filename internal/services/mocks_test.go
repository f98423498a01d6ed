package services

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/encryption"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

// ===== GORM TRANSACTION STUB =====

// txConnStub satisfies both gorm.ConnPool and gorm.TxCommitter. With
// DisableNestedTransaction set, db.Transaction then invokes its callback
// inline without issuing SQL, and the repository mocks ignore the tx handle.
type txConnStub struct{}

func (txConnStub) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return nil, nil
}

func (txConnStub) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (txConnStub) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (txConnStub) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (txConnStub) Commit() error   { return nil }
func (txConnStub) Rollback() error { return nil }

// newStubDB builds a gorm handle whose Transaction runs callbacks inline
func newStubDB() *gorm.DB {
	db := &gorm.DB{Config: &gorm.Config{DisableNestedTransaction: true}}
	db.Statement = &gorm.Statement{DB: db, ConnPool: txConnStub{}, Context: context.Background()}
	return db
}

// ===== SHARED FIXTURES =====

var (
	testCipherOnce sync.Once
	testCipher     *encryption.TemplateCipher
	testCipherErr  error
)

// newTestCipher returns a process-wide cipher; the key stretching is too slow
// to rerun per test
func newTestCipher(t testing.TB) *encryption.TemplateCipher {
	t.Helper()
	testCipherOnce.Do(func() {
		testCipher, testCipherErr = encryption.NewTemplateCipher("unit-test-passphrase", 100_000)
	})
	if testCipherErr != nil {
		t.Fatalf("NewTemplateCipher() error = %v", testCipherErr)
	}
	return testCipher
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testBiometricConfig() config.BiometricConfig {
	return config.BiometricConfig{
		FaceMatchThreshold:       0.6,
		VoiceMatchThreshold:      0.85,
		VoiceContinuousThreshold: 0.75,
		FaceWeight:               0.6,
		VoiceWeight:              0.4,
		MultimodalThreshold:      0.65,
		MinFaceScore:             0.5,
		MinVoiceScore:            0.55,
		MaxFaceFailures:          3,
		MaxVoiceFailures:         3,
		ChallengeTTL:             time.Minute,
		TemplatePassphrase:       "unit-test-passphrase",
		KDFIterations:            100_000,
		FaceCheckInterval:        5 * time.Second,
		VoiceChallengeInterval:   2 * time.Minute,
		MaxAbsenceDuration:       15 * time.Second,
	}
}

// Templates and probes with known matcher outcomes. The impostor face sits
// far outside the 0.6 distance threshold; the impostor voice is the genuine
// vector reversed, which zeroes all three voice similarity signals.
var (
	genuineFace   = []float64{0.1, 0.2, 0.3, 0.4}
	impostorFace  = []float64{5.0, 5.0, 5.0, 5.0}
	genuineVoice  = []float64{0.2, 0.4, 0.6, 0.8}
	impostorVoice = []float64{0.8, 0.6, 0.4, 0.2}
)

func faceProbeOf(encoding []float64) *biometrics.FaceProbe {
	return &biometrics.FaceProbe{FacesDetected: 1, Encodings: [][]float64{encoding}, Quality: 0.9}
}

func voiceProbeOf(features []float64) *biometrics.VoiceProbe {
	return &biometrics.VoiceProbe{Features: features, Quality: 0.9}
}

// seedProfile encrypts the given vectors and stores them as an enrolled
// profile, bypassing the enrollment service
func seedProfile(t testing.TB, repo *MockRepository, cipher *encryption.TemplateCipher, userID string, face, voice []float64) {
	t.Helper()

	quality := 0.9
	profile := &models.BiometricProfile{UserID: userID, EnrolledAt: time.Now(), UpdatedAt: time.Now()}
	if face != nil {
		sealed, err := cipher.EncryptVector(face)
		if err != nil {
			t.Fatalf("EncryptVector(face) error = %v", err)
		}
		profile.FaceTemplate = sealed
		profile.FaceQuality = &quality
	}
	if voice != nil {
		sealed, err := cipher.EncryptVector(voice)
		if err != nil {
			t.Fatalf("EncryptVector(voice) error = %v", err)
		}
		profile.VoiceTemplate = sealed
		profile.VoiceQuality = &quality
	}
	if err := repo.biometric.Upsert(context.Background(), nil, profile); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

// ===== IN-MEMORY REPOSITORY =====

// MockRepository is an in-memory repositories.Repository for service tests.
// The sub-repositories behave like their SQL counterparts for the operations
// the services exercise: reads return copies, writes only land through
// Create/Update/Upsert, and a miss is gorm.ErrRecordNotFound.
type MockRepository struct {
	biometric *MockBiometricRepository
	exam      *MockExamRepository
	session   *MockSessionRepository
	event     *MockSecurityEventRepository
	user      *MockUserRepository
}

func newMockRepository() *MockRepository {
	sessions := &MockSessionRepository{sessions: make(map[uint]*models.ExamSession)}
	return &MockRepository{
		biometric: &MockBiometricRepository{profiles: make(map[string]*models.BiometricProfile)},
		exam:      &MockExamRepository{exams: make(map[uint]*models.Exam), sessions: sessions},
		session:   sessions,
		event:     &MockSecurityEventRepository{sessions: sessions},
		user:      &MockUserRepository{users: make(map[string]*models.User), roles: make(map[string]models.UserRole)},
	}
}

func (m *MockRepository) Biometric() repositories.BiometricRepository         { return m.biometric }
func (m *MockRepository) Exam() repositories.ExamRepository                   { return m.exam }
func (m *MockRepository) Session() repositories.SessionRepository             { return m.session }
func (m *MockRepository) SecurityEvent() repositories.SecurityEventRepository { return m.event }
func (m *MockRepository) User() repositories.UserRepository                   { return m.user }

func (m *MockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }
func (m *MockRepository) Close() error                   { return nil }

// ===== SEED HELPERS =====

func (m *MockRepository) addUser(id string, role models.UserRole) {
	m.user.users[id] = &models.User{ID: id, FullName: "Test " + id, Email: id + "@example.com", Role: role}
	m.user.roles[id] = role
}

func (m *MockRepository) addExam(exam *models.Exam) *models.Exam {
	_ = m.exam.Create(context.Background(), nil, exam)
	return exam
}

func (m *MockRepository) addSession(examID uint, userID string, status models.SessionStatus) *models.ExamSession {
	session := &models.ExamSession{ExamID: examID, UserID: userID, Status: status}
	_ = m.session.Create(context.Background(), nil, session)
	return session
}

// storedSession returns the persisted row for post-call assertions
func (m *MockRepository) storedSession(t *testing.T, id uint) *models.ExamSession {
	t.Helper()
	session, ok := m.session.sessions[id]
	if !ok {
		t.Fatalf("session %d not in store", id)
	}
	return session
}

// ===== BIOMETRIC REPOSITORY MOCK =====

type MockBiometricRepository struct {
	profiles map[string]*models.BiometricProfile
	nextID   uint
}

func (m *MockBiometricRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.BiometricProfile, error) {
	profile, ok := m.profiles[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *profile
	return &copied, nil
}

func (m *MockBiometricRepository) Upsert(ctx context.Context, tx *gorm.DB, profile *models.BiometricProfile) error {
	if existing, ok := m.profiles[profile.UserID]; ok {
		profile.ID = existing.ID
	} else {
		m.nextID++
		profile.ID = m.nextID
	}
	copied := *profile
	m.profiles[profile.UserID] = &copied
	return nil
}

func (m *MockBiometricRepository) Delete(ctx context.Context, tx *gorm.DB, userID string) error {
	if _, ok := m.profiles[userID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.profiles, userID)
	return nil
}

func (m *MockBiometricRepository) List(ctx context.Context, tx *gorm.DB, filters repositories.BiometricFilters) ([]*models.BiometricProfile, int64, error) {
	out := make([]*models.BiometricProfile, 0, len(m.profiles))
	for _, profile := range m.profiles {
		copied := *profile
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (m *MockBiometricRepository) ExistsByUserID(ctx context.Context, tx *gorm.DB, userID string) (bool, error) {
	_, ok := m.profiles[userID]
	return ok, nil
}

// ===== EXAM REPOSITORY MOCK =====

type MockExamRepository struct {
	exams    map[uint]*models.Exam
	nextID   uint
	sessions *MockSessionRepository
}

func (m *MockExamRepository) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	m.nextID++
	exam.ID = m.nextID
	copied := *exam
	m.exams[exam.ID] = &copied
	return nil
}

func (m *MockExamRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	exam, ok := m.exams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *exam
	return &copied, nil
}

func (m *MockExamRepository) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if _, ok := m.exams[exam.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *exam
	m.exams[exam.ID] = &copied
	return nil
}

func (m *MockExamRepository) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	if _, ok := m.exams[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.exams, id)
	return nil
}

func (m *MockExamRepository) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	out := make([]*models.Exam, 0, len(m.exams))
	for _, exam := range m.exams {
		if filters.Status != nil && exam.Status != *filters.Status {
			continue
		}
		if filters.CreatedBy != nil && exam.CreatedBy != *filters.CreatedBy {
			continue
		}
		copied := *exam
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *MockExamRepository) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	filters.CreatedBy = &creatorID
	return m.List(ctx, tx, filters)
}

func (m *MockExamRepository) ExistsByTitle(ctx context.Context, tx *gorm.DB, title string, creatorID string, excludeID *uint) (bool, error) {
	for _, exam := range m.exams {
		if excludeID != nil && exam.ID == *excludeID {
			continue
		}
		if exam.Title == title && exam.CreatedBy == creatorID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockExamRepository) HasSessions(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	for _, session := range m.sessions.sessions {
		if session.ExamID == id {
			return true, nil
		}
	}
	return false, nil
}

// ===== SESSION REPOSITORY MOCK =====

type MockSessionRepository struct {
	sessions map[uint]*models.ExamSession
	nextID   uint

	// validation overrides the CanStartSession answer, default is allow
	validation *repositories.SessionValidation
}

func (m *MockSessionRepository) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	m.nextID++
	session.ID = m.nextID
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *MockSessionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	return m.GetByID(ctx, tx, id)
}

func (m *MockSessionRepository) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	if _, ok := m.sessions[session.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *MockSessionRepository) GetByExamAndUser(ctx context.Context, tx *gorm.DB, examID uint, userID string) (*models.ExamSession, error) {
	for _, session := range m.sessions {
		if session.ExamID == examID && session.UserID == userID {
			copied := *session
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockSessionRepository) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	out := make([]*models.ExamSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		if filters.Status != nil && session.Status != *filters.Status {
			continue
		}
		if filters.ExamID != nil && session.ExamID != *filters.ExamID {
			continue
		}
		if filters.UserID != nil && session.UserID != *filters.UserID {
			continue
		}
		copied := *session
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *MockSessionRepository) GetSessionStats(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.SessionStats, error) {
	stats := &repositories.SessionStats{StatusBreakdown: make(map[models.SessionStatus]int)}
	var scoreSum float64
	var scored int
	for _, session := range m.sessions {
		if session.ExamID != examID {
			continue
		}
		stats.TotalSessions++
		stats.StatusBreakdown[session.Status]++
		stats.TotalAnomalies += session.AnomalyCount
		if session.Score != nil {
			scoreSum += *session.Score
			scored++
		}
	}
	if stats.TotalSessions > 0 {
		stats.DisqualifiedRate = float64(stats.StatusBreakdown[models.SessionDisqualified]) / float64(stats.TotalSessions) * 100
	}
	if scored > 0 {
		stats.AverageScore = scoreSum / float64(scored)
	}
	return stats, nil
}

func (m *MockSessionRepository) CanStartSession(ctx context.Context, examID uint, userID string) (*repositories.SessionValidation, error) {
	if m.validation != nil {
		return m.validation, nil
	}
	return &repositories.SessionValidation{CanStart: true}, nil
}

// ===== SECURITY EVENT REPOSITORY MOCK =====

type MockSecurityEventRepository struct {
	events []*models.SecurityEvent
	nextID uint

	// resolves the exam filter the way the SQL subquery does
	sessions *MockSessionRepository

	// createErr fails every append, for audit-write failure paths
	createErr error
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, tx *gorm.DB, event *models.SecurityEvent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	event.ID = m.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

func (m *MockSecurityEventRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.SecurityEvent, error) {
	for _, event := range m.events {
		if event.ID == id {
			copied := *event
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockSecurityEventRepository) List(ctx context.Context, tx *gorm.DB, filters repositories.SecurityEventFilters) ([]*models.SecurityEvent, int64, error) {
	filtered := m.filtered(filters)
	total := int64(len(filtered))
	if filters.Offset > 0 {
		if filters.Offset >= len(filtered) {
			filtered = filtered[:0]
		} else {
			filtered = filtered[filters.Offset:]
		}
	}
	if filters.Limit > 0 && filters.Limit < len(filtered) {
		filtered = filtered[:filters.Limit]
	}
	return filtered, total, nil
}

func (m *MockSecurityEventRepository) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint, filters repositories.SecurityEventFilters) ([]*models.SecurityEvent, error) {
	filters.SessionID = &sessionID
	return m.filtered(filters), nil
}

func (m *MockSecurityEventRepository) CountByType(ctx context.Context, tx *gorm.DB, eventType models.SecurityEventType, dateFrom, dateTo *time.Time) (int64, error) {
	var count int64
	for _, event := range m.events {
		if event.EventType == eventType && withinRange(event.CreatedAt, dateFrom, dateTo) {
			count++
		}
	}
	return count, nil
}

func (m *MockSecurityEventRepository) GetEventStats(ctx context.Context, tx *gorm.DB, filters repositories.SecurityEventFilters) (*repositories.SecurityEventStats, error) {
	stats := &repositories.SecurityEventStats{EventsByType: make(map[models.SecurityEventType]int)}
	for _, event := range m.filtered(filters) {
		stats.TotalEvents++
		stats.EventsByType[event.EventType]++
		if event.EventType.IsFailure() {
			stats.FailureCount++
		}
		switch event.EventType {
		case models.EventCheatingDetected:
			stats.CheatingCount++
		case models.EventAbsenceDetected:
			stats.AbsenceCount++
		}
	}
	return stats, nil
}

func (m *MockSecurityEventRepository) GetFailureRates(ctx context.Context, tx *gorm.DB, dateFrom, dateTo *time.Time) (*repositories.FailureRateStats, error) {
	stats := &repositories.FailureRateStats{}
	for _, event := range m.events {
		if !withinRange(event.CreatedAt, dateFrom, dateTo) {
			continue
		}
		switch event.EventType {
		case models.EventFaceCheckSuccess:
			stats.TotalFaceChecks++
		case models.EventFaceCheckFailed:
			stats.TotalFaceChecks++
			stats.FailedFaceChecks++
		case models.EventVoiceCheckSuccess:
			stats.TotalVoiceChecks++
		case models.EventVoiceCheckFailed:
			stats.TotalVoiceChecks++
			stats.FailedVoiceChecks++
		case models.EventLoginSuccess:
			stats.TotalLogins++
		case models.EventLoginFailed:
			stats.TotalLogins++
			stats.FailedLogins++
		}
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

// filtered applies the query filters over the appended rows, oldest first
func (m *MockSecurityEventRepository) filtered(filters repositories.SecurityEventFilters) []*models.SecurityEvent {
	out := make([]*models.SecurityEvent, 0, len(m.events))
	for _, event := range m.events {
		if filters.EventType != nil && event.EventType != *filters.EventType {
			continue
		}
		if filters.UserID != nil && (event.UserID == nil || *event.UserID != *filters.UserID) {
			continue
		}
		if filters.SessionID != nil && (event.SessionID == nil || *event.SessionID != *filters.SessionID) {
			continue
		}
		if filters.ExamID != nil {
			if event.SessionID == nil {
				continue
			}
			session, ok := m.sessions.sessions[*event.SessionID]
			if !ok || session.ExamID != *filters.ExamID {
				continue
			}
		}
		if filters.FailuresOnly && !event.EventType.IsFailure() {
			continue
		}
		if !withinRange(event.CreatedAt, filters.DateFrom, filters.DateTo) {
			continue
		}
		out = append(out, event)
	}
	if filters.SortOrder == "desc" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ofType returns stored events of one type, oldest first
func (m *MockSecurityEventRepository) ofType(eventType models.SecurityEventType) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, event := range m.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

func withinRange(ts time.Time, from, to *time.Time) bool {
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && ts.After(*to) {
		return false
	}
	return true
}

// ===== USER REPOSITORY MOCK =====

type MockUserRepository struct {
	users map[string]*models.User
	roles map[string]models.UserRole
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	copied.Role = m.roles[id]
	return &copied, nil
}

func (m *MockUserRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if user, err := m.GetByID(ctx, id); err == nil {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *MockUserRepository) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	out := make([]*models.User, 0, len(m.users))
	for id := range m.users {
		user, _ := m.GetByID(ctx, id)
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *MockUserRepository) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	all, _, _ := m.List(ctx, filters)
	out := make([]*models.User, 0, len(all))
	for _, user := range all {
		if strings.Contains(user.FullName, query) || strings.Contains(user.Email, query) {
			out = append(out, user)
		}
	}
	return out, int64(len(out)), nil
}

func (m *MockUserRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	_, ok := m.users[id]
	return ok, nil
}

func (m *MockUserRepository) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	return m.roles[id] == role, nil
}
