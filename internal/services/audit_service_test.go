package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

func newAuditFixture(t *testing.T) (*MockRepository, AuditService) {
	t.Helper()

	repo := newMockRepository()
	service := &auditService{
		repo:      repo,
		db:        newStubDB(),
		logger:    newTestLogger(),
		validator: validator.New(),
	}
	return repo, service
}

func seedEvent(repo *MockRepository, eventType models.SecurityEventType, userID string, sessionID *uint) *models.SecurityEvent {
	event := &models.SecurityEvent{EventType: eventType, SessionID: sessionID}
	if userID != "" {
		event.UserID = &userID
	}
	_ = repo.event.Create(context.Background(), nil, event)
	return event
}

func TestAuditService_ListSecurityEvents(t *testing.T) {
	repo, service := newAuditFixture(t)
	ctx := context.Background()

	repo.addUser("proctor-1", models.RoleProctor)
	repo.addUser("cand-1", models.RoleCandidate)
	exam := repo.addExam(openExam(models.ExamActive, true, true))
	session := repo.addSession(exam.ID, "cand-1", models.SessionInProgress)

	seedEvent(repo, models.EventLoginSuccess, "cand-1", nil)
	seedEvent(repo, models.EventFaceCheckFailed, "cand-1", uintPtr(session.ID))
	seedEvent(repo, models.EventLoginFailed, "cand-2", nil)

	t.Run("candidate is rejected", func(t *testing.T) {
		if _, err := service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{}, "cand-1"); !IsPermissionError(err) {
			t.Errorf("ListSecurityEvents() error = %v, want a permission error", err)
		}
	})

	t.Run("proctor lists everything", func(t *testing.T) {
		resp, err := service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{Limit: 10}, "proctor-1")
		if err != nil {
			t.Fatalf("ListSecurityEvents() error = %v", err)
		}
		if resp.Total != 3 || len(resp.Events) != 3 {
			t.Errorf("Total = %d with %d events, want 3/3", resp.Total, len(resp.Events))
		}
	})

	t.Run("event type filter", func(t *testing.T) {
		eventType := models.EventLoginFailed
		resp, err := service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{EventType: &eventType, Limit: 10}, "proctor-1")
		if err != nil {
			t.Fatalf("ListSecurityEvents() error = %v", err)
		}
		if resp.Total != 1 || resp.Events[0].EventType != models.EventLoginFailed {
			t.Errorf("Filtered events = %+v, want one login failure", resp.Events)
		}
	})

	t.Run("failures only", func(t *testing.T) {
		resp, err := service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{FailuresOnly: true, Limit: 10}, "proctor-1")
		if err != nil {
			t.Fatalf("ListSecurityEvents() error = %v", err)
		}
		if resp.Total != 2 {
			t.Errorf("Total = %d, want 2 failure events", resp.Total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		resp, err := service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{Limit: 2}, "proctor-1")
		if err != nil {
			t.Fatalf("ListSecurityEvents() error = %v", err)
		}
		if len(resp.Events) != 2 || resp.Total != 3 || resp.Page != 1 || resp.Size != 2 {
			t.Errorf("First page = %d events, total %d, page %d, size %d", len(resp.Events), resp.Total, resp.Page, resp.Size)
		}

		resp, err = service.ListSecurityEvents(ctx, repositories.SecurityEventFilters{Limit: 2, Offset: 2}, "proctor-1")
		if err != nil {
			t.Fatalf("ListSecurityEvents() error = %v", err)
		}
		if len(resp.Events) != 1 || resp.Page != 2 {
			t.Errorf("Second page = %d events, page %d", len(resp.Events), resp.Page)
		}
	})
}

func TestAuditService_GetSessionTimeline(t *testing.T) {
	repo, service := newAuditFixture(t)
	ctx := context.Background()

	repo.addUser("proctor-1", models.RoleProctor)
	repo.addUser("cand-1", models.RoleCandidate)
	repo.addUser("cand-2", models.RoleCandidate)
	exam := repo.addExam(openExam(models.ExamActive, true, true))
	session := repo.addSession(exam.ID, "cand-1", models.SessionInProgress)

	first := seedEvent(repo, models.EventExamStarted, "cand-1", uintPtr(session.ID))
	second := seedEvent(repo, models.EventFaceCheckSuccess, "cand-1", uintPtr(session.ID))
	seedEvent(repo, models.EventLoginSuccess, "cand-2", nil)

	t.Run("owner reads the timeline oldest first", func(t *testing.T) {
		timeline, err := service.GetSessionTimeline(ctx, session.ID, "cand-1")
		if err != nil {
			t.Fatalf("GetSessionTimeline() error = %v", err)
		}
		if len(timeline) != 2 {
			t.Fatalf("Timeline = %d events, want 2", len(timeline))
		}
		if timeline[0].ID != first.ID || timeline[1].ID != second.ID {
			t.Errorf("Timeline order = [%d %d], want [%d %d]", timeline[0].ID, timeline[1].ID, first.ID, second.ID)
		}
	})

	t.Run("proctor reads any timeline", func(t *testing.T) {
		if _, err := service.GetSessionTimeline(ctx, session.ID, "proctor-1"); err != nil {
			t.Errorf("GetSessionTimeline() error = %v", err)
		}
	})

	t.Run("foreign candidate is rejected", func(t *testing.T) {
		if _, err := service.GetSessionTimeline(ctx, session.ID, "cand-2"); !IsPermissionError(err) {
			t.Errorf("GetSessionTimeline() error = %v, want a permission error", err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		if _, err := service.GetSessionTimeline(ctx, 999, "cand-1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("GetSessionTimeline() error = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestAuditService_GetExamStatistics(t *testing.T) {
	repo, service := newAuditFixture(t)
	ctx := context.Background()

	repo.addUser("proctor-1", models.RoleProctor)
	repo.addUser("cand-1", models.RoleCandidate)
	examA := repo.addExam(openExam(models.ExamActive, true, true))
	examB := repo.addExam(&models.Exam{Title: "Other Exam", Status: models.ExamActive, CreatedBy: "admin-1"})

	completed := repo.addSession(examA.ID, "cand-1", models.SessionCompleted)
	score := 80.0
	repo.storedSession(t, completed.ID).Score = &score
	repo.storedSession(t, completed.ID).AnomalyCount = 1

	disqualified := repo.addSession(examA.ID, "cand-2", models.SessionDisqualified)
	repo.storedSession(t, disqualified.ID).AnomalyCount = 3

	repo.addSession(examA.ID, "cand-3", models.SessionInProgress)
	other := repo.addSession(examB.ID, "cand-1", models.SessionInProgress)

	seedEvent(repo, models.EventFaceCheckFailed, "cand-1", uintPtr(completed.ID))
	seedEvent(repo, models.EventCheatingDetected, "cand-2", uintPtr(disqualified.ID))
	seedEvent(repo, models.EventFaceCheckSuccess, "cand-1", uintPtr(other.ID))

	t.Run("aggregates one exam only", func(t *testing.T) {
		stats, err := service.GetExamStatistics(ctx, examA.ID, "proctor-1")
		if err != nil {
			t.Fatalf("GetExamStatistics() error = %v", err)
		}

		if stats.ExamID != examA.ID {
			t.Errorf("ExamID = %d, want %d", stats.ExamID, examA.ID)
		}
		if stats.Sessions.TotalSessions != 3 {
			t.Errorf("TotalSessions = %d, want 3", stats.Sessions.TotalSessions)
		}
		if stats.Sessions.StatusBreakdown[models.SessionDisqualified] != 1 {
			t.Errorf("Disqualified breakdown = %d, want 1", stats.Sessions.StatusBreakdown[models.SessionDisqualified])
		}
		if math.Abs(stats.Sessions.DisqualifiedRate-100.0/3.0) > 1e-9 {
			t.Errorf("DisqualifiedRate = %v, want one third", stats.Sessions.DisqualifiedRate)
		}
		if stats.Sessions.AverageScore != 80.0 {
			t.Errorf("AverageScore = %v, want 80", stats.Sessions.AverageScore)
		}
		if stats.Sessions.TotalAnomalies != 4 {
			t.Errorf("TotalAnomalies = %d, want 4", stats.Sessions.TotalAnomalies)
		}

		if stats.Events.TotalEvents != 2 {
			t.Errorf("TotalEvents = %d, want 2 (other exam excluded)", stats.Events.TotalEvents)
		}
		if stats.Events.FailureCount != 2 || stats.Events.CheatingCount != 1 {
			t.Errorf("FailureCount/CheatingCount = %d/%d, want 2/1", stats.Events.FailureCount, stats.Events.CheatingCount)
		}
	})

	t.Run("candidate is rejected", func(t *testing.T) {
		if _, err := service.GetExamStatistics(ctx, examA.ID, "cand-1"); !IsPermissionError(err) {
			t.Errorf("GetExamStatistics() error = %v, want a permission error", err)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		if _, err := service.GetExamStatistics(ctx, 999, "proctor-1"); !errors.Is(err, ErrExamNotFound) {
			t.Errorf("GetExamStatistics() error = %v, want ErrExamNotFound", err)
		}
	})
}

func TestAuditService_GetVerificationMetrics(t *testing.T) {
	repo, service := newAuditFixture(t)
	ctx := context.Background()

	repo.addUser("proctor-1", models.RoleProctor)
	repo.addUser("cand-1", models.RoleCandidate)

	for i := 0; i < 3; i++ {
		seedEvent(repo, models.EventFaceCheckSuccess, "cand-1", nil)
	}
	seedEvent(repo, models.EventFaceCheckFailed, "cand-1", nil)
	seedEvent(repo, models.EventLoginSuccess, "cand-1", nil)
	seedEvent(repo, models.EventLoginFailed, "cand-2", nil)
	seedEvent(repo, models.EventCheatingDetected, "cand-2", nil)
	seedEvent(repo, models.EventAbsenceDetected, "cand-1", nil)
	seedEvent(repo, models.EventAbsenceDetected, "cand-1", nil)

	// an old failure that the windowed query must not see
	old := &models.SecurityEvent{EventType: models.EventFaceCheckFailed, CreatedAt: time.Now().Add(-48 * time.Hour)}
	_ = repo.event.Create(ctx, nil, old)

	t.Run("whole history", func(t *testing.T) {
		metrics, err := service.GetVerificationMetrics(ctx, nil, nil, "proctor-1")
		if err != nil {
			t.Fatalf("GetVerificationMetrics() error = %v", err)
		}
		if metrics.TotalFaceChecks != 5 || metrics.FailedFaceChecks != 2 {
			t.Errorf("Face checks = %d/%d failed, want 5/2", metrics.TotalFaceChecks, metrics.FailedFaceChecks)
		}
		if math.Abs(metrics.FaceRejectionRate-40.0) > 1e-9 {
			t.Errorf("FaceRejectionRate = %v, want 40", metrics.FaceRejectionRate)
		}
		if math.Abs(metrics.LoginRejectionRate-50.0) > 1e-9 {
			t.Errorf("LoginRejectionRate = %v, want 50", metrics.LoginRejectionRate)
		}
		if metrics.CheatingCount != 1 || metrics.AbsenceCount != 2 {
			t.Errorf("Cheating/Absence = %d/%d, want 1/2", metrics.CheatingCount, metrics.AbsenceCount)
		}
	})

	t.Run("windowed query drops old rows", func(t *testing.T) {
		from := time.Now().Add(-time.Hour)
		metrics, err := service.GetVerificationMetrics(ctx, &from, nil, "proctor-1")
		if err != nil {
			t.Fatalf("GetVerificationMetrics() error = %v", err)
		}
		if metrics.TotalFaceChecks != 4 {
			t.Errorf("TotalFaceChecks = %d, want 4", metrics.TotalFaceChecks)
		}
		if math.Abs(metrics.FaceRejectionRate-25.0) > 1e-9 {
			t.Errorf("FaceRejectionRate = %v, want 25", metrics.FaceRejectionRate)
		}
		if metrics.From == nil || !metrics.From.Equal(from) {
			t.Errorf("From = %v, want %v", metrics.From, from)
		}
	})

	t.Run("candidate is rejected", func(t *testing.T) {
		if _, err := service.GetVerificationMetrics(ctx, nil, nil, "cand-1"); !IsPermissionError(err) {
			t.Errorf("GetVerificationMetrics() error = %v, want a permission error", err)
		}
	})
}

func TestAuditService_ExportSecurityReport(t *testing.T) {
	repo, service := newAuditFixture(t)
	ctx := context.Background()

	repo.addUser("proctor-1", models.RoleProctor)
	repo.addUser("cand-1", models.RoleCandidate)
	exam := repo.addExam(openExam(models.ExamActive, true, true))
	session := repo.addSession(exam.ID, "cand-1", models.SessionInProgress)

	faceScore := 0.93
	started := seedEvent(repo, models.EventExamStarted, "cand-1", uintPtr(session.ID))
	check := seedEvent(repo, models.EventFaceCheckSuccess, "cand-1", uintPtr(session.ID))
	repo.event.events[check.ID-1].FaceScore = &faceScore
	repo.event.events[check.ID-1].Message = "face check passed, score 0.93"

	t.Run("workbook carries summary and events", func(t *testing.T) {
		data, filename, err := service.ExportSecurityReport(ctx, exam.ID, "proctor-1")
		if err != nil {
			t.Fatalf("ExportSecurityReport() error = %v", err)
		}
		if len(data) == 0 {
			t.Fatal("Report bytes are empty")
		}

		wantPrefix := fmt.Sprintf("security_report_exam_%d_", exam.ID)
		if !strings.HasPrefix(filename, wantPrefix) || !strings.HasSuffix(filename, ".xlsx") {
			t.Errorf("Filename = %q, want %q prefix and .xlsx suffix", filename, wantPrefix)
		}

		workbook, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("OpenReader() error = %v", err)
		}
		defer workbook.Close()

		title, err := workbook.GetCellValue("Summary", "B2")
		if err != nil {
			t.Fatalf("GetCellValue() error = %v", err)
		}
		if title != exam.Title {
			t.Errorf("Summary B2 = %q, want %q", title, exam.Title)
		}

		header, _ := workbook.GetCellValue("Events", "A1")
		if header != "ID" {
			t.Errorf("Events A1 = %q, want ID", header)
		}
		firstType, _ := workbook.GetCellValue("Events", "C2")
		if firstType != string(started.EventType) {
			t.Errorf("Events C2 = %q, want %q (oldest first)", firstType, started.EventType)
		}
		message, _ := workbook.GetCellValue("Events", "I3")
		if message != "face check passed, score 0.93" {
			t.Errorf("Events I3 = %q", message)
		}
	})

	t.Run("candidate is rejected", func(t *testing.T) {
		if _, _, err := service.ExportSecurityReport(ctx, exam.ID, "cand-1"); !IsPermissionError(err) {
			t.Errorf("ExportSecurityReport() error = %v, want a permission error", err)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		if _, _, err := service.ExportSecurityReport(ctx, 999, "proctor-1"); !errors.Is(err, ErrExamNotFound) {
			t.Errorf("ExportSecurityReport() error = %v, want ErrExamNotFound", err)
		}
	})
}
