package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

func newEnrollmentFixture(t *testing.T) (*MockRepository, *events.MockEventPublisher, EnrollmentService) {
	t.Helper()

	repo := newMockRepository()
	publisher := events.NewMockEventPublisher(newTestLogger())
	service := &enrollmentService{
		repo:      repo,
		db:        newStubDB(),
		logger:    newTestLogger(),
		validator: validator.New(),
		cipher:    newTestCipher(t),
		publisher: publisher,
	}
	return repo, publisher, service
}

func TestEnrollmentService_Enroll_SelfBothModalities(t *testing.T) {
	repo, publisher, service := newEnrollmentFixture(t)
	repo.addUser("cand-1", models.RoleCandidate)

	faceQuality, voiceQuality := 0.92, 0.88
	result, err := service.Enroll(context.Background(), &EnrollBiometricsRequest{
		UserID:        "cand-1",
		FaceTemplate:  genuineFace,
		FaceQuality:   &faceQuality,
		VoiceTemplate: genuineVoice,
		VoiceQuality:  &voiceQuality,
	}, "cand-1")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	if !result.FaceEnrolled || !result.VoiceEnrolled {
		t.Errorf("Enrolled flags = %v/%v, want true/true", result.FaceEnrolled, result.VoiceEnrolled)
	}
	if result.FaceQuality == nil || *result.FaceQuality != faceQuality {
		t.Errorf("FaceQuality = %v, want %v", result.FaceQuality, faceQuality)
	}
	if result.EnrolledAt.IsZero() {
		t.Error("EnrolledAt should be set")
	}

	// Stored templates are encrypted but round-trip back to the originals
	profile, ok := repo.biometric.profiles["cand-1"]
	if !ok {
		t.Fatal("Profile was not stored")
	}
	decrypted, err := newTestCipher(t).DecryptVector(profile.FaceTemplate)
	if err != nil {
		t.Fatalf("DecryptVector() error = %v", err)
	}
	if len(decrypted) != len(genuineFace) {
		t.Fatalf("Decrypted length = %d, want %d", len(decrypted), len(genuineFace))
	}
	for i := range decrypted {
		if math.Abs(decrypted[i]-genuineFace[i]) > 1e-12 {
			t.Fatalf("Decrypted[%d] = %v, want %v", i, decrypted[i], genuineFace[i])
		}
	}

	rows := repo.event.ofType(models.EventEnrollmentSuccess)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 ENROLLMENT_SUCCESS row, got %d", len(rows))
	}
	if rows[0].Message != "biometric enrollment updated ([face voice])" {
		t.Errorf("Audit message = %q", rows[0].Message)
	}
	if len(rows[0].Details) == 0 {
		t.Error("Audit row should record modalities and actor")
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.EventEnrollmentCompleted {
		t.Fatalf("Published = %+v, want one enrollment_completed event", published)
	}
	payload, ok := published[0].Data.(events.EnrollmentPayload)
	if !ok {
		t.Fatalf("Event payload is %T, want EnrollmentPayload", published[0].Data)
	}
	if len(payload.Modalities) != 2 {
		t.Errorf("Payload modalities = %v, want both", payload.Modalities)
	}
}

func TestEnrollmentService_Enroll_MergePreservesOtherModality(t *testing.T) {
	repo, _, service := newEnrollmentFixture(t)
	repo.addUser("cand-1", models.RoleCandidate)
	ctx := context.Background()

	first, err := service.Enroll(ctx, &EnrollBiometricsRequest{
		UserID:       "cand-1",
		FaceTemplate: genuineFace,
	}, "cand-1")
	if err != nil {
		t.Fatalf("Enroll(face) error = %v", err)
	}

	second, err := service.Enroll(ctx, &EnrollBiometricsRequest{
		UserID:        "cand-1",
		VoiceTemplate: genuineVoice,
	}, "cand-1")
	if err != nil {
		t.Fatalf("Enroll(voice) error = %v", err)
	}

	if !second.FaceEnrolled || !second.VoiceEnrolled {
		t.Errorf("Enrolled flags after merge = %v/%v, want true/true", second.FaceEnrolled, second.VoiceEnrolled)
	}
	if !second.EnrolledAt.Equal(first.EnrolledAt) {
		t.Errorf("EnrolledAt changed on re-enrollment: %v vs %v", second.EnrolledAt, first.EnrolledAt)
	}

	// The voice-only update must not clobber the face template
	profile := repo.biometric.profiles["cand-1"]
	decrypted, err := newTestCipher(t).DecryptVector(profile.FaceTemplate)
	if err != nil {
		t.Fatalf("DecryptVector() error = %v", err)
	}
	if math.Abs(decrypted[0]-genuineFace[0]) > 1e-12 {
		t.Errorf("Face template was overwritten by the voice enrollment")
	}
}

func TestEnrollmentService_Enroll_PermissionDenied(t *testing.T) {
	repo, publisher, service := newEnrollmentFixture(t)
	repo.addUser("cand-1", models.RoleCandidate)
	repo.addUser("cand-2", models.RoleCandidate)

	_, err := service.Enroll(context.Background(), &EnrollBiometricsRequest{
		UserID:       "cand-1",
		FaceTemplate: genuineFace,
	}, "cand-2")
	if !IsPermissionError(err) {
		t.Fatalf("Enroll() error = %v, want a permission error", err)
	}
	if len(repo.biometric.profiles) != 0 {
		t.Error("No profile should be stored on a denied enrollment")
	}
	if got := len(publisher.GetPublishedEvents()); got != 0 {
		t.Errorf("Published events = %d, want 0", got)
	}
}

func TestEnrollmentService_Enroll_AdminOnBehalf(t *testing.T) {
	repo, _, service := newEnrollmentFixture(t)
	repo.addUser("admin-1", models.RoleAdmin)
	repo.addUser("cand-1", models.RoleCandidate)

	result, err := service.Enroll(context.Background(), &EnrollBiometricsRequest{
		UserID:       "cand-1",
		FaceTemplate: genuineFace,
	}, "admin-1")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if result.UserID != "cand-1" || !result.FaceEnrolled {
		t.Errorf("Result = %+v, want face enrolled for cand-1", result)
	}
}

func TestEnrollmentService_Enroll_UnknownUser(t *testing.T) {
	_, _, service := newEnrollmentFixture(t)

	// Self-enrollment passes the permission check, the identity provider
	// lookup is what rejects the unknown id
	_, err := service.Enroll(context.Background(), &EnrollBiometricsRequest{
		UserID:       "ghost",
		FaceTemplate: genuineFace,
	}, "ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Enroll() error = %v, want ErrUserNotFound", err)
	}
}

func TestEnrollmentService_Enroll_Validation(t *testing.T) {
	_, _, service := newEnrollmentFixture(t)
	badQuality := 1.5
	orphanQuality := 0.9

	tests := []struct {
		name string
		req  *EnrollBiometricsRequest
	}{
		{name: "no templates", req: &EnrollBiometricsRequest{UserID: "cand-1"}},
		{name: "quality without template", req: &EnrollBiometricsRequest{UserID: "cand-1", FaceQuality: &orphanQuality}},
		{name: "quality out of range", req: &EnrollBiometricsRequest{UserID: "cand-1", FaceTemplate: genuineFace, FaceQuality: &badQuality}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Enroll(context.Background(), tt.req, "cand-1")
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("Enroll() error = %v, want ValidationErrors", err)
			}
		})
	}
}

func TestEnrollmentService_GetEnrollmentStatus(t *testing.T) {
	repo, _, service := newEnrollmentFixture(t)
	ctx := context.Background()

	t.Run("not enrolled is a valid answer", func(t *testing.T) {
		status, err := service.GetEnrollmentStatus(ctx, "cand-new")
		if err != nil {
			t.Fatalf("GetEnrollmentStatus() error = %v", err)
		}
		if status.IsEnrolled || status.UserID != "cand-new" {
			t.Errorf("Status = %+v, want empty status for cand-new", status)
		}
		if status.EnrolledAt != nil {
			t.Errorf("EnrolledAt = %v, want nil", status.EnrolledAt)
		}
	})

	t.Run("face only profile", func(t *testing.T) {
		seedProfile(t, repo, newTestCipher(t), "cand-face", genuineFace, nil)

		status, err := service.GetEnrollmentStatus(ctx, "cand-face")
		if err != nil {
			t.Fatalf("GetEnrollmentStatus() error = %v", err)
		}
		if !status.IsEnrolled || !status.FaceEnrolled || status.VoiceEnrolled {
			t.Errorf("Status = %+v, want face-only enrollment", status)
		}
		if status.FaceQuality == nil {
			t.Error("FaceQuality should be reported")
		}
		if status.EnrolledAt == nil {
			t.Error("EnrolledAt should be reported")
		}
	})
}

func TestEnrollmentService_IsEnrolled(t *testing.T) {
	repo, _, service := newEnrollmentFixture(t)
	ctx := context.Background()

	enrolled, err := service.IsEnrolled(ctx, "cand-1")
	if err != nil {
		t.Fatalf("IsEnrolled() error = %v", err)
	}
	if enrolled {
		t.Error("IsEnrolled() = true before enrollment")
	}

	seedProfile(t, repo, newTestCipher(t), "cand-1", genuineFace, nil)

	enrolled, err = service.IsEnrolled(ctx, "cand-1")
	if err != nil {
		t.Fatalf("IsEnrolled() error = %v", err)
	}
	if !enrolled {
		t.Error("IsEnrolled() = false after enrollment")
	}
}

func TestEnrollmentService_DeleteEnrollment(t *testing.T) {
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		repo, _, service := newEnrollmentFixture(t)
		repo.addUser("proctor-1", models.RoleProctor)
		seedProfile(t, repo, newTestCipher(t), "cand-1", genuineFace, nil)

		err := service.DeleteEnrollment(ctx, "cand-1", "proctor-1")
		if !IsPermissionError(err) {
			t.Errorf("DeleteEnrollment() error = %v, want a permission error", err)
		}
	})

	t.Run("nothing to delete", func(t *testing.T) {
		repo, _, service := newEnrollmentFixture(t)
		repo.addUser("admin-1", models.RoleAdmin)

		err := service.DeleteEnrollment(ctx, "cand-1", "admin-1")
		if !errors.Is(err, ErrNotEnrolled) {
			t.Errorf("DeleteEnrollment() error = %v, want ErrNotEnrolled", err)
		}
	})

	t.Run("admin deletes and the removal is audited", func(t *testing.T) {
		repo, _, service := newEnrollmentFixture(t)
		repo.addUser("admin-1", models.RoleAdmin)
		seedProfile(t, repo, newTestCipher(t), "cand-1", genuineFace, genuineVoice)

		if err := service.DeleteEnrollment(ctx, "cand-1", "admin-1"); err != nil {
			t.Fatalf("DeleteEnrollment() error = %v", err)
		}

		exists, _ := repo.biometric.ExistsByUserID(ctx, nil, "cand-1")
		if exists {
			t.Error("Profile still present after deletion")
		}
		rows := repo.event.ofType(models.EventEnrollmentDeleted)
		if len(rows) != 1 {
			t.Fatalf("Expected 1 ENROLLMENT_DELETED row, got %d", len(rows))
		}
		if rows[0].Message != "biometric enrollment deleted by admin-1" {
			t.Errorf("Audit message = %q", rows[0].Message)
		}
	})
}
