package validator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateExamCreate validates exam creation business rules
func (bv *BusinessValidator) ValidateExamCreate(req *ExamCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Additional business validations
	errors = append(errors, bv.validateExamWindowRules(req.StartTime, req.EndTime, req.Duration)...)

	return errors
}

// ValidateExamUpdate validates exam update business rules
func (bv *BusinessValidator) ValidateExamUpdate(req *ExamUpdateRequest, existing *models.Exam) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Merge requested changes over the stored window before re-checking it
	start := existing.StartTime
	end := existing.EndTime
	duration := existing.Duration
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	if req.Duration != nil {
		duration = *req.Duration
	}
	errors = append(errors, bv.validateExamWindowRules(start, end, duration)...)

	// Window changes are frozen once candidates are being monitored
	if existing.Status == models.ExamActive {
		if req.StartTime != nil && !req.StartTime.Equal(existing.StartTime) {
			errors = append(errors, ValidationError{
				Field:   "start_time",
				Message: "cannot be changed for an active exam",
				Value:   *req.StartTime,
				Rule:    "business_logic",
			})
		}
	}

	if req.Status != nil && *req.Status != existing.Status {
		errors = append(errors, bv.validateExamStatusTransition(existing.Status, *req.Status)...)
	}

	return errors
}

// validateExamStatusTransition enforces the exam lifecycle: scheduled exams
// activate or archive, active exams complete or archive, completed exams
// archive. The lifecycle never moves backwards.
func (bv *BusinessValidator) validateExamStatusTransition(current, next models.ExamStatus) ValidationErrors {
	allowed := map[models.ExamStatus][]models.ExamStatus{
		models.ExamScheduled: {models.ExamActive, models.ExamArchived},
		models.ExamActive:    {models.ExamCompleted, models.ExamArchived},
		models.ExamCompleted: {models.ExamArchived},
		models.ExamArchived:  {},
	}

	for _, s := range allowed[current] {
		if s == next {
			return nil
		}
	}

	return ValidationErrors{{
		Field:   "status",
		Message: fmt.Sprintf("cannot transition from %s to %s", current, next),
		Value:   next,
		Rule:    "business_logic",
	}}
}

// ValidateEnrollment validates biometric enrollment business rules
func (bv *BusinessValidator) ValidateEnrollment(req *EnrollBiometricsRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// At least one modality must be supplied
	if len(req.FaceTemplate) == 0 && len(req.VoiceTemplate) == 0 {
		errors = append(errors, ValidationError{
			Field:   "templates",
			Message: "at least one of face_template or voice_template is required",
			Rule:    "business_logic",
		})
	}

	// A quality score without its template is meaningless
	if req.FaceQuality != nil && len(req.FaceTemplate) == 0 {
		errors = append(errors, ValidationError{
			Field:   "face_quality",
			Message: "provided without a face template",
			Value:   *req.FaceQuality,
			Rule:    "business_logic",
		})
	}
	if req.VoiceQuality != nil && len(req.VoiceTemplate) == 0 {
		errors = append(errors, ValidationError{
			Field:   "voice_quality",
			Message: "provided without a voice template",
			Value:   *req.VoiceQuality,
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateVerification validates one-shot verification business rules
func (bv *BusinessValidator) ValidateVerification(req *VerifyIdentityRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// At least one probe must be supplied
	if req.FaceProbe == nil && req.VoiceProbe == nil {
		errors = append(errors, ValidationError{
			Field:   "probes",
			Message: "at least one of face_probe or voice_probe is required",
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateStatusTransition validates session status transitions
func (bv *BusinessValidator) ValidateStatusTransition(currentStatus, newStatus models.SessionStatus) ValidationErrors {
	var errors ValidationErrors

	// Define allowed transitions. Disqualification is reached only through
	// the surveillance escalation path, never by a direct status update.
	allowedTransitions := map[models.SessionStatus][]models.SessionStatus{
		models.SessionPending:      {models.SessionInProgress, models.SessionTerminated},
		models.SessionInProgress:   {models.SessionCompleted, models.SessionSuspended, models.SessionTerminated},
		models.SessionSuspended:    {models.SessionInProgress, models.SessionTerminated},
		models.SessionCompleted:    {}, // No transitions from terminal states
		models.SessionTerminated:   {},
		models.SessionDisqualified: {},
	}

	allowed := false
	for _, allowedStatus := range allowedTransitions[currentStatus] {
		if newStatus == allowedStatus {
			allowed = true
			break
		}
	}

	if !allowed {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", currentStatus, newStatus),
			Value:   newStatus,
			Rule:    "status_transition",
		})
	}

	return errors
}

// ValidateSessionStart validates session start conditions
func (bv *BusinessValidator) ValidateSessionStart(examStatus models.ExamStatus, startTime, endTime time.Time, enrolled bool) ValidationErrors {
	var errors ValidationErrors

	// Exam must be active
	if examStatus != models.ExamActive {
		errors = append(errors, ValidationError{
			Field:   "exam_status",
			Message: "exam is not active",
			Value:   examStatus,
			Rule:    "business_logic",
		})
	}

	// Check exam window
	now := time.Now()
	if now.Before(startTime) {
		errors = append(errors, ValidationError{
			Field:   "start_time",
			Message: "exam window has not opened yet",
			Value:   startTime,
			Rule:    "business_logic",
		})
	}
	if !now.Before(endTime) {
		errors = append(errors, ValidationError{
			Field:   "end_time",
			Message: "exam window has closed",
			Value:   endTime,
			Rule:    "business_logic",
		})
	}

	// Candidate must have biometric templates on file before being monitored
	if !enrolled {
		errors = append(errors, ValidationError{
			Field:   "enrollment",
			Message: "candidate has no enrolled biometric templates",
			Rule:    "business_logic",
		})
	}

	return errors
}

// registerBusinessRules registers custom business rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// Quality score validation (0-1)
	bv.validate.RegisterValidation("quality_score", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return true // Optional field
			}
			field = field.Elem()
		}
		score := field.Float()
		return score >= 0 && score <= 1
	})

	// Feature vector validation (non-empty slice)
	bv.validate.RegisterValidation("feature_vector", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		return field.Kind() == reflect.Slice && field.Len() > 0
	})

	// Exam duration validation (5-480 minutes per candidate)
	bv.validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return true
			}
			field = field.Elem()
		}
		duration := field.Int()
		return duration >= 5 && duration <= 480
	})

	// Title validation (1-200 characters)
	bv.validate.RegisterValidation("exam_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	// Description validation (max 1000 characters)
	bv.validate.RegisterValidation("exam_description", func(fl validator.FieldLevel) bool {
		desc := fl.Field().String()
		return len(desc) <= 1000
	})
}

// validateExamWindowRules checks that the per-candidate duration fits the window
func (bv *BusinessValidator) validateExamWindowRules(start, end time.Time, duration int) ValidationErrors {
	var errors ValidationErrors

	if !end.After(start) {
		errors = append(errors, ValidationError{
			Field:   "end_time",
			Message: "must be after start_time",
			Value:   end,
			Rule:    "business_logic",
		})
		return errors
	}

	window := end.Sub(start)
	if time.Duration(duration)*time.Minute > window {
		errors = append(errors, ValidationError{
			Field:   "duration",
			Message: "candidate duration does not fit inside the exam window",
			Value:   duration,
			Rule:    "business_logic",
		})
	}

	return errors
}
