package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation failures that itself
// satisfies the error interface so services can return it directly
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(e))
	for _, ve := range e {
		messages = append(messages, ve.Error())
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// Validator wraps go-playground validation with the service's custom rules
type Validator struct {
	validate          *validator.Validate
	businessValidator *BusinessValidator
}

// New creates a validator with all custom rules registered. The business
// validator shares the same underlying instance so struct tags and business
// rules see identical rule sets.
func New() *Validator {
	bv := NewBusinessValidator()
	return &Validator{
		validate:          bv.validate,
		businessValidator: bv,
	}
}

// Validate validates struct tags on any request struct
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// GetBusinessValidator returns the business rule validator
func (v *Validator) GetBusinessValidator() *BusinessValidator {
	return v.businessValidator
}

// ToValidationErrors converts go-playground validation errors to the
// service's error type
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return ValidationErrors{{
			Field:   "request",
			Message: err.Error(),
			Rule:    "invalid",
		}}
	}

	result := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		result = append(result, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: messageForTag(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return result
}

// messageForTag builds a human-readable message for common rules
func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be after %s", strings.ToLower(fe.Param()))
	case "quality_score":
		return "must be a quality score between 0 and 1"
	case "feature_vector":
		return "must be a non-empty feature vector"
	case "exam_duration":
		return "must be between 5 and 480 minutes"
	case "exam_title":
		return "must be between 1 and 200 characters"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
