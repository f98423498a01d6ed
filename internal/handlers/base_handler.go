package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

// ErrorResponse is the uniform error body of the API
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps responses that carry a message alongside (or
// instead of) data
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the logger and the error translation shared by all
// handlers
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs an incoming request with its request id attached
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...interface{}) {
	if requestID := c.GetString("request_id"); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	h.logger.Info(msg, args...)
}

// LogError logs a handler failure with its request id attached
func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...interface{}) {
	args = append(args, "error", err)
	if requestID := c.GetString("request_id"); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	h.logger.Error(msg, args...)
}

// RespondWithError writes an error body, logging server-side failures
func (h *BaseHandler) RespondWithError(c *gin.Context, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "status", status, "error", err)
	}
	c.JSON(status, resp)
}

// handleServiceError translates service-layer errors into HTTP responses.
// Unrecognized errors become opaque 500s so internals never leak to clients.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	var validationError *services.ValidationError
	var permissionError *services.PermissionError

	switch {
	case errors.Is(err, services.ErrExamNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrNotEnrolled):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})

	case errors.Is(err, services.ErrSessionNotOwned):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: err.Error(),
		})

	case errors.Is(err, services.ErrSessionCannotStart),
		errors.Is(err, services.ErrSessionNotActive),
		errors.Is(err, services.ErrSessionDisqualified):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: err.Error(),
		})

	case errors.Is(err, cache.ErrChallengeInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid or expired challenge",
		})

	case errors.Is(err, biometrics.ErrNoBiometricData):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: err.Error(),
		})

	case errors.As(err, &validationErrors):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})

	case errors.As(err, &validationError):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationError,
		})

	case errors.As(err, &permissionError):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: permissionError.Error(),
		})

	default:
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}

// ParseStringIDParam extracts a non-empty string path parameter, writing a
// 400 response when it is missing
func ParseStringIDParam(c *gin.Context, param string) string {
	value := strings.TrimSpace(c.Param(param))
	if value == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
		})
		return ""
	}
	return value
}
