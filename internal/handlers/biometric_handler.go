package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type BiometricHandler struct {
	BaseHandler
	enrollmentService   services.EnrollmentService
	verificationService services.VerificationService
	validator           *validator.Validator
}

func NewBiometricHandler(
	enrollmentService services.EnrollmentService,
	verificationService services.VerificationService,
	validator *validator.Validator,
	logger utils.Logger,
) *BiometricHandler {
	return &BiometricHandler{
		BaseHandler:         NewBaseHandler(logger),
		enrollmentService:   enrollmentService,
		verificationService: verificationService,
		validator:           validator,
	}
}

// Enroll stores biometric templates for a user
// @Summary Enroll biometric templates
// @Description Encrypts and stores face and/or voice templates for a user. Candidates enroll themselves; admins may enroll on behalf of a candidate.
// @Tags biometrics
// @Accept json
// @Produce json
// @Param enrollment body services.EnrollBiometricsRequest true "Templates to enroll"
// @Success 201 {object} services.EnrollmentResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /biometrics/enroll [post]
func (h *BiometricHandler) Enroll(c *gin.Context) {
	var req services.EnrollBiometricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Enrolling biometric templates", "target_user_id", req.UserID)

	result, err := h.enrollmentService.Enroll(c.Request.Context(), &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// Verify runs one-shot multimodal identity verification
// @Summary Verify identity
// @Description Compares supplied face/voice probes against the user's enrolled templates and returns the fused decision
// @Tags biometrics
// @Accept json
// @Produce json
// @Param verification body services.VerifyIdentityRequest true "Probes to verify"
// @Success 200 {object} services.VerificationResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /biometrics/verify [post]
func (h *BiometricHandler) Verify(c *gin.Context) {
	var req services.VerifyIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Verifying identity", "user_id", req.UserID)

	result, err := h.verificationService.Verify(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetEnrollment reports a user's enrollment status
// @Summary Get enrollment status
// @Description Reports which modalities a user has enrolled. Candidates may read their own status; proctors and admins may read anyone's.
// @Tags biometrics
// @Accept json
// @Produce json
// @Param user_id path string true "User ID"
// @Success 200 {object} services.EnrollmentStatus
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /biometrics/enrollment/{user_id} [get]
func (h *BiometricHandler) GetEnrollment(c *gin.Context) {
	targetID := ParseStringIDParam(c, "user_id")
	if targetID == "" {
		return
	}

	if !h.canReadEnrollment(c, targetID) {
		return
	}

	h.LogRequest(c, "Getting enrollment status", "target_user_id", targetID)

	status, err := h.enrollmentService.GetEnrollmentStatus(c.Request.Context(), targetID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// DeleteEnrollment removes a user's biometric profile
// @Summary Delete enrollment
// @Description Irreversibly deletes a user's stored biometric templates (admin only)
// @Tags biometrics
// @Accept json
// @Produce json
// @Param user_id path string true "User ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /biometrics/enrollment/{user_id} [delete]
func (h *BiometricHandler) DeleteEnrollment(c *gin.Context) {
	targetID := ParseStringIDParam(c, "user_id")
	if targetID == "" {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Deleting enrollment", "target_user_id", targetID)

	if err := h.enrollmentService.DeleteEnrollment(c.Request.Context(), targetID, userID.(string)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// canReadEnrollment allows self-reads and proctor/admin reads, writing the
// error response itself when access is denied
func (h *BiometricHandler) canReadEnrollment(c *gin.Context, targetID string) bool {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return false
	}
	if userID.(string) == targetID {
		return true
	}

	role, err := GetUserRoleFromContext(c)
	if err != nil || (role != models.RoleProctor && role != models.RoleAdmin) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Cannot read another user's enrollment",
		})
		return false
	}
	return true
}
