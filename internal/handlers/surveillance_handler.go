package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type SurveillanceHandler struct {
	BaseHandler
	proctoringService services.ProctoringService
	validator         *validator.Validator
}

func NewSurveillanceHandler(
	proctoringService services.ProctoringService,
	validator *validator.Validator,
	logger utils.Logger,
) *SurveillanceHandler {
	return &SurveillanceHandler{
		BaseHandler:       NewBaseHandler(logger),
		proctoringService: proctoringService,
		validator:         validator,
	}
}

// FaceCheck runs a continuous face identity check for a session
// @Summary Continuous face check
// @Description Matches a face probe against the candidate's enrolled template, updating the session's failure counters. Three consecutive failures disqualify the session.
// @Tags surveillance
// @Accept json
// @Produce json
// @Param check body services.FaceCheckRequest true "Face probe"
// @Success 200 {object} services.CheckResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveillance/face-check [post]
func (h *SurveillanceHandler) FaceCheck(c *gin.Context) {
	var req services.FaceCheckRequest
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

	result, err := h.proctoringService.CheckFaceIdentity(c.Request.Context(), req.SessionID, userID.(string), &req.Probe)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PresenceCheck runs a cheap face presence check
// @Summary Face presence check
// @Description Reports whether a face is present in the probe. No identity matching, no counters, nothing is persisted.
// @Tags surveillance
// @Accept json
// @Produce json
// @Param check body services.PresenceCheckRequest true "Face probe"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /surveillance/presence-check [post]
func (h *SurveillanceHandler) PresenceCheck(c *gin.Context) {
	var req services.PresenceCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	present := h.proctoringService.CheckFacePresence(&req.Probe)

	c.JSON(http.StatusOK, gin.H{"present": present})
}

// IssueChallenge issues a time-bound voice challenge
// @Summary Issue voice challenge
// @Description Generates a random phrase the candidate must speak within the challenge TTL. Each challenge is single use.
// @Tags surveillance
// @Accept json
// @Produce json
// @Param challenge body validator.ChallengeRequest false "Optional session binding"
// @Success 201 {object} services.ChallengeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveillance/voice-challenge [post]
func (h *SurveillanceHandler) IssueChallenge(c *gin.Context) {
	// The body is optional, a bare POST issues an unbound challenge
	var req validator.ChallengeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Issuing voice challenge")

	challenge, err := h.proctoringService.IssueChallenge(c.Request.Context(), userID.(string), req.SessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, challenge)
}

// VoiceVerify redeems a challenge and runs the voice identity check
// @Summary Verify voice challenge
// @Description Redeems an outstanding challenge and matches the voice probe against the candidate's enrolled template, updating voice failure counters
// @Tags surveillance
// @Accept json
// @Produce json
// @Param verification body services.VoiceVerifyRequest true "Challenge redemption and voice probe"
// @Success 200 {object} services.CheckResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveillance/voice-verify [post]
func (h *SurveillanceHandler) VoiceVerify(c *gin.Context) {
	var req services.VoiceVerifyRequest
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

	result, err := h.proctoringService.VerifyVoiceChallenge(c.Request.Context(), &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReportAbsence records a candidate absence anomaly
// @Summary Report absence
// @Description Records that the candidate left the camera frame. Absences raise the anomaly count but never disqualify on their own.
// @Tags surveillance
// @Accept json
// @Produce json
// @Param absence body services.AbsenceReportRequest true "Absence report"
// @Success 200 {object} services.AbsenceAck
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveillance/absence [post]
func (h *SurveillanceHandler) ReportAbsence(c *gin.Context) {
	var req services.AbsenceReportRequest
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

	h.LogRequest(c, "Reporting absence", "session_id", req.SessionID)

	ack, err := h.proctoringService.ReportAbsence(c.Request.Context(), req.SessionID, userID.(string), req.DurationSeconds)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}

// Status reports the surveillance state of a session
// @Summary Get surveillance status
// @Description Returns check counters, failure budgets and pacing hints for a running session. Session owners, proctors and admins may read it.
// @Tags surveillance
// @Accept json
// @Produce json
// @Param session_id path int true "Session ID"
// @Success 200 {object} services.SurveillanceStatus
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /surveillance/status/{session_id} [get]
func (h *SurveillanceHandler) Status(c *gin.Context) {
	sessionID := h.parseIDParam(c, "session_id")
	if sessionID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	status, err := h.proctoringService.Status(c.Request.Context(), sessionID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ===== HELPER METHODS =====

func (h *SurveillanceHandler) parseIDParam(c *gin.Context, param string) uint {
	idStr := c.Param(param)
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: err.Error(),
		})
		return 0
	}
	return uint(id)
}
