package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AdminHandler struct {
	BaseHandler
	auditService services.AuditService
	validator    *validator.Validator
}

func NewAdminHandler(
	auditService services.AuditService,
	validator *validator.Validator,
	logger utils.Logger,
) *AdminHandler {
	return &AdminHandler{
		BaseHandler:  NewBaseHandler(logger),
		auditService: auditService,
		validator:    validator,
	}
}

// ListSecurityEvents lists audit events with filters
// @Summary List security events
// @Description Lists append-only audit events with optional type, user, session, exam and date filters (proctor or admin)
// @Tags admin
// @Accept json
// @Produce json
// @Param event_type query string false "Event type filter"
// @Param user_id query string false "User filter"
// @Param session_id query int false "Session filter"
// @Param exam_id query int false "Exam filter"
// @Param failures_only query bool false "Only failed checks"
// @Param from query string false "Start of window (RFC3339 format)"
// @Param to query string false "End of window (RFC3339 format)"
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} services.SecurityEventListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/security-events [get]
func (h *AdminHandler) ListSecurityEvents(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Listing security events")

	filters := h.parseEventFilters(c)
	events, err := h.auditService.ListSecurityEvents(c.Request.Context(), filters, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetSessionTimeline returns a session's audit timeline
// @Summary Get session timeline
// @Description Returns every audit event of one session in chronological order. Session owners, proctors and admins may read it.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "Session ID"
// @Success 200 {object} []models.SecurityEvent
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/timeline [get]
func (h *AdminHandler) GetSessionTimeline(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
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

	timeline, err := h.auditService.GetSessionTimeline(c.Request.Context(), sessionID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, timeline)
}

// GetExamStatistics returns aggregate statistics for an exam
// @Summary Get exam statistics
// @Description Returns session and audit event aggregates for one exam (proctor or admin)
// @Tags admin
// @Accept json
// @Produce json
// @Param exam_id path int true "Exam ID"
// @Success 200 {object} services.ExamStatistics
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/statistics/{exam_id} [get]
func (h *AdminHandler) GetExamStatistics(c *gin.Context) {
	examID := h.parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Getting exam statistics", "exam_id", examID)

	stats, err := h.auditService.GetExamStatistics(c.Request.Context(), examID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetVerificationMetrics returns service-wide verification metrics
// @Summary Get verification metrics
// @Description Returns rejection rates per modality and cheating/absence totals over an optional window (proctor or admin)
// @Tags admin
// @Accept json
// @Produce json
// @Param from query string false "Start of window (RFC3339 format)"
// @Param to query string false "End of window (RFC3339 format)"
// @Success 200 {object} services.VerificationMetrics
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/metrics [get]
func (h *AdminHandler) GetVerificationMetrics(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Getting verification metrics")

	from := h.parseTimeQuery(c, "from")
	to := h.parseTimeQuery(c, "to")

	metrics, err := h.auditService.GetVerificationMetrics(c.Request.Context(), from, to, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// ExportSecurityReport downloads an exam's security report workbook
// @Summary Export security report
// @Description Builds and downloads an xlsx security report for one exam (proctor or admin)
// @Tags admin
// @Accept json
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param exam_id path int true "Exam ID"
// @Success 200 {file} file
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/reports/security/{exam_id} [get]
func (h *AdminHandler) ExportSecurityReport(c *gin.Context) {
	examID := h.parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Exporting security report", "exam_id", examID)

	data, filename, err := h.auditService.ExportSecurityReport(c.Request.Context(), examID, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ===== HELPER METHODS =====

func (h *AdminHandler) parseIDParam(c *gin.Context, param string) uint {
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

func (h *AdminHandler) parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	valueStr := c.Query(param)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// parseTimeQuery returns nil for absent or malformed values
func (h *AdminHandler) parseTimeQuery(c *gin.Context, param string) *time.Time {
	valueStr := c.Query(param)
	if valueStr == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, valueStr)
	if err != nil {
		return nil
	}
	return &parsed
}

func (h *AdminHandler) parseEventFilters(c *gin.Context) repositories.SecurityEventFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)

	filters := repositories.SecurityEventFilters{
		Limit:     size,
		Offset:    (page - 1) * size,
		SortOrder: c.DefaultQuery("sort_order", "desc"),
		DateFrom:  h.parseTimeQuery(c, "from"),
		DateTo:    h.parseTimeQuery(c, "to"),
	}

	if eventType := c.Query("event_type"); eventType != "" {
		et := models.SecurityEventType(eventType)
		filters.EventType = &et
	}

	if userIDStr := c.Query("user_id"); userIDStr != "" {
		filters.UserID = &userIDStr
	}

	if sessionIDStr := c.Query("session_id"); sessionIDStr != "" {
		if id, err := strconv.ParseUint(sessionIDStr, 10, 32); err == nil {
			sid := uint(id)
			filters.SessionID = &sid
		}
	}

	if examIDStr := c.Query("exam_id"); examIDStr != "" {
		if id, err := strconv.ParseUint(examIDStr, 10, 32); err == nil {
			eid := uint(id)
			filters.ExamID = &eid
		}
	}

	if failuresOnly := c.Query("failures_only"); failuresOnly == "true" {
		filters.FailuresOnly = true
	}

	return filters
}
