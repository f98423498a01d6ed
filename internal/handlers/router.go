package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

type HandlerManager struct {
	biometricHandler    *BiometricHandler
	surveillanceHandler *SurveillanceHandler
	examHandler         *ExamHandler
	adminHandler        *AdminHandler
	userHandler         *UserHandler
	authMiddleware      *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		biometricHandler:    NewBiometricHandler(serviceManager.Enrollment(), serviceManager.Verification(), validator, logger),
		surveillanceHandler: NewSurveillanceHandler(serviceManager.Proctoring(), validator, logger),
		examHandler:         NewExamHandler(serviceManager.Exam(), validator, logger),
		adminHandler:        NewAdminHandler(serviceManager.Audit(), validator, logger),
		userHandler:         NewUserHandler(userRepo, serviceManager.Enrollment(), logger),
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware()) // Apply authentication to all API routes
	{
		// Biometric enrollment and one-shot verification
		biometrics := v1.Group("/biometrics")
		{
			biometrics.POST("/enroll", hm.biometricHandler.Enroll)
			biometrics.POST("/verify", hm.biometricHandler.Verify)
			biometrics.GET("/enrollment/:user_id", hm.biometricHandler.GetEnrollment)

			// Template removal - Admins only
			biometrics.DELETE("/enrollment/:user_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.biometricHandler.DeleteEnrollment)
		}

		// Continuous surveillance during sessions. Ownership of the session is
		// enforced in the service layer.
		surveillance := v1.Group("/surveillance")
		{
			surveillance.POST("/face-check", hm.surveillanceHandler.FaceCheck)
			surveillance.POST("/presence-check", hm.surveillanceHandler.PresenceCheck)
			surveillance.POST("/voice-challenge", hm.surveillanceHandler.IssueChallenge)
			surveillance.POST("/voice-verify", hm.surveillanceHandler.VoiceVerify)
			surveillance.POST("/absence", hm.surveillanceHandler.ReportAbsence)
			surveillance.GET("/status/:session_id", hm.surveillanceHandler.Status)
		}

		// Exam routes
		exams := v1.Group("/exams")
		{
			// Create/modify exams - Admins only
			exams.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.examHandler.CreateExam)
			exams.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.examHandler.UpdateExam)
			exams.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.examHandler.DeleteExam)
			exams.POST("/:id/assign", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.examHandler.AssignCandidates)

			// View exams - All authenticated users
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)

			// Candidates start their own session
			exams.POST("/:id/start", hm.examHandler.StartSession)

			// Creator-specific routes - Admins only
			exams.GET("/creator/:creator_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.examHandler.GetExamsByCreator)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/me", hm.examHandler.GetMySessions)
			sessions.GET("/:id", hm.examHandler.GetSession)
			sessions.GET("/:id/timeline", hm.adminHandler.GetSessionTimeline)
			sessions.POST("/:id/submit", hm.examHandler.SubmitSession)

			// Proctor actions - Proctors and Admins only
			sessions.POST("/:id/suspend", hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor), hm.examHandler.SuspendSession)
			sessions.POST("/:id/resume", hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor), hm.examHandler.ResumeSession)
			sessions.POST("/:id/terminate", hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor), hm.examHandler.TerminateSession)
		}

		// User routes (for candidate assignment purposes)
		users := v1.Group("/users")
		{
			users.GET("", hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor), hm.userHandler.ListUsers)
			users.GET("/search", hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor), hm.userHandler.SearchUsers)
			users.GET("/:id", hm.userHandler.GetUser)
			users.GET("/:id/enrollment", hm.userHandler.GetUserEnrollment)
		}

		// Admin routes - Proctors and Admins only
		admin := v1.Group("/admin")
		admin.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleProctor))
		{
			admin.GET("/security-events", hm.adminHandler.ListSecurityEvents)
			admin.GET("/statistics/:exam_id", hm.adminHandler.GetExamStatistics)
			admin.GET("/metrics", hm.adminHandler.GetVerificationMetrics)
			admin.GET("/reports/security/:exam_id", hm.adminHandler.ExportSecurityReport)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "proctoring-service",
		})
	})
}
