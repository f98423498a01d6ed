package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/proctoring-service/internal/biometrics"
	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/encryption"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// Logging configuration
	EnableDebugLogging bool
	EnableMetrics      bool
	LogLevel           slog.Level

	// Service-specific configurations
	Enrollment   ServiceConfig
	Verification ServiceConfig
	Proctoring   ServiceConfig
	Exam         ServiceConfig

	// Biometric pipeline tunables shared by the matching services
	Biometric config.BiometricConfig

	// Global settings
	DefaultTimeout    time.Duration
	MaxRetries        int
	CircuitBreaker    bool
	RateLimitingRules map[string]RateLimit
}

type ServiceConfig struct {
	Enabled         bool
	CacheEnabled    bool
	CacheTTL        time.Duration
	ValidationLevel ValidationLevel
	AuditingEnabled bool
	MetricsEnabled  bool
}

type ValidationLevel int

const (
	ValidationBasic ValidationLevel = iota
	ValidationStrict
	ValidationFull
)

type RateLimit struct {
	RequestsPerMinute int
	BurstSize         int
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	challengeStore cache.ChallengeStore
	publisher      events.EventPublisher
	config         ServiceManagerConfig

	// Service instances
	enrollmentService   EnrollmentService
	verificationService VerificationService
	proctoringService   ProctoringService
	examService         ExamService
	auditService        AuditService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, challengeStore cache.ChallengeStore, publisher events.EventPublisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		challengeStore: challengeStore,
		publisher:      publisher,
		config:         config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, challengeStore cache.ChallengeStore, publisher events.EventPublisher, biometric config.BiometricConfig) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Enrollment: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        5 * time.Minute,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Verification: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Proctoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false, // Real-time data
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},

		Biometric: biometric,

		DefaultTimeout:    30 * time.Second,
		MaxRetries:        3,
		CircuitBreaker:    true,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, challengeStore, publisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	// Initialize individual services
	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Validate all services are healthy
	if err := sm.validateServicesHealth(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	// The template cipher refuses an empty passphrase, so a misconfigured
	// deployment fails here instead of at the first enrollment
	cipher, err := encryption.NewTemplateCipher(sm.config.Biometric.TemplatePassphrase, sm.config.Biometric.KDFIterations)
	if err != nil {
		return fmt.Errorf("failed to initialize template cipher: %w", err)
	}

	faceMatcher := biometrics.NewFaceMatcher(sm.config.Biometric.FaceMatchThreshold)
	voiceMatcher := biometrics.NewVoiceMatcher(sm.config.Biometric.VoiceMatchThreshold, sm.config.Biometric.VoiceContinuousThreshold)
	fusionPolicy := biometrics.NewFusionPolicy(biometrics.FusionConfig{
		FaceWeight:          sm.config.Biometric.FaceWeight,
		VoiceWeight:         sm.config.Biometric.VoiceWeight,
		MultimodalThreshold: sm.config.Biometric.MultimodalThreshold,
		MinFaceScore:        sm.config.Biometric.MinFaceScore,
		MinVoiceScore:       sm.config.Biometric.MinVoiceScore,
	})

	// Initialize EnrollmentService
	if sm.config.Enrollment.Enabled {
		sm.enrollmentService = NewEnrollmentService(sm.repo, sm.db, sm.logger, sm.validator, cipher, sm.publisher)
		sm.logger.Info("Enrollment service initialized")
	}

	// Initialize VerificationService
	if sm.config.Verification.Enabled {
		sm.verificationService = NewVerificationService(sm.repo, sm.db, sm.logger, sm.validator, cipher, faceMatcher, voiceMatcher, fusionPolicy, sm.publisher)
		sm.logger.Info("Verification service initialized")
	}

	// Initialize ProctoringService
	if sm.config.Proctoring.Enabled {
		sm.proctoringService = NewProctoringService(sm.repo, sm.db, sm.logger, sm.validator, cipher, faceMatcher, voiceMatcher, sm.challengeStore, sm.publisher, sm.config.Biometric)
		sm.logger.Info("Proctoring service initialized")
	}

	// Initialize ExamService
	if sm.config.Exam.Enabled {
		sm.examService = NewExamService(sm.repo, sm.db, sm.logger, sm.validator, sm.publisher, sm.config.Biometric)
		sm.logger.Info("Exam service initialized")
	}

	// Initialize AuditService
	sm.auditService = NewAuditService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.logger.Info("Audit service initialized")

	return nil
}

func (sm *serviceManager) validateServicesHealth(ctx context.Context) error {
	// The repository is the only hard dependency every service shares
	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

// Service getters
func (sm *serviceManager) Enrollment() EnrollmentService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Enrollment.Enabled && sm.enrollmentService != nil {
		return sm.enrollmentService
	}

	panic("enrollment service not enabled or not initialized")
}

func (sm *serviceManager) Verification() VerificationService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Verification.Enabled && sm.verificationService != nil {
		return sm.verificationService
	}

	panic("verification service not enabled or not initialized")
}

func (sm *serviceManager) Proctoring() ProctoringService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Proctoring.Enabled && sm.proctoringService != nil {
		return sm.proctoringService
	}

	panic("proctoring service not enabled or not initialized")
}

func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Exam.Enabled && sm.examService != nil {
		return sm.examService
	}

	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) Audit() AuditService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.auditService != nil {
		return sm.auditService
	}

	panic("audit service not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	// Check repository health
	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	// Flush pending events before the connections go away
	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if err := sm.repo.Close(); err != nil {
		sm.logger.Error("Failed to close repository connections", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// ===== UTILITY METHODS =====

// GetConfig returns the service manager configuration
func (sm *serviceManager) GetConfig() ServiceManagerConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.config
}

// IsInitialized returns whether the service manager has been initialized
func (sm *serviceManager) IsInitialized() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.initialized
}

// IsShutdown returns whether the service manager has been shut down
func (sm *serviceManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.shutdown
}

// ===== METRICS AND MONITORING =====

// GetServiceMetrics returns metrics for all services
func (sm *serviceManager) GetServiceMetrics(ctx context.Context) (map[string]interface{}, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return nil, fmt.Errorf("service manager not initialized")
	}

	metrics := map[string]interface{}{
		"service_manager": map[string]interface{}{
			"initialized": sm.initialized,
			"shutdown":    sm.shutdown,
		},
	}

	// Add service-specific metrics
	if sm.config.Enrollment.MetricsEnabled {
		metrics["enrollment_service"] = map[string]interface{}{
			"enabled": sm.config.Enrollment.Enabled,
			"status":  "healthy",
		}
	}

	if sm.config.Verification.MetricsEnabled {
		metrics["verification_service"] = map[string]interface{}{
			"enabled": sm.config.Verification.Enabled,
			"status":  "healthy",
		}
	}

	if sm.config.Proctoring.MetricsEnabled {
		metrics["proctoring_service"] = map[string]interface{}{
			"enabled": sm.config.Proctoring.Enabled,
			"status":  "healthy",
		}
	}

	if sm.config.Exam.MetricsEnabled {
		metrics["exam_service"] = map[string]interface{}{
			"enabled": sm.config.Exam.Enabled,
			"status":  "healthy",
		}
	}

	return metrics, nil
}

// ===== HELPER FUNCTIONS =====

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}

// WithDeadline creates a context with a specific deadline
func (sm *serviceManager) WithDeadline(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, deadline)
}

// ===== CONFIGURATION VALIDATION =====

// ValidateConfig validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	// Validate timeouts
	if config.DefaultTimeout <= 0 {
		errors = append(errors, "default timeout must be positive")
	}

	if config.MaxRetries < 0 {
		errors = append(errors, "max retries cannot be negative")
	}

	// Validate service configurations
	if err := config.Enrollment.validate("enrollment"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Verification.validate("verification"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Proctoring.validate("proctoring"); err != nil {
		errors = append(errors, err.Error())
	}

	if err := config.Exam.validate("exam"); err != nil {
		errors = append(errors, err.Error())
	}

	// The matching services cannot run with zero-value thresholds
	if config.Biometric.FaceMatchThreshold <= 0 {
		errors = append(errors, "face match threshold must be positive")
	}
	if config.Biometric.MaxFaceFailures <= 0 || config.Biometric.MaxVoiceFailures <= 0 {
		errors = append(errors, "failure budgets must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func (sc *ServiceConfig) validate(serviceName string) error {
	var errors []string

	if sc.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("%s: cache TTL cannot be negative", serviceName))
	}

	if sc.ValidationLevel < ValidationBasic || sc.ValidationLevel > ValidationFull {
		errors = append(errors, fmt.Sprintf("%s: invalid validation level", serviceName))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", errors[0])
	}

	return nil
}

// ===== FACTORY FUNCTIONS =====

// CreateProductionServiceManager creates a service manager configured for production
func CreateProductionServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, challengeStore cache.ChallengeStore, publisher events.EventPublisher, biometric config.BiometricConfig) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		EnableMetrics:      true,
		LogLevel:           slog.LevelInfo,

		Enrollment: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Verification: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Proctoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false, // Real-time data
			CacheTTL:        0,
			ValidationLevel: ValidationStrict,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},
		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    true,
			CacheTTL:        10 * time.Minute,
			ValidationLevel: ValidationFull,
			AuditingEnabled: true,
			MetricsEnabled:  true,
		},

		Biometric: biometric,

		DefaultTimeout: 60 * time.Second,
		MaxRetries:     3,
		CircuitBreaker: true,
		RateLimitingRules: map[string]RateLimit{
			"verify_identity": {RequestsPerMinute: 60, BurstSize: 10},
			"face_check":      {RequestsPerMinute: 300, BurstSize: 30},
			"challenge_issue": {RequestsPerMinute: 60, BurstSize: 10},
			"enroll":          {RequestsPerMinute: 30, BurstSize: 5},
			"session_start":   {RequestsPerMinute: 100, BurstSize: 20},
		},
	}

	return NewServiceManager(db, repo, logger, validator, challengeStore, publisher, config)
}

// CreateDevelopmentServiceManager creates a service manager configured for development
func CreateDevelopmentServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, challengeStore cache.ChallengeStore, publisher events.EventPublisher, biometric config.BiometricConfig) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: true,
		EnableMetrics:      false,
		LogLevel:           slog.LevelDebug,

		Enrollment: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Verification: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Proctoring: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},
		Exam: ServiceConfig{
			Enabled:         true,
			CacheEnabled:    false,
			CacheTTL:        0,
			ValidationLevel: ValidationBasic,
			AuditingEnabled: false,
			MetricsEnabled:  false,
		},

		Biometric: biometric,

		DefaultTimeout:    10 * time.Second,
		MaxRetries:        1,
		CircuitBreaker:    false,
		RateLimitingRules: make(map[string]RateLimit),
	}

	return NewServiceManager(db, repo, logger, validator, challengeStore, publisher, config)
}
