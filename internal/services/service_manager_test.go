package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/config"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
)

func newManagerFixture(t *testing.T, biometric config.BiometricConfig) *serviceManager {
	t.Helper()

	manager := NewDefaultServiceManager(
		newStubDB(),
		newMockRepository(),
		newTestLogger(),
		validator.New(),
		cache.NewMemoryChallengeStore(time.Minute),
		events.NewMockEventPublisher(newTestLogger()),
		biometric,
	)
	return manager.(*serviceManager)
}

func TestServiceManager_Lifecycle(t *testing.T) {
	manager := newManagerFixture(t, testBiometricConfig())
	ctx := context.Background()

	if err := manager.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() before Initialize should fail")
	}
	if manager.IsInitialized() {
		t.Error("IsInitialized() = true before Initialize")
	}

	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Second Initialize() error = %v", err)
	}
	if !manager.IsInitialized() {
		t.Error("IsInitialized() = false after Initialize")
	}

	if manager.Enrollment() == nil {
		t.Error("Enrollment() returned nil")
	}
	if manager.Verification() == nil {
		t.Error("Verification() returned nil")
	}
	if manager.Proctoring() == nil {
		t.Error("Proctoring() returned nil")
	}
	if manager.Exam() == nil {
		t.Error("Exam() returned nil")
	}
	if manager.Audit() == nil {
		t.Error("Audit() returned nil")
	}

	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("Second Shutdown() error = %v", err)
	}
	if !manager.IsShutdown() {
		t.Error("IsShutdown() = false after Shutdown")
	}
	if err := manager.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Shutdown should fail")
	}
}

func TestServiceManager_InitializeRejectsEmptyPassphrase(t *testing.T) {
	biometric := testBiometricConfig()
	biometric.TemplatePassphrase = ""
	manager := newManagerFixture(t, biometric)

	if err := manager.Initialize(context.Background()); err == nil {
		t.Error("Initialize() with an empty template passphrase should fail")
	}
}

func TestServiceManager_Metrics(t *testing.T) {
	manager := newManagerFixture(t, testBiometricConfig())
	ctx := context.Background()

	if _, err := manager.GetServiceMetrics(ctx); err == nil {
		t.Error("GetServiceMetrics() before Initialize should fail")
	}

	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	metrics, err := manager.GetServiceMetrics(ctx)
	if err != nil {
		t.Fatalf("GetServiceMetrics() error = %v", err)
	}
	for _, key := range []string{
		"service_manager", "enrollment_service", "verification_service",
		"proctoring_service", "exam_service",
	} {
		if _, ok := metrics[key]; !ok {
			t.Errorf("Metrics missing %q", key)
		}
	}

	timeoutCtx, cancel := manager.WithTimeout(ctx)
	defer cancel()
	if _, ok := timeoutCtx.Deadline(); !ok {
		t.Error("WithTimeout() context has no deadline")
	}
}

func TestServiceManager_Factories(t *testing.T) {
	ctx := context.Background()

	production := CreateProductionServiceManager(
		newStubDB(), newMockRepository(), newTestLogger(), validator.New(),
		cache.NewMemoryChallengeStore(time.Minute),
		events.NewMockEventPublisher(newTestLogger()), testBiometricConfig(),
	).(*serviceManager)

	if err := production.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	prodConfig := production.GetConfig()
	if prodConfig.DefaultTimeout != 60*time.Second || !prodConfig.EnableMetrics {
		t.Errorf("Production config = %+v", prodConfig)
	}
	if len(prodConfig.RateLimitingRules) == 0 {
		t.Error("Production config should carry rate limiting rules")
	}
	if err := prodConfig.Validate(); err != nil {
		t.Errorf("Production config Validate() error = %v", err)
	}

	development := CreateDevelopmentServiceManager(
		newStubDB(), newMockRepository(), newTestLogger(), validator.New(),
		cache.NewMemoryChallengeStore(time.Minute),
		events.NewMockEventPublisher(newTestLogger()), testBiometricConfig(),
	).(*serviceManager)

	devConfig := development.GetConfig()
	if !devConfig.EnableDebugLogging || devConfig.LogLevel != slog.LevelDebug {
		t.Errorf("Development config = %+v", devConfig)
	}
	if err := devConfig.Validate(); err != nil {
		t.Errorf("Development config Validate() error = %v", err)
	}
}

func TestServiceManagerConfig_Validate(t *testing.T) {
	valid := func() ServiceManagerConfig {
		return ServiceManagerConfig{
			DefaultTimeout: 30 * time.Second,
			MaxRetries:     3,
			Biometric:      testBiometricConfig(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ServiceManagerConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*ServiceManagerConfig) {}},
		{name: "zero timeout", mutate: func(c *ServiceManagerConfig) { c.DefaultTimeout = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *ServiceManagerConfig) { c.MaxRetries = -1 }, wantErr: true},
		{name: "negative cache ttl", mutate: func(c *ServiceManagerConfig) { c.Exam.CacheTTL = -time.Second }, wantErr: true},
		{name: "invalid validation level", mutate: func(c *ServiceManagerConfig) { c.Proctoring.ValidationLevel = 99 }, wantErr: true},
		{name: "zero face threshold", mutate: func(c *ServiceManagerConfig) { c.Biometric.FaceMatchThreshold = 0 }, wantErr: true},
		{name: "zero failure budget", mutate: func(c *ServiceManagerConfig) { c.Biometric.MaxFaceFailures = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
