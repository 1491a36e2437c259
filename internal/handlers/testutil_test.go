package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/bugloop/bugloop/internal/config"
	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/services"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Integration{},
		&models.Report{},
		&models.SyncQueueEntry{},
		&models.WebhookEvent{},
		&models.SystemConfig{},
		&models.SystemLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// stubClient is a scriptable tracker.Client for handler tests.
type stubClient struct {
	createErr error
	hookErr   error
}

func (s *stubClient) CreateIssue(ctx context.Context, req *tracker.IssueRequest) (*tracker.Issue, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &tracker.Issue{Number: 42, URL: "https://github.test/acme/widgets/issues/42", State: "open"}, nil
}

func (s *stubClient) UpdateIssue(ctx context.Context, number int, req *tracker.IssueRequest) (*tracker.Issue, error) {
	return &tracker.Issue{Number: number, URL: fmt.Sprintf("https://github.test/acme/widgets/issues/%d", number), State: "open"}, nil
}

func (s *stubClient) CreateHook(ctx context.Context, callbackURL, secret string) (int64, error) {
	if s.hookErr != nil {
		return 0, s.hookErr
	}
	return 9001, nil
}

func (s *stubClient) DeleteHook(ctx context.Context, hookID int64) error { return nil }

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	client *stubClient
}

// setupRouter wires the sync endpoints the way the server does,
// backed by a stub tracker.
func setupRouter(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	services.InitSystemLogger(db)

	client := &stubClient{}
	factory := func(owner, repo, accessToken string) tracker.Client { return client }

	syncCfg := config.DefaultConfig().Sync
	store := services.NewQueueStore(db)
	syncService := services.NewSyncService(db, &syncCfg, store, factory)
	syncModeService := services.NewSyncModeService(db, factory)
	projection := services.NewProjectionService(db, store, nil)

	syncHandler := NewSyncHandler(syncService, syncModeService, projection)
	webhookHandler := NewWebhookHandler(services.NewReconciler(db))
	sysConfigHandler := NewSystemConfigHandler(services.NewSystemConfigService(db))

	r := gin.New()
	api := r.Group("/api")
	api.POST("/integrations/:id/sync-mode", syncHandler.SetSyncMode)
	api.GET("/integrations/:id/sync-status", syncHandler.GetSyncStatus)
	api.POST("/integrations/:id/sync-existing", syncHandler.SyncExisting)
	api.POST("/integrations/:id/sync-existing/:batch_id/cancel", syncHandler.CancelBatch)
	api.POST("/reports/:id/forward/:integration_id", syncHandler.Forward)
	api.POST("/reports/:id/retry-sync", syncHandler.RetrySync)
	api.GET("/reports/:id/sync-status", syncHandler.GetReportSyncStatus)
	api.GET("/system-configs/public-base-url", sysConfigHandler.GetPublicBaseURL)
	api.PUT("/system-configs/public-base-url", sysConfigHandler.SetPublicBaseURL)
	api.POST("/webhook/tracker/github", webhookHandler.HandleGitHub)

	return &testEnv{db: db, router: r, client: client}
}

func createIntegration(t *testing.T, db *gorm.DB, mutate func(*models.Integration)) *models.Integration {
	t.Helper()
	integration := &models.Integration{
		ProjectID:   1,
		TrackerType: "github",
		Owner:       "acme",
		Repo:        "widgets",
		AccessToken: "ghp_test",
		IsActive:    true,
		SyncMode:    models.SyncModeManual,
	}
	if mutate != nil {
		mutate(integration)
	}
	if err := db.Create(integration).Error; err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}
	return integration
}

func createReport(t *testing.T, db *gorm.DB, mutate func(*models.Report)) *models.Report {
	t.Helper()
	report := &models.Report{
		ProjectID:   1,
		Title:       "crash on save",
		Description: "the app crashes when saving",
		Status:      models.ReportStatusOpen,
		SyncStatus:  models.SyncStatusNone,
	}
	if mutate != nil {
		mutate(report)
	}
	if err := db.Create(report).Error; err != nil {
		t.Fatalf("failed to create report: %v", err)
	}
	return report
}
