package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bugloop/bugloop/internal/config"
	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/tracker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory database and migrates the
// schema. Each test gets its own database, named after the test.
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

func testSyncConfig() *config.SyncConfig {
	cfg := config.DefaultConfig().Sync
	return &cfg
}

func createTestIntegration(t *testing.T, db *gorm.DB, mutate func(*models.Integration)) *models.Integration {
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
	// GORM skips zero-valued fields that carry a column default
	// (IsActive has default:true) and writes the default back into the
	// struct, so a cleared flag must be captured before Create and
	// persisted explicitly after.
	wantActive := integration.IsActive
	if err := db.Create(integration).Error; err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}
	if !wantActive {
		if err := db.Model(integration).Update("is_active", false).Error; err != nil {
			t.Fatalf("failed to deactivate integration: %v", err)
		}
		integration.IsActive = false
	}
	return integration
}

func createTestReport(t *testing.T, db *gorm.DB, mutate func(*models.Report)) *models.Report {
	t.Helper()
	report := &models.Report{
		ProjectID:   1,
		Title:       "crash on save",
		Description: "the app crashes when saving",
		Reporter:    "alice",
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

// fakeTrackerClient is a scriptable tracker.Client recording calls.
type fakeTrackerClient struct {
	mu sync.Mutex

	createErr  error
	updateErr  error
	hookErr    error
	nextNumber int

	creates     int
	updates     int
	lastUpdated int
	hookID      int64
	hooksMade   []string // callback URLs
	hookDeletes []int64
}

func (f *fakeTrackerClient) CreateIssue(ctx context.Context, req *tracker.IssueRequest) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	if f.nextNumber == 0 {
		f.nextNumber = 101
	}
	n := f.nextNumber
	f.nextNumber++
	return &tracker.Issue{Number: n, URL: fmt.Sprintf("https://github.test/acme/widgets/issues/%d", n), State: "open"}, nil
}

func (f *fakeTrackerClient) UpdateIssue(ctx context.Context, number int, req *tracker.IssueRequest) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates++
	f.lastUpdated = number
	return &tracker.Issue{Number: number, URL: fmt.Sprintf("https://github.test/acme/widgets/issues/%d", number), State: "open"}, nil
}

func (f *fakeTrackerClient) CreateHook(ctx context.Context, callbackURL, secret string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hookErr != nil {
		return 0, f.hookErr
	}
	if f.hookID == 0 {
		f.hookID = 9001
	}
	f.hooksMade = append(f.hooksMade, callbackURL)
	return f.hookID, nil
}

func (f *fakeTrackerClient) DeleteHook(ctx context.Context, hookID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hookDeletes = append(f.hookDeletes, hookID)
	return nil
}

func fakeFactory(client *fakeTrackerClient) tracker.Factory {
	return func(owner, repo, accessToken string) tracker.Client {
		return client
	}
}
