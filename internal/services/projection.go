package services

import (
	"time"

	"github.com/bugloop/bugloop/internal/models"
	"gorm.io/gorm"
)

// ActivityProbe reports whether a worker holds an active entry for an
// integration. Satisfied by *Worker; stubbed in tests.
type ActivityProbe interface {
	Processing(integrationID uint) bool
}

// ProjectionService offers read-only views of sync state. Pure
// computation from Report and SyncQueueEntry rows; nothing here
// mutates.
type ProjectionService struct {
	db           *gorm.DB
	store        QueueStore
	integrations *IntegrationService
	probe        ActivityProbe
}

func NewProjectionService(db *gorm.DB, store QueueStore, probe ActivityProbe) *ProjectionService {
	return &ProjectionService{
		db:           db,
		store:        store,
		integrations: NewIntegrationService(db),
		probe:        probe,
	}
}

type IntegrationSyncStatus struct {
	SyncMode      string `json:"sync_mode"`
	UnsyncedCount int64  `json:"unsynced_count"`
	QueueLength   int64  `json:"queue_length"`
	Processing    bool   `json:"processing"`
}

type ReportSyncStatus struct {
	Status       string     `json:"status"`
	SyncStatus   string     `json:"sync_status"`
	IssueNumber  int        `json:"issue_number,omitempty"`
	IssueURL     string     `json:"issue_url,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// GetSyncStatus summarizes one integration's sync state.
func (s *ProjectionService) GetSyncStatus(integrationID uint) (*IntegrationSyncStatus, error) {
	integration, err := s.integrations.GetByID(integrationID)
	if err != nil {
		return nil, err
	}

	unsynced, err := s.integrations.CountUnsynced(integration)
	if err != nil {
		return nil, err
	}

	queueLength, err := s.store.CountActive(integrationID)
	if err != nil {
		return nil, err
	}

	processing := false
	if s.probe != nil {
		processing = s.probe.Processing(integrationID)
	}

	return &IntegrationSyncStatus{
		SyncMode:      integration.SyncMode,
		UnsyncedCount: unsynced,
		QueueLength:   queueLength,
		Processing:    processing,
	}, nil
}

// GetReportSyncStatus summarizes one report's sync state.
func (s *ProjectionService) GetReportSyncStatus(reportID uint) (*ReportSyncStatus, error) {
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return nil, err
	}

	return &ReportSyncStatus{
		Status:       report.Status,
		SyncStatus:   report.SyncStatus,
		IssueNumber:  report.IssueNumber,
		IssueURL:     report.IssueURL,
		SyncError:    report.SyncError,
		LastSyncedAt: report.LastSyncedAt,
	}, nil
}
