package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bugloop/bugloop/internal/config"
	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncService owns the forward queue: idempotent enqueue, bulk
// catch-up, retry resets and the synchronous forward path. The mutex
// around the check-and-insert is the only mutual-exclusion boundary the
// engine needs; everything else coordinates through entry state.
type SyncService struct {
	db           *gorm.DB
	cfg          *config.SyncConfig
	store        QueueStore
	integrations *IntegrationService
	forwarder    *Forwarder

	mu sync.Mutex // guards the per-report check-and-insert
}

func NewSyncService(db *gorm.DB, cfg *config.SyncConfig, store QueueStore, trackers tracker.Factory) *SyncService {
	return &SyncService{
		db:           db,
		cfg:          cfg,
		store:        store,
		integrations: NewIntegrationService(db),
		forwarder:    NewForwarder(db, trackers),
	}
}

// Store exposes the queue store for the worker and the projection.
func (s *SyncService) Store() QueueStore { return s.store }

// Forwarder exposes the forwarder for the worker.
func (s *SyncService) Forwarder() *Forwarder { return s.forwarder }

// Enqueue adds a forward entry for (report, integration). Idempotent
// per report: when a non-terminal entry already exists it is returned
// unchanged, so racing triggers (manual button, automatic new-report
// hook, bulk catch-up) collapse into one unit of work.
func (s *SyncService) Enqueue(reportID, integrationID uint, batchID string) (*models.SyncQueueEntry, bool, error) {
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return nil, false, err
	}
	if _, err := s.integrations.GetByID(integrationID); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ActiveByReport(reportID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	entry, err := s.insertLocked(&report, integrationID, batchID, models.EntryStatePending)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// insertLocked creates the entry and flips the report to pending.
// Caller holds s.mu and has verified no active entry exists.
func (s *SyncService) insertLocked(report *models.Report, integrationID uint, batchID, state string) (*models.SyncQueueEntry, error) {
	action := models.ActionCreate
	if report.Synced() {
		action = models.ActionUpdate
	}

	now := time.Now()
	entry := &models.SyncQueueEntry{
		ReportID:      report.ID,
		IntegrationID: integrationID,
		Action:        action,
		BatchID:       batchID,
		State:         state,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
	if err := s.store.Insert(entry); err != nil {
		return nil, err
	}

	err := s.db.Model(&models.Report{}).Where("id = ?", report.ID).
		Updates(map[string]interface{}{
			"sync_status": models.SyncStatusPending,
			"sync_error":  "",
		}).Error
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SyncExisting enqueues a bulk catch-up. reportIDs lists explicit
// reports; when all is true every project report still at sync status
// none is taken instead. Returns the queued count immediately; callers
// poll the projection for progress.
func (s *SyncService) SyncExisting(integrationID uint, reportIDs []uint, all bool) (int, string, error) {
	integration, err := s.integrations.GetByID(integrationID)
	if err != nil {
		return 0, "", err
	}

	if all {
		err := s.db.Model(&models.Report{}).
			Where("project_id = ? AND sync_status = ?", integration.ProjectID, models.SyncStatusNone).
			Order("id ASC").
			Pluck("id", &reportIDs).Error
		if err != nil {
			return 0, "", err
		}
	}

	batchID := uuid.NewString()
	queued := 0
	for _, reportID := range reportIDs {
		_, created, err := s.Enqueue(reportID, integrationID, batchID)
		if err != nil {
			logger.Warnf("[Sync] Skipping report %d in bulk sync: %v", reportID, err)
			continue
		}
		// Reports with an entry already in flight coalesce into it and
		// add no new work.
		if created {
			queued++
		}
	}
	return queued, batchID, nil
}

// CancelBatch stops the rest of a bulk batch. Best-effort: entries
// already claimed by the worker run to completion, only pending ones
// are cancelled. Reports without an external reference drop back to
// sync status none.
func (s *SyncService) CancelBatch(batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.PendingByBatch(batchID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	cancelled := 0
	for i := range entries {
		entry := &entries[i]
		entry.State = models.EntryStateCancelled
		entry.FinishedAt = &now
		if err := s.store.Update(entry); err != nil {
			return cancelled, err
		}
		cancelled++

		var report models.Report
		if err := s.db.First(&report, entry.ReportID).Error; err != nil {
			continue
		}
		restored := models.SyncStatusNone
		if report.Synced() {
			restored = models.SyncStatusSynced
		}
		s.db.Model(&models.Report{}).Where("id = ?", report.ID).
			Update("sync_status", restored)
	}
	return cancelled, nil
}

// RetrySync re-enqueues a failed report with a fresh attempt counter.
// Failed entries are never resurrected automatically; this is the
// explicit human path back into the queue.
func (s *SyncService) RetrySync(reportID uint) (*models.SyncQueueEntry, error) {
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return nil, err
	}
	if report.SyncStatus != models.SyncStatusError {
		return nil, errors.New("report has no failed sync to retry")
	}

	var last models.SyncQueueEntry
	err := s.db.Where("report_id = ? AND state = ?", reportID, models.EntryStateFailed).
		Order("id DESC").First(&last).Error
	if err != nil {
		return nil, err
	}

	entry, _, err := s.Enqueue(reportID, last.IntegrationID, "")
	return entry, err
}

// NotifyReportCreated is the automatic-mode trigger: the report
// workflow calls it after creating a report. Each active automatic
// integration of the project goes through the same idempotent
// enqueue, so with several of them only the first actually creates an
// entry; the per-report limit of one active entry holds here too.
// Returns the number of entries created.
func (s *SyncService) NotifyReportCreated(reportID uint) (int, error) {
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return 0, err
	}

	integrations, err := s.integrations.ListAutomaticByProject(report.ProjectID)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, integration := range integrations {
		_, created, err := s.Enqueue(reportID, integration.ID, "")
		if err != nil {
			logger.Warnf("[Sync] Auto-enqueue of report %d for integration %d failed: %v", reportID, integration.ID, err)
			continue
		}
		if created {
			queued++
		}
	}
	return queued, nil
}

// ForwardNow is the synchronous single-report path. It claims a
// processing entry under the same lock as Enqueue, so the
// at-most-one-in-flight-per-report guarantee holds against concurrent
// queue triggers. Failures surface to the caller immediately.
func (s *SyncService) ForwardNow(ctx context.Context, reportID, integrationID uint, opts *ForwardOptions) (*tracker.Issue, error) {
	var report models.Report
	if err := s.db.First(&report, reportID).Error; err != nil {
		return nil, err
	}
	if _, err := s.integrations.GetByID(integrationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing, err := s.store.ActiveByReport(reportID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if existing != nil {
		s.mu.Unlock()
		return nil, ErrSyncInFlight
	}
	entry, err := s.insertLocked(&report, integrationID, "", models.EntryStateProcessing)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	issue, err := s.forwarder.Forward(ctx, entry, opts)
	now := time.Now()
	if err != nil {
		entry.State = models.EntryStateFailed
		entry.AttemptCount++
		entry.LastError = err.Error()
		entry.FinishedAt = &now
		if storeErr := s.store.Update(entry); storeErr != nil {
			logger.Errorf("[Sync] Failed to record entry failure: %v", storeErr)
		}
		s.db.Model(&models.Report{}).Where("id = ?", reportID).
			Updates(map[string]interface{}{
				"sync_status": models.SyncStatusError,
				"sync_error":  err.Error(),
			})
		return nil, err
	}

	entry.State = models.EntryStateDone
	entry.AttemptCount++
	entry.FinishedAt = &now
	if storeErr := s.store.Update(entry); storeErr != nil {
		logger.Errorf("[Sync] Failed to record entry completion: %v", storeErr)
	}
	return issue, nil
}
