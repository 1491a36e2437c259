package services

import (
	"errors"
	"time"

	"github.com/bugloop/bugloop/internal/models"
	"gorm.io/gorm"
)

// QueueStore abstracts the durable queue so tests can substitute a
// deterministic implementation. The production store is a GORM table;
// the SyncService layers the report bookkeeping and the enqueue
// mutual-exclusion on top.
type QueueStore interface {
	// ActiveByReport returns the single non-terminal entry for a
	// report, or nil when none exists.
	ActiveByReport(reportID uint) (*models.SyncQueueEntry, error)
	Insert(entry *models.SyncQueueEntry) error
	Update(entry *models.SyncQueueEntry) error
	// DueIntegrations lists integrations holding pending entries whose
	// next attempt time has passed.
	DueIntegrations(now time.Time) ([]uint, error)
	// NextDue returns the oldest due pending entry for an integration,
	// or nil when the integration's queue is drained.
	NextDue(integrationID uint, now time.Time) (*models.SyncQueueEntry, error)
	// CountActive counts non-terminal entries for an integration.
	CountActive(integrationID uint) (int64, error)
	// RecoverOrphaned returns entries stuck in processing to pending
	// so they can be claimed again. Only safe before any claimant is
	// live, i.e. at worker startup.
	RecoverOrphaned(now time.Time) (int64, error)
	// PendingByBatch returns the still-pending entries of a bulk batch.
	PendingByBatch(batchID string) ([]models.SyncQueueEntry, error)
}

type gormQueueStore struct {
	db *gorm.DB
}

// NewQueueStore returns the GORM-backed queue store.
func NewQueueStore(db *gorm.DB) QueueStore {
	return &gormQueueStore{db: db}
}

var activeStates = []string{models.EntryStatePending, models.EntryStateProcessing}

func (s *gormQueueStore) ActiveByReport(reportID uint) (*models.SyncQueueEntry, error) {
	var entry models.SyncQueueEntry
	err := s.db.Where("report_id = ? AND state IN ?", reportID, activeStates).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *gormQueueStore) Insert(entry *models.SyncQueueEntry) error {
	return s.db.Create(entry).Error
}

func (s *gormQueueStore) Update(entry *models.SyncQueueEntry) error {
	return s.db.Save(entry).Error
}

func (s *gormQueueStore) DueIntegrations(now time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.SyncQueueEntry{}).
		Where("state = ? AND next_attempt_at <= ?", models.EntryStatePending, now).
		Distinct("integration_id").
		Pluck("integration_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *gormQueueStore) NextDue(integrationID uint, now time.Time) (*models.SyncQueueEntry, error) {
	var entry models.SyncQueueEntry
	err := s.db.Where("integration_id = ? AND state = ? AND next_attempt_at <= ?",
		integrationID, models.EntryStatePending, now).
		Order("enqueued_at ASC, id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *gormQueueStore) CountActive(integrationID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.SyncQueueEntry{}).
		Where("integration_id = ? AND state IN ?", integrationID, activeStates).
		Count(&count).Error
	return count, err
}

func (s *gormQueueStore) RecoverOrphaned(now time.Time) (int64, error) {
	res := s.db.Model(&models.SyncQueueEntry{}).
		Where("state = ?", models.EntryStateProcessing).
		Updates(map[string]interface{}{
			"state":           models.EntryStatePending,
			"next_attempt_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *gormQueueStore) PendingByBatch(batchID string) ([]models.SyncQueueEntry, error) {
	var entries []models.SyncQueueEntry
	err := s.db.Where("batch_id = ? AND state = ?", batchID, models.EntryStatePending).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
