package services

import (
	"testing"
	"time"

	"github.com/bugloop/bugloop/internal/models"
)

type stubProbe struct {
	processing map[uint]bool
}

func (p *stubProbe) Processing(integrationID uint) bool {
	return p.processing[integrationID]
}

func TestGetSyncStatus(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	svc := NewSyncService(db, testSyncConfig(), store, fakeFactory(&fakeTrackerClient{}))

	integration := createTestIntegration(t, db, func(i *models.Integration) {
		i.SyncMode = models.SyncModeAutomatic
	})

	queued := createTestReport(t, db, nil)
	createTestReport(t, db, nil) // unsynced, not queued
	if _, _, err := svc.Enqueue(queued.ID, integration.ID, ""); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	probe := &stubProbe{processing: map[uint]bool{integration.ID: true}}
	projection := NewProjectionService(db, store, probe)

	status, err := projection.GetSyncStatus(integration.ID)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if status.SyncMode != models.SyncModeAutomatic {
		t.Errorf("sync mode = %q, expected %q", status.SyncMode, models.SyncModeAutomatic)
	}
	if status.UnsyncedCount != 1 {
		t.Errorf("unsynced count = %d, expected 1 (the queued report is pending, not none)", status.UnsyncedCount)
	}
	if status.QueueLength != 1 {
		t.Errorf("queue length = %d, expected 1", status.QueueLength)
	}
	if !status.Processing {
		t.Error("processing should reflect the probe")
	}
}

func TestGetSyncStatus_UnknownIntegration(t *testing.T) {
	db := setupTestDB(t)
	projection := NewProjectionService(db, NewQueueStore(db), nil)

	if _, err := projection.GetSyncStatus(9999); err == nil {
		t.Error("unknown integration should fail")
	}
}

func TestGetReportSyncStatus(t *testing.T) {
	db := setupTestDB(t)
	projection := NewProjectionService(db, NewQueueStore(db), nil)

	synced := time.Now().Add(-time.Hour)
	report := createTestReport(t, db, func(r *models.Report) {
		r.Status = models.ReportStatusResolved
		r.SyncStatus = models.SyncStatusSynced
		r.IssueNumber = 42
		r.IssueURL = "https://github.test/acme/widgets/issues/42"
		r.LastSyncedAt = &synced
	})

	status, err := projection.GetReportSyncStatus(report.ID)
	if err != nil {
		t.Fatalf("GetReportSyncStatus failed: %v", err)
	}
	if status.Status != models.ReportStatusResolved {
		t.Errorf("status = %q, expected %q", status.Status, models.ReportStatusResolved)
	}
	if status.SyncStatus != models.SyncStatusSynced {
		t.Errorf("sync status = %q, expected %q", status.SyncStatus, models.SyncStatusSynced)
	}
	if status.IssueNumber != 42 {
		t.Errorf("issue number = %d, expected 42", status.IssueNumber)
	}
	if status.LastSyncedAt == nil {
		t.Error("last synced timestamp should be present")
	}
}
