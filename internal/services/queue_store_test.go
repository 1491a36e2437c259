package services

import (
	"testing"
	"time"

	"github.com/bugloop/bugloop/internal/models"
)

func seedEntry(t *testing.T, store QueueStore, reportID, integrationID uint, state string, nextAttempt time.Time) *models.SyncQueueEntry {
	t.Helper()
	entry := &models.SyncQueueEntry{
		ReportID:      reportID,
		IntegrationID: integrationID,
		Action:        models.ActionCreate,
		State:         state,
		NextAttemptAt: nextAttempt,
		EnqueuedAt:    nextAttempt,
	}
	if err := store.Insert(entry); err != nil {
		t.Fatalf("failed to insert entry: %v", err)
	}
	return entry
}

func TestQueueStore_ActiveByReport(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	if entry, err := store.ActiveByReport(1); err != nil || entry != nil {
		t.Errorf("ActiveByReport on empty store = (%v, %v), expected (nil, nil)", entry, err)
	}

	seedEntry(t, store, 1, 1, models.EntryStateDone, now)
	seedEntry(t, store, 1, 1, models.EntryStateFailed, now)
	if entry, _ := store.ActiveByReport(1); entry != nil {
		t.Error("terminal entries must not count as active")
	}

	active := seedEntry(t, store, 1, 1, models.EntryStatePending, now)
	got, err := store.ActiveByReport(1)
	if err != nil {
		t.Fatalf("ActiveByReport failed: %v", err)
	}
	if got == nil || got.ID != active.ID {
		t.Errorf("ActiveByReport = %+v, expected entry %d", got, active.ID)
	}
}

func TestQueueStore_DueIntegrations(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	seedEntry(t, store, 1, 10, models.EntryStatePending, now.Add(-time.Minute))
	seedEntry(t, store, 2, 10, models.EntryStatePending, now.Add(-time.Minute)) // same integration
	seedEntry(t, store, 3, 20, models.EntryStatePending, now.Add(time.Hour))    // not due yet
	seedEntry(t, store, 4, 30, models.EntryStateProcessing, now.Add(-time.Minute))

	ids, err := store.DueIntegrations(now)
	if err != nil {
		t.Fatalf("DueIntegrations failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 10 {
		t.Errorf("due integrations = %v, expected [10]", ids)
	}
}

func TestQueueStore_NextDueOrdering(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	seedEntry(t, store, 1, 10, models.EntryStatePending, now.Add(-time.Minute))
	older := seedEntry(t, store, 2, 10, models.EntryStatePending, now.Add(-2*time.Minute))

	got, err := store.NextDue(10, now)
	if err != nil {
		t.Fatalf("NextDue failed: %v", err)
	}
	if got == nil || got.ID != older.ID {
		t.Errorf("NextDue = %+v, expected the oldest enqueued entry %d", got, older.ID)
	}

	if entry, _ := store.NextDue(99, now); entry != nil {
		t.Error("NextDue for an idle integration should be nil")
	}
}

func TestQueueStore_CountActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	seedEntry(t, store, 1, 10, models.EntryStatePending, now)
	seedEntry(t, store, 2, 10, models.EntryStateProcessing, now)
	seedEntry(t, store, 3, 10, models.EntryStateDone, now)
	seedEntry(t, store, 4, 10, models.EntryStateCancelled, now)

	count, err := store.CountActive(10)
	if err != nil {
		t.Fatalf("CountActive failed: %v", err)
	}
	if count != 2 {
		t.Errorf("active count = %d, expected 2", count)
	}
}

func TestQueueStore_PendingByBatch(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	inBatch := seedEntry(t, store, 1, 10, models.EntryStatePending, now)
	inBatch.BatchID = "batch-1"
	if err := store.Update(inBatch); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	claimed := seedEntry(t, store, 2, 10, models.EntryStateProcessing, now)
	claimed.BatchID = "batch-1"
	if err := store.Update(claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	seedEntry(t, store, 3, 10, models.EntryStatePending, now) // no batch

	entries, err := store.PendingByBatch("batch-1")
	if err != nil {
		t.Fatalf("PendingByBatch failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != inBatch.ID {
		t.Errorf("PendingByBatch = %d entries, expected only the unclaimed batch entry", len(entries))
	}
}

func TestQueueStore_RecoverOrphaned(t *testing.T) {
	db := setupTestDB(t)
	store := NewQueueStore(db)
	now := time.Now()

	orphan := seedEntry(t, store, 1, 10, models.EntryStateProcessing, now.Add(-time.Hour))
	untouched := seedEntry(t, store, 2, 10, models.EntryStatePending, now)
	seedEntry(t, store, 3, 10, models.EntryStateDone, now.Add(-time.Hour))

	n, err := store.RecoverOrphaned(now)
	if err != nil {
		t.Fatalf("RecoverOrphaned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d entries, expected 1", n)
	}

	var got models.SyncQueueEntry
	db.First(&got, orphan.ID)
	if got.State != models.EntryStatePending {
		t.Errorf("orphan state = %q, expected %q", got.State, models.EntryStatePending)
	}
	if got.NextAttemptAt.After(now.Add(time.Second)) {
		t.Errorf("orphan next attempt = %v, expected due immediately", got.NextAttemptAt)
	}

	db.First(&got, untouched.ID)
	if got.State != models.EntryStatePending {
		t.Errorf("pending entry state = %q, recovery must not touch it", got.State)
	}
}
