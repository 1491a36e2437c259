package services

import (
	"context"
	"fmt"

	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/bugloop/bugloop/pkg/logger"
	"gorm.io/gorm"
)

// ForwardOptions carries per-call extras for the manual forward path.
type ForwardOptions struct {
	Labels    []string
	Assignees []string
}

// Forwarder performs one report's create or update against the
// tracker. It works from a snapshot of the report taken at dequeue
// time and never re-reads mid-operation.
type Forwarder struct {
	db           *gorm.DB
	trackers     tracker.Factory
	integrations *IntegrationService
}

func NewForwarder(db *gorm.DB, trackers tracker.Factory) *Forwarder {
	return &Forwarder{
		db:           db,
		trackers:     trackers,
		integrations: NewIntegrationService(db),
	}
}

// Forward executes the entry. On success the report's synced state,
// external reference and the integration usage counters commit in one
// transaction. On failure the classified error is returned and the
// report stays at sync status pending; only the worker decides when
// pending becomes error.
func (f *Forwarder) Forward(ctx context.Context, entry *models.SyncQueueEntry, opts *ForwardOptions) (*tracker.Issue, error) {
	integration, err := f.integrations.GetByID(entry.IntegrationID)
	if err != nil {
		return nil, &tracker.TerminalError{Op: "load integration", Status: 0, Reason: err.Error()}
	}
	if !integration.IsActive {
		return nil, &tracker.TerminalError{Op: "load integration", Status: 0, Reason: "integration is disabled"}
	}

	// Snapshot: all payload fields come from this single read.
	var report models.Report
	if err := f.db.First(&report, entry.ReportID).Error; err != nil {
		return nil, &tracker.TerminalError{Op: "load report", Status: 0, Reason: err.Error()}
	}

	client := f.trackers(integration.Owner, integration.Repo, integration.AccessToken)
	req := buildIssueRequest(&report, integration, opts)

	var issue *tracker.Issue
	if report.Synced() {
		// The report already has an external reference: always an
		// update, never a second create.
		issue, err = client.UpdateIssue(ctx, report.IssueNumber, req)
	} else {
		issue, err = client.CreateIssue(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	err = f.db.Transaction(func(tx *gorm.DB) error {
		now := tx.NowFunc()
		if err := tx.Model(&models.Report{}).Where("id = ?", report.ID).
			Updates(map[string]interface{}{
				"sync_status":         models.SyncStatusSynced,
				"issue_number":        issue.Number,
				"issue_url":           issue.URL,
				"sync_integration_id": integration.ID,
				"sync_error":          "",
				"last_synced_at":      now,
			}).Error; err != nil {
			return err
		}
		return RecordUsage(tx, integration.ID)
	})
	if err != nil {
		// The issue exists on the tracker but the local commit failed.
		// Best effort: store the external reference anyway, so the
		// retry performs an update instead of creating a duplicate.
		f.db.Model(&models.Report{}).Where("id = ?", report.ID).
			Updates(map[string]interface{}{
				"issue_number":        issue.Number,
				"issue_url":           issue.URL,
				"sync_integration_id": integration.ID,
			})
		return nil, &tracker.RetryableError{Op: "persist sync result", Err: err}
	}

	logger.Info().
		Uint("report_id", report.ID).
		Uint("integration_id", integration.ID).
		Int("issue_number", issue.Number).
		Str("action", entry.Action).
		Msg("report forwarded")
	return issue, nil
}

func buildIssueRequest(report *models.Report, integration *models.Integration, opts *ForwardOptions) *tracker.IssueRequest {
	body := report.Description
	if report.Reporter != "" {
		body = fmt.Sprintf("%s\n\n---\nReported by %s via bugloop (report #%d)", body, report.Reporter, report.ID)
	} else {
		body = fmt.Sprintf("%s\n\n---\nForwarded from bugloop (report #%d)", body, report.ID)
	}

	labels := SplitList(integration.Labels)
	assignees := SplitList(integration.Assignees)
	if opts != nil {
		labels = append(labels, opts.Labels...)
		assignees = append(assignees, opts.Assignees...)
	}

	return &tracker.IssueRequest{
		Title:     report.Title,
		Body:      body,
		Labels:    labels,
		Assignees: assignees,
	}
}
