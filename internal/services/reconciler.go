package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Reconciler consumes tracker webhooks and applies guarded status
// transitions onto reports. Strictly one-directional: it never touches
// integrations or the queue.
type Reconciler struct {
	db           *gorm.DB
	integrations *IntegrationService
	log          zerolog.Logger
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{
		db:           db,
		integrations: NewIntegrationService(db),
		log:          logger.Module("reconciler"),
	}
}

// githubIssuesEvent is the slice of GitHub's "issues" webhook payload
// the reconciler needs.
type githubIssuesEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		State  string `json:"state"`
	} `json:"issue"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// HandleIssuesEvent processes one "issues" webhook delivery. The
// returned error is diagnostic only; callers always acknowledge with
// 2xx so the tracker does not disable the subscription.
func (r *Reconciler) HandleIssuesEvent(deliveryID string, body []byte, signature, clientIP, userAgent string) error {
	var event githubIssuesEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("parse issues event: %w", err)
	}

	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	if owner == "" || repo == "" {
		if parts := strings.SplitN(event.Repository.FullName, "/", 2); len(parts) == 2 {
			owner, repo = parts[0], parts[1]
		}
	}

	integration, err := r.integrations.GetByRepo("github", owner, repo)
	if err != nil {
		// No integration claims the repository: not our event.
		return nil
	}

	// Verify before trusting anything in the payload beyond routing.
	if integration.WebhookSecret == "" || !VerifyGitHubSignature(integration.WebhookSecret, body, signature) {
		LogWarning("Reconciler", "InvalidSignature", "Dropped webhook with bad signature", clientIP, userAgent, map[string]interface{}{
			"integration_id": integration.ID,
			"delivery_id":    deliveryID,
		})
		return errors.New("invalid webhook signature")
	}

	// Events for integrations not in automatic mode are acknowledged
	// and ignored; de-registration is best-effort so stale deliveries
	// are expected.
	if integration.SyncMode != models.SyncModeAutomatic {
		return nil
	}

	if err := r.recordDelivery(deliveryID, integration.ID, &event); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			r.log.Debug().Str("delivery_id", deliveryID).Msg("duplicate delivery absorbed")
		}
		return err
	}

	switch event.Action {
	case "closed":
		return r.transition(integration, event.Issue.Number, models.ReportStatusResolved)
	case "reopened":
		return r.transition(integration, event.Issue.Number, models.ReportStatusOpen)
	default:
		return nil
	}
}

// recordDelivery inserts the dedup row. Trackers redeliver events; a
// delivery id seen before is absorbed without any state change.
func (r *Reconciler) recordDelivery(deliveryID string, integrationID uint, event *githubIssuesEvent) error {
	var count int64
	if err := r.db.Model(&models.WebhookEvent{}).Where("delivery_id = ?", deliveryID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEvent
	}

	err := r.db.Create(&models.WebhookEvent{
		DeliveryID:    deliveryID,
		IntegrationID: integrationID,
		IssueNumber:   event.Issue.Number,
		Action:        event.Action,
		ReceivedAt:    time.Now(),
	}).Error
	if err != nil {
		// Concurrent handlers racing on the same delivery hit the
		// unique index; re-check before calling it a duplicate, any
		// other create failure has to surface.
		var raced int64
		if countErr := r.db.Model(&models.WebhookEvent{}).Where("delivery_id = ?", deliveryID).
			Count(&raced).Error; countErr == nil && raced > 0 {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// transition applies the guarded status change. The guard: a human who
// moved the report after the last sync wins over the tracker, so
// manual progression is never clobbered by a late webhook.
func (r *Reconciler) transition(integration *models.Integration, issueNumber int, newStatus string) error {
	// Issue numbers are only unique within a repository, so the match
	// is scoped to the integration the event was routed to. Two repos
	// in one project can both have an issue 42.
	var report models.Report
	err := r.db.Where("sync_integration_id = ? AND issue_number = ?", integration.ID, issueNumber).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Issue was never forwarded by us; ignore.
		return nil
	}
	if err != nil {
		return err
	}

	if report.StatusChangedAt != nil &&
		(report.LastSyncedAt == nil || report.StatusChangedAt.After(*report.LastSyncedAt)) {
		r.log.Info().
			Uint("report_id", report.ID).
			Str("status", report.Status).
			Str("tracker_status", newStatus).
			Msg("skipping tracker transition, report was changed manually after last sync")
		return nil
	}

	if report.Status == newStatus {
		return nil
	}

	if err := r.db.Model(&models.Report{}).Where("id = ?", report.ID).
		Update("status", newStatus).Error; err != nil {
		return err
	}

	r.log.Info().
		Uint("report_id", report.ID).
		Int("issue_number", issueNumber).
		Str("from", report.Status).
		Str("to", newStatus).
		Msg("report status reconciled from tracker")
	return nil
}
