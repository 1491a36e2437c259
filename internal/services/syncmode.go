package services

import (
	"context"
	"fmt"

	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/bugloop/bugloop/pkg/logger"
	"gorm.io/gorm"
)

// SyncModeService owns the per-integration manual/automatic flag and
// its activation precondition.
type SyncModeService struct {
	db           *gorm.DB
	trackers     tracker.Factory
	integrations *IntegrationService
	sysConfig    *SystemConfigService
}

func NewSyncModeService(db *gorm.DB, trackers tracker.Factory) *SyncModeService {
	return &SyncModeService{
		db:           db,
		trackers:     trackers,
		integrations: NewIntegrationService(db),
		sysConfig:    NewSystemConfigService(db),
	}
}

// SyncModeResult is returned from SetSyncMode. UnsyncedCount lets the
// caller offer a bulk catch-up; the controller itself never enqueues
// one — a mode flip alone must not trigger surprise bulk work.
type SyncModeResult struct {
	SyncMode      string `json:"sync_mode"`
	UnsyncedCount int64  `json:"unsynced_count"`
}

// WebhookCallbackPath is where the tracker delivers issue events.
const WebhookCallbackPath = "/api/webhook/tracker/github"

// SetSyncMode switches an integration between manual and automatic.
//
// Enabling automatic requires a configured public base URL (ConfigError
// otherwise, so the caller can prompt for it) and a successful webhook
// registration (WebhookRegistrationError otherwise); on either failure
// the mode is left untouched — no partial state.
//
// Disabling is always allowed; webhook de-registration is best-effort
// because the reconciler ignores events for non-automatic integrations
// anyway.
func (s *SyncModeService) SetSyncMode(ctx context.Context, integrationID uint, mode string) (*SyncModeResult, error) {
	if mode != models.SyncModeManual && mode != models.SyncModeAutomatic {
		return nil, fmt.Errorf("invalid sync mode: %q", mode)
	}

	integration, err := s.integrations.GetByID(integrationID)
	if err != nil {
		return nil, err
	}

	if mode == models.SyncModeAutomatic {
		if err := s.enableAutomatic(ctx, integration); err != nil {
			return nil, err
		}
	} else {
		if err := s.disableAutomatic(ctx, integration); err != nil {
			return nil, err
		}
	}

	unsynced, err := s.integrations.CountUnsynced(integration)
	if err != nil {
		return nil, err
	}
	return &SyncModeResult{SyncMode: mode, UnsyncedCount: unsynced}, nil
}

func (s *SyncModeService) enableAutomatic(ctx context.Context, integration *models.Integration) error {
	baseURL := s.sysConfig.PublicBaseURL()
	if baseURL == "" {
		return &ConfigError{Missing: "public base URL"}
	}

	secret, err := NewWebhookSecret()
	if err != nil {
		return err
	}

	client := s.trackers(integration.Owner, integration.Repo, integration.AccessToken)

	// Refresh: drop a stale hook before registering the new one so the
	// tracker does not deliver twice.
	if integration.WebhookID != 0 {
		if err := client.DeleteHook(ctx, integration.WebhookID); err != nil {
			logger.Warnf("[SyncMode] Could not remove stale webhook %d for integration %d: %v",
				integration.WebhookID, integration.ID, err)
		}
	}

	hookID, err := client.CreateHook(ctx, baseURL+WebhookCallbackPath, secret)
	if err != nil {
		return &WebhookRegistrationError{Err: err}
	}

	err = s.db.Model(&models.Integration{}).Where("id = ?", integration.ID).
		Updates(map[string]interface{}{
			"sync_mode":      models.SyncModeAutomatic,
			"webhook_id":     hookID,
			"webhook_secret": secret,
		}).Error
	if err != nil {
		// Registration went through but the local commit failed; the
		// orphan hook delivers events no integration verifies, which
		// the reconciler drops.
		return err
	}

	logger.Infof("[SyncMode] Automatic sync enabled for integration %d (hook %d)", integration.ID, hookID)
	return nil
}

func (s *SyncModeService) disableAutomatic(ctx context.Context, integration *models.Integration) error {
	if integration.WebhookID != 0 {
		client := s.trackers(integration.Owner, integration.Repo, integration.AccessToken)
		if err := client.DeleteHook(ctx, integration.WebhookID); err != nil {
			// Best-effort: correctness does not depend on this.
			logger.Warnf("[SyncMode] Webhook de-registration failed for integration %d: %v", integration.ID, err)
		}
	}

	return s.db.Model(&models.Integration{}).Where("id = ?", integration.ID).
		Updates(map[string]interface{}{
			"sync_mode":      models.SyncModeManual,
			"webhook_id":     0,
			"webhook_secret": "",
		}).Error
}
