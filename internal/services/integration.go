package services

import (
	"strings"

	"github.com/bugloop/bugloop/internal/models"
	"gorm.io/gorm"
)

// IntegrationService reads integration records. Credential management
// (token encryption, rotation) lives in an external layer; by the time
// a row is read here, AccessToken is usable as-is.
type IntegrationService struct {
	db *gorm.DB
}

func NewIntegrationService(db *gorm.DB) *IntegrationService {
	return &IntegrationService{db: db}
}

func (s *IntegrationService) GetByID(id uint) (*models.Integration, error) {
	var integration models.Integration
	if err := s.db.First(&integration, id).Error; err != nil {
		return nil, err
	}
	return &integration, nil
}

// GetByRepo finds the integration for a tracker repository, used by the
// webhook reconciler to map inbound events.
func (s *IntegrationService) GetByRepo(trackerType, owner, repo string) (*models.Integration, error) {
	var integration models.Integration
	err := s.db.Where("tracker_type = ? AND owner = ? AND repo = ? AND is_active = ?",
		trackerType, owner, repo, true).First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

// ListAutomaticByProject returns the active automatic-mode integrations
// for a project, the targets of the new-report trigger.
func (s *IntegrationService) ListAutomaticByProject(projectID uint) ([]models.Integration, error) {
	var integrations []models.Integration
	err := s.db.Where("project_id = ? AND is_active = ? AND sync_mode = ?",
		projectID, true, models.SyncModeAutomatic).Find(&integrations).Error
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

// CountUnsynced counts the integration's project reports still at sync
// status none, the candidates for a bulk catch-up.
func (s *IntegrationService) CountUnsynced(integration *models.Integration) (int64, error) {
	var count int64
	err := s.db.Model(&models.Report{}).
		Where("project_id = ? AND sync_status = ?", integration.ProjectID, models.SyncStatusNone).
		Count(&count).Error
	return count, err
}

// RecordUsage increments the usage counter and stamps last-used. Called
// by the forwarder on success only, inside its transaction.
func RecordUsage(tx *gorm.DB, integrationID uint) error {
	return tx.Model(&models.Integration{}).
		Where("id = ?", integrationID).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": tx.NowFunc(),
		}).Error
}

// SplitList splits a comma-separated label/assignee list, trimming
// blanks.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
