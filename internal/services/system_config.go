package services

import (
	"strconv"
	"strings"

	"github.com/bugloop/bugloop/internal/models"
	"gorm.io/gorm"
)

// System config keys used by the sync engine.
const (
	ConfigKeyPublicBaseURL       = "public_base_url"
	ConfigKeyEventRetentionHours = "webhook_event_retention_hours"
	ConfigKeyLogRetentionDays    = "log_retention_days"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

// PublicBaseURL returns the configured externally reachable base URL,
// without a trailing slash. Empty when unconfigured.
func (s *SystemConfigService) PublicBaseURL() string {
	return strings.TrimSuffix(s.GetWithDefault(ConfigKeyPublicBaseURL, ""), "/")
}

// SetPublicBaseURL stores the public base URL.
func (s *SystemConfigService) SetPublicBaseURL(url string) error {
	return s.Set(ConfigKeyPublicBaseURL, strings.TrimSuffix(strings.TrimSpace(url), "/"))
}

// EventRetentionHours returns how long consumed webhook events are kept
// for deduplication before being swept.
func (s *SystemConfigService) EventRetentionHours() int {
	hours, err := strconv.Atoi(s.GetWithDefault(ConfigKeyEventRetentionHours, "72"))
	if err != nil || hours <= 0 {
		return 72
	}
	return hours
}
