package services

import (
	"time"

	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// EventRetentionService sweeps consumed webhook events once they fall
// out of the dedup retention window. Trackers stop redelivering long
// before the window closes, so expired rows are dead weight.
type EventRetentionService struct {
	db        *gorm.DB
	sysConfig *SystemConfigService
	scheduler *cron.Cron
}

func NewEventRetentionService(db *gorm.DB) *EventRetentionService {
	return &EventRetentionService{
		db:        db,
		sysConfig: NewSystemConfigService(db),
	}
}

// StartScheduler runs a sweep immediately and then hourly.
func (s *EventRetentionService) StartScheduler() error {
	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc("@every 1h", func() { s.Sweep() }); err != nil {
		return err
	}
	s.scheduler.Start()

	go s.Sweep()

	logger.Infof("[Retention] Webhook event sweeper started (hourly)")
	return nil
}

// StopScheduler stops the cron schedule.
func (s *EventRetentionService) StopScheduler() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Sweep deletes webhook events older than the retention window and
// returns how many rows went away.
func (s *EventRetentionService) Sweep() int64 {
	hours := s.sysConfig.EventRetentionHours()
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	result := s.db.Where("received_at < ?", cutoff).Delete(&models.WebhookEvent{})
	if result.Error != nil {
		logger.Errorf("[Retention] Failed to sweep webhook events: %v", result.Error)
		return 0
	}

	if result.RowsAffected > 0 {
		logger.Infof("[Retention] Swept %d webhook events older than %dh", result.RowsAffected, hours)
	}
	return result.RowsAffected
}
