package main

import (
	"github.com/bugloop/bugloop/internal/config"
	"github.com/bugloop/bugloop/internal/handlers"
	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/services"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/bugloop/bugloop/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	worker           *services.Worker
	retention        *services.EventRetentionService
	syncHandler      *handlers.SyncHandler
	webhookHandler   *handlers.WebhookHandler
	sysConfigHandler *handlers.SystemConfigHandler
	healthHandler    *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()

	// Initialize system logger
	services.InitSystemLogger(db)

	// Start system log cleanup scheduler
	services.StartLogCleanupScheduler(db)

	// Shared limiter keeps outbound tracker calls under the API quota
	// across the worker and the synchronous forward path.
	limiter := tracker.NewLimiter(cfg.Sync.TrackerRPS, cfg.Sync.TrackerBurst)
	trackers := tracker.NewGitHubFactory(limiter)

	store := services.NewQueueStore(db)
	syncService := services.NewSyncService(db, &cfg.Sync, store, trackers)
	syncModeService := services.NewSyncModeService(db, trackers)

	worker := services.NewWorker(db, &cfg.Sync, syncService)
	worker.Start()

	retention := services.NewEventRetentionService(db)
	if err := retention.StartScheduler(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start webhook event retention scheduler")
	}

	projection := services.NewProjectionService(db, store, worker)
	reconciler := services.NewReconciler(db)

	return &appServices{
		worker:           worker,
		retention:        retention,
		syncHandler:      handlers.NewSyncHandler(syncService, syncModeService, projection),
		webhookHandler:   handlers.NewWebhookHandler(reconciler),
		sysConfigHandler: handlers.NewSystemConfigHandler(services.NewSystemConfigService(db)),
		healthHandler:    handlers.NewHealthHandler(db),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.worker.Stop()
	s.retention.StopScheduler()
	services.StopLogCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")
}
