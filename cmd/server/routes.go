package main

import (
	"github.com/bugloop/bugloop/internal/middleware"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for the inbound webhook route
	webhookLimiter := middleware.NewRateLimiter(10, 20)

	// Health check
	r.GET("/health", svc.healthHandler.Check)

	// API routes
	api := r.Group("/api")
	{
		// Integrations
		integrations := api.Group("/integrations")
		{
			integrations.POST("/:id/sync-mode", svc.syncHandler.SetSyncMode)
			integrations.GET("/:id/sync-status", svc.syncHandler.GetSyncStatus)
			integrations.POST("/:id/sync-existing", svc.syncHandler.SyncExisting)
			integrations.POST("/:id/sync-existing/:batch_id/cancel", svc.syncHandler.CancelBatch)
		}

		// Reports
		reports := api.Group("/reports")
		{
			reports.POST("/:id/forward/:integration_id", svc.syncHandler.Forward)
			reports.POST("/:id/retry-sync", svc.syncHandler.RetrySync)
			reports.GET("/:id/sync-status", svc.syncHandler.GetReportSyncStatus)
		}

		// System configs
		api.GET("/system-configs/public-base-url", svc.sysConfigHandler.GetPublicBaseURL)
		api.PUT("/system-configs/public-base-url", svc.sysConfigHandler.SetPublicBaseURL)

		// Inbound tracker webhook (public with signature verification)
		api.POST("/webhook/tracker/github", webhookLimiter.Middleware(), svc.webhookHandler.HandleGitHub)
	}
}
