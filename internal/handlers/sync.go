package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bugloop/bugloop/internal/services"
	"github.com/bugloop/bugloop/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Machine-readable error identifiers returned by the sync endpoints.
const (
	ErrCodeConfig              = "CONFIG_ERROR"
	ErrCodeWebhookRegistration = "WEBHOOK_REGISTRATION_ERROR"
	ErrCodeSyncInFlight        = "SYNC_IN_FLIGHT"
)

type SyncHandler struct {
	syncService     *services.SyncService
	syncModeService *services.SyncModeService
	projection      *services.ProjectionService
}

func NewSyncHandler(syncService *services.SyncService, syncModeService *services.SyncModeService, projection *services.ProjectionService) *SyncHandler {
	return &SyncHandler{
		syncService:     syncService,
		syncModeService: syncModeService,
		projection:      projection,
	}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid "+param)
		return 0, false
	}
	return uint(id), true
}

// SetSyncMode handles POST /integrations/:id/sync-mode
func (h *SyncHandler) SetSyncMode(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req struct {
		SyncMode string `json:"sync_mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.syncModeService.SetSyncMode(c.Request.Context(), id, req.SyncMode)
	if err != nil {
		switch {
		case services.IsConfigError(err):
			response.Error(c, response.NewCoded(http.StatusBadRequest, ErrCodeConfig, err.Error()))
		case services.IsWebhookRegistrationError(err):
			response.Error(c, response.NewCoded(http.StatusBadGateway, ErrCodeWebhookRegistration, err.Error()))
		case errors.Is(err, gorm.ErrRecordNotFound):
			response.NotFound(c, "integration not found")
		default:
			response.BadRequest(c, err.Error())
		}
		return
	}
	response.Success(c, result)
}

// GetSyncStatus handles GET /integrations/:id/sync-status
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.projection.GetSyncStatus(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "integration not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, status)
}

// syncExistingRequest accepts {"report_ids": [1,2,3]} or
// {"report_ids": "all"}.
type syncExistingRequest struct {
	ReportIDs json.RawMessage `json:"report_ids" binding:"required"`
}

func (r *syncExistingRequest) parse() (ids []uint, all bool, err error) {
	var sentinel string
	if json.Unmarshal(r.ReportIDs, &sentinel) == nil {
		if sentinel != "all" {
			return nil, false, errors.New(`report_ids must be an id array or "all"`)
		}
		return nil, true, nil
	}
	if err := json.Unmarshal(r.ReportIDs, &ids); err != nil {
		return nil, false, errors.New(`report_ids must be an id array or "all"`)
	}
	return ids, false, nil
}

// SyncExisting handles POST /integrations/:id/sync-existing
func (h *SyncHandler) SyncExisting(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req syncExistingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ids, all, err := req.parse()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	queued, batchID, err := h.syncService.SyncExisting(id, ids, all)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "integration not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"queued":   queued,
		"batch_id": batchID,
		"message":  "reports queued for sync, poll sync-status for progress",
	})
}

// CancelBatch handles POST /integrations/:id/sync-existing/:batch_id/cancel
func (h *SyncHandler) CancelBatch(c *gin.Context) {
	batchID := c.Param("batch_id")
	if batchID == "" {
		response.BadRequest(c, "invalid batch_id")
		return
	}

	cancelled, err := h.syncService.CancelBatch(batchID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"cancelled": cancelled})
}

// Forward handles POST /reports/:id/forward/:integration_id — the
// synchronous single-report path.
func (h *SyncHandler) Forward(c *gin.Context) {
	reportID, ok := parseID(c, "id")
	if !ok {
		return
	}
	integrationID, ok := parseID(c, "integration_id")
	if !ok {
		return
	}

	var req struct {
		Labels    []string `json:"labels"`
		Assignees []string `json:"assignees"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	issue, err := h.syncService.ForwardNow(c.Request.Context(), reportID, integrationID, &services.ForwardOptions{
		Labels:    req.Labels,
		Assignees: req.Assignees,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSyncInFlight):
			response.Error(c, response.NewCoded(http.StatusConflict, ErrCodeSyncInFlight, err.Error()))
		case errors.Is(err, gorm.ErrRecordNotFound):
			response.NotFound(c, "report or integration not found")
		default:
			response.Error(c, response.NewCoded(http.StatusBadGateway, "TRACKER_ERROR", err.Error()))
		}
		return
	}

	response.Success(c, gin.H{
		"type": "issue",
		"id":   issue.Number,
		"url":  issue.URL,
	})
}

// RetrySync handles POST /reports/:id/retry-sync
func (h *SyncHandler) RetrySync(c *gin.Context) {
	reportID, ok := parseID(c, "id")
	if !ok {
		return
	}

	entry, err := h.syncService.RetrySync(reportID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "report not found")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"entry_id": entry.ID,
		"state":    entry.State,
		"message":  "report re-queued for sync",
	})
}

// GetReportSyncStatus handles GET /reports/:id/sync-status
func (h *SyncHandler) GetReportSyncStatus(c *gin.Context) {
	reportID, ok := parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.projection.GetReportSyncStatus(reportID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "report not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, status)
}
