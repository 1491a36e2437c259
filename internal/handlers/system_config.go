package handlers

import (
	"net/url"

	"github.com/bugloop/bugloop/internal/services"
	"github.com/bugloop/bugloop/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GetPublicBaseURL handles GET /system-configs/public-base-url
func (h *SystemConfigHandler) GetPublicBaseURL(c *gin.Context) {
	response.Success(c, gin.H{"public_base_url": h.configService.PublicBaseURL()})
}

// SetPublicBaseURL handles PUT /system-configs/public-base-url
func (h *SystemConfigHandler) SetPublicBaseURL(c *gin.Context) {
	var req struct {
		PublicBaseURL string `json:"public_base_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	u, err := url.Parse(req.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		response.BadRequest(c, "public_base_url must be an absolute http(s) URL")
		return
	}

	if err := h.configService.SetPublicBaseURL(req.PublicBaseURL); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"public_base_url": req.PublicBaseURL})
}
