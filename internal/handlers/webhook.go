package handlers

import (
	"io"
	"net/http"

	"github.com/bugloop/bugloop/internal/services"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps inbound payloads; GitHub issue events are well
// under this.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	reconciler *services.Reconciler
}

func NewWebhookHandler(reconciler *services.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleGitHub handles POST /webhook/tracker/github. The tracker
// disables hooks that keep failing, so every delivery is acknowledged
// with 200 regardless of how processing goes; failures only show up in
// our own logs.
func (h *WebhookHandler) HandleGitHub(c *gin.Context) {
	event := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")
	signature := c.GetHeader("X-Hub-Signature-256")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.Warn().Str("delivery_id", deliveryID).Err(err).Msg("failed to read webhook body")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if event != "issues" {
		// ping, installation etc. — acknowledged but not processed.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.reconciler.HandleIssuesEvent(deliveryID, body, signature, c.ClientIP(), c.Request.UserAgent()); err != nil {
		logger.Warn().Str("delivery_id", deliveryID).Err(err).Msg("webhook delivery not applied")
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
