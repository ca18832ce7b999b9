package voiceagent

import (
	"net/http"

	"screening-gateway/internal/calls"
	"screening-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Releaser is the gate-facing dependency of the status webhook. Release must
// be idempotent; the polling watcher may have beaten the callback to it.
type Releaser interface {
	Release(agentID, reason string)
}

// StatusWebhookHandler accepts provider status callbacks and releases the
// agent gate early when the pushed status classifies as final.
//
// No business logic here beyond classification; the watcher remains the
// authority and this is only a faster signal.
type StatusWebhookHandler struct {
	Gate Releaser

	// Secret, when set, must match the X-Webhook-Secret header.
	Secret string
}

type statusCallback struct {
	AgentID string `json:"agent_id"`
	CallID  string `json:"call_id"`
	Status  string `json:"status"`

	RecordingURL    string `json:"recording_url"`
	DurationSeconds int    `json:"duration"`
}

func (h StatusWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "gate not configured"})
		return
	}
	if h.Secret != "" && c.GetHeader("X-Webhook-Secret") != h.Secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad webhook secret"})
		return
	}

	var cb statusCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if cb.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}

	cls := calls.Classify(cb.Status, cb.RecordingURL != "" || cb.DurationSeconds > 0)
	if cls.Final() {
		log.Info("status callback final", "agent_id", cb.AgentID, "call_id", cb.CallID, "status", cb.Status)
		h.Gate.Release(cb.AgentID, "webhook "+cls.Reason)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
