package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
)

type subscribePayload struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *httpHandler) handleSubscribePush(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request subscribePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	subscription, created, err := h.subscriptions.Subscribe(
		c.Request.Context(), userID, request.Endpoint, request.Keys.P256dh, request.Keys.Auth)
	if err != nil {
		h.logger.Error("push subscription failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe_failed"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"subscription": gin.H{
		"id":       subscription.SubscriptionID,
		"endpoint": subscription.Endpoint,
	}})
}

func (h *httpHandler) handleUnsubscribePush(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint_required"})
		return
	}

	if err := h.subscriptions.Unsubscribe(c.Request.Context(), userID, endpoint); err != nil {
		h.logger.Error("push unsubscription failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": h.vapidPublicKey})
}

type settingsPayload struct {
	HideCompletedReminders bool `json:"hide_completed_reminders"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	settings, err := h.users.GetSettings(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("settings lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_failed"})
		return
	}

	c.JSON(http.StatusOK, settingsPayload{HideCompletedReminders: settings.HideCompletedReminders})
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request settingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.users.UpdateSettings(c.Request.Context(), userID, users.Settings{
		HideCompletedReminders: request.HideCompletedReminders,
	})
	if err != nil {
		h.logger.Error("settings update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "hide_completed_reminders": request.HideCompletedReminders})
}

// handleRunScheduler triggers a dispatcher run on demand. The periodic cron
// trigger calls the same service; this endpoint exists for external cron
// setups and manual runs.
func (h *httpHandler) handleRunScheduler(c *gin.Context) {
	result, err := h.dispatcher.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("scheduler run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "scheduler_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "processed": result.Processed})
}

func (h *httpHandler) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
