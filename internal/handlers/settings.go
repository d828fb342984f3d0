package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

type SettingsHandler struct {
	settings repositories.SettingsRepository
	events   *telemetry.EventEmitter
}

func NewSettingsHandler(settings repositories.SettingsRepository, events *telemetry.EventEmitter) *SettingsHandler {
	return &SettingsHandler{settings: settings, events: events}
}

// GetChatSettings returns the public chat settings consumed by the widget.
func (h *SettingsHandler) GetChatSettings(c *gin.Context) {
	settings, err := h.settings.GetSettings(c.Request.Context())
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to load settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

type updateSettingsRequest struct {
	WhatsAppNumber *string `json:"whatsappNumber"`
	ChatTimeout    *int    `json:"chatTimeout"`
	ChatEnabled    *bool   `json:"chatEnabled"`
}

// UpdateChatSettings merges the supplied fields into the stored settings.
func (h *SettingsHandler) UpdateChatSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatTimeout != nil && *req.ChatTimeout <= 0 {
		fail(c, http.StatusBadRequest, "chatTimeout must be positive")
		return
	}

	ctx := c.Request.Context()
	current, err := h.settings.GetSettings(ctx)
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to load settings", err)
		return
	}
	if req.WhatsAppNumber != nil {
		current.WhatsAppNumber = strings.TrimSpace(*req.WhatsAppNumber)
	}
	if req.ChatTimeout != nil {
		current.ChatTimeout = *req.ChatTimeout
	}
	if req.ChatEnabled != nil {
		current.ChatEnabled = *req.ChatEnabled
	}

	updated, err := h.settings.UpdateSettings(ctx, current)
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to save settings", err)
		return
	}

	h.events.Emit(ctx, telemetry.EventSettingsUpdated, requestID(c), "", updated)
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": updated})
}

// Health reports liveness for load balancers.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
