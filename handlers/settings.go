package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ytbatch/config"
)

// SettingsHandler handles settings-related endpoints
type SettingsHandler struct {
	store *config.SettingsStore
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store *config.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetSettings returns the current settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings": h.store.Get(),
		"path":     h.store.Path(),
	})
}

// UpdateSettings applies a partial update using settings file keys and saves
// the result. Keys that are not sent keep their current value.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings format",
			"details": err.Error(),
		})
		return
	}

	settings, err := h.store.Update(changes)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.store.Save(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": settings,
	})
}
