package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ytbatch/types"
)

// ErrorLogService is the part of the orchestrator exposing the failure log
type ErrorLogService interface {
	Errors() []types.ErrorRecord
	ClearErrors()
	FlushErrors(ctx context.Context) error
}

// ErrorLogHandler handles error log endpoints
type ErrorLogHandler struct {
	service ErrorLogService
}

// NewErrorLogHandler creates a new error log handler
func NewErrorLogHandler(service ErrorLogService) *ErrorLogHandler {
	return &ErrorLogHandler{service: service}
}

// GetErrors returns every recorded failure
func (h *ErrorLogHandler) GetErrors(c *gin.Context) {
	records := h.service.Errors()
	c.JSON(http.StatusOK, gin.H{
		"errors": records,
		"total":  len(records),
	})
}

// ClearErrors empties the in-memory log
func (h *ErrorLogHandler) ClearErrors(c *gin.Context) {
	h.service.ClearErrors()
	c.JSON(http.StatusOK, gin.H{
		"message": "error log cleared",
	})
}

// FlushErrors writes the log to storage
func (h *ErrorLogHandler) FlushErrors(c *gin.Context) {
	if err := h.service.FlushErrors(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "error log saved",
	})
}
