package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ytbatch/types"
)

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, err error) {
	var validationErr *types.ValidationError
	var ioErr *types.IOError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, types.ErrRunnerBusy):
		c.JSON(http.StatusConflict, gin.H{
			"error": "a download is already running",
		})
	case errors.Is(err, types.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{
			"error": "no download is running",
		})
	case errors.Is(err, types.ErrRunnerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "server is shutting down",
		})
	case errors.As(err, &ioErr):
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage error",
			"details": ioErr.Error(),
		})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
	}
}
