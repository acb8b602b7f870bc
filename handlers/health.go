package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ytbatch/types"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// StatusSource reports the runner state for the status endpoint
type StatusSource interface {
	CurrentStatus() types.Status
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	status        StatusSource
	outputDir     func() string
	clientCount   func() int
	dependencyErr error
}

// NewHealthHandler creates a new health handler. dependencyErr is the result
// of the startup dependency check, if any.
func NewHealthHandler(status StatusSource, outputDir func() string, clientCount func() int, dependencyErr error) *HealthHandler {
	return &HealthHandler{
		status:        status,
		outputDir:     outputDir,
		clientCount:   clientCount,
		dependencyErr: dependencyErr,
	}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "ytbatch",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API and the runner
func (h *HealthHandler) APIStatus(c *gin.Context) {
	resp := gin.H{
		"message":         "ytbatch API is running",
		"output_dir":      h.outputDir(),
		"runner":          h.status.CurrentStatus(),
		"websocket_peers": h.clientCount(),
	}
	if h.dependencyErr != nil {
		resp["dependency_error"] = h.dependencyErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}
