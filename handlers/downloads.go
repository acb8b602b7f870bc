package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"ytbatch/logger"
	"ytbatch/services"
	"ytbatch/types"
	"ytbatch/websocket"
)

var handlerLog = logger.Get("Handlers")

const maxImportSize = 1 << 20

// DownloadService is the part of the orchestrator the download endpoints use
type DownloadService interface {
	SubmitSingle(resourceID, outputName string) (types.Job, error)
	SubmitBatch(entries []types.ImportEntry) ([]types.Job, error)
	CancelCurrent() error
	CurrentStatus() types.Status
}

// DownloadHandler handles download management endpoints
type DownloadHandler struct {
	service  DownloadService
	hub      websocket.Hub
	upgrader gorillaws.Upgrader
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(service DownloadService, hub websocket.Hub, allowedOrigins []string) *DownloadHandler {
	return &DownloadHandler{
		service:  service,
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// SubmitDownload starts a single download
func (h *DownloadHandler) SubmitDownload(c *gin.Context) {
	var req types.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	job, err := h.service.SubmitSingle(req.URL, req.OutputName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Download started",
		"job":     job,
	})
}

// SubmitBatch queues a list of URLs as a batch
func (h *DownloadHandler) SubmitBatch(c *gin.Context) {
	var req types.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	entries := append([]types.ImportEntry(nil), req.Entries...)
	for _, url := range req.URLs {
		entries = append(entries, types.ImportEntry{URL: url})
	}

	h.submitBatch(c, entries)
}

// ImportBatch queues the entries of an import file sent as the request body
func (h *DownloadHandler) ImportBatch(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)
	entries, err := services.ParseImport(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "could not read import file",
			"details": err.Error(),
		})
		return
	}

	h.submitBatch(c, entries)
}

func (h *DownloadHandler) submitBatch(c *gin.Context, entries []types.ImportEntry) {
	jobs, err := h.service.SubmitBatch(entries)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Batch queued",
		"jobs":    jobs,
		"total":   len(jobs),
	})
}

// GetStatus returns the runner status
func (h *DownloadHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": h.service.CurrentStatus(),
	})
}

// CancelCurrent cancels the running download or batch
func (h *DownloadHandler) CancelCurrent(c *gin.Context) {
	if err := h.service.CancelCurrent(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Cancelling download",
	})
}

// HandleWebSocketConnection streams updates for one job
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobId"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job ID is required"})
		return
	}

	h.serveWebSocket(c, jobID)
}

// HandleWebSocketAllConnection streams updates for every job
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	h.serveWebSocket(c, websocket.AllJobs)
}

func (h *DownloadHandler) serveWebSocket(c *gin.Context, jobID string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		handlerLog.Emit(logger.WARNING, "websocket upgrade failed: %v\n", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, jobID)
	h.hub.RegisterClient(client)
	client.StartPumps()
}
