package types

import "time"

// Message types carried by ProgressMessage.Type
const (
	MessageProgress = "progress"
	MessageStatus   = "status"
	MessageError    = "error"
	MessageFinished = "finished"
)

// ProgressMessage represents a WebSocket update message
type ProgressMessage struct {
	JobID      string        `json:"jobId,omitempty"`
	Type       string        `json:"type"`                 // "progress", "status", "error", "finished"
	ResourceID string        `json:"resourceId,omitempty"` // the URL being retrieved
	Phase      Phase         `json:"phase,omitempty"`
	Progress   float64       `json:"progress"` // 0-100 percentage
	BytesDone  int64         `json:"bytesDone,omitempty"`
	BytesTotal int64         `json:"bytesTotal,omitempty"`
	Speed      string        `json:"speed,omitempty"` // like "2.1 MB/s"
	ETASeconds int64         `json:"etaSeconds,omitempty"`
	Index      int           `json:"index,omitempty"`
	Total      int           `json:"total,omitempty"`
	Message    string        `json:"message,omitempty"` // status or error messages
	Summary    *BatchSummary `json:"summary,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
