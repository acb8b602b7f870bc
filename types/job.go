package types

import (
	"fmt"
	"time"
)

// FormatKind selects which streams a job retrieves
type FormatKind string

const (
	FormatBest      FormatKind = "best"
	FormatVideoOnly FormatKind = "video"
	FormatAudioOnly FormatKind = "audio"
)

// AudioOptions describes the post-processing chain used for audio-only jobs
type AudioOptions struct {
	Codec      string `json:"codec"`      // "mp3", "m4a", "opus", ...
	Bitrate    int    `json:"bitrate"`    // kbps, 0 lets the backend decide
	SampleRate int    `json:"sampleRate"` // Hz, 0 keeps the source rate
	Channels   int    `json:"channels"`   // 0 keeps the source layout
}

// Options is the resolved configuration snapshot attached to a job
type Options struct {
	OutputDir   string       `json:"outputDir"`
	Format      FormatKind   `json:"format"`
	MaxHeight   int          `json:"maxHeight"` // 0 means no quality ceiling
	Subtitles   bool         `json:"subtitles"`
	Playlist    bool         `json:"playlist"`
	ThreadCount int          `json:"threadCount"`
	RateLimit   int64        `json:"rateLimit"` // bytes/sec, 0 means unlimited
	ProxyURL    string       `json:"proxyUrl,omitempty"`
	Audio       AudioOptions `json:"audio"`
}

const (
	MinThreadCount = 1
	MaxThreadCount = 32
)

// Job represents one queued retrieval
type Job struct {
	ID             string    `json:"id"`
	ResourceID     string    `json:"resourceId"`
	OutputNameHint string    `json:"outputNameHint,omitempty"`
	EpisodeID      string    `json:"episodeId,omitempty"`
	Options        Options   `json:"options"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ImportEntry is one line of a URL import file
type ImportEntry struct {
	EpisodeID string `json:"episodeId,omitempty"`
	URL       string `json:"url"`
}

// RunMode tells the runner whether it is executing a lone submission or a batch
type RunMode int

const (
	RunModeSingle RunMode = iota
	RunModeBatch
)

func (m RunMode) String() string {
	if m == RunModeBatch {
		return "batch"
	}
	return "single"
}

func (m RunMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *RunMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "single":
		*m = RunModeSingle
	case "batch":
		*m = RunModeBatch
	default:
		return fmt.Errorf("unknown run mode %q", text)
	}
	return nil
}

// RunnerState is the batch runner's top-level state
type RunnerState string

const (
	StateIdle       RunnerState = "idle"
	StateRunning    RunnerState = "running"
	StateCancelling RunnerState = "cancelling"
)

// Status is the observer-facing view of the runner
type Status struct {
	State     RunnerState `json:"state"`
	Mode      RunMode     `json:"mode"`
	Phase     Phase       `json:"phase,omitempty"`
	Index     int         `json:"index"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// BatchSummary is published once a batch drains or is cancelled
type BatchSummary struct {
	RunID     string `json:"runId"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Cancelled bool   `json:"cancelled"`
}

// ErrorRecord is one entry of the failure log
type ErrorRecord struct {
	ResourceID string    `json:"resourceId"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
