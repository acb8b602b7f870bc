package services

import (
	"context"

	"ytbatch/types"
)

// AudioPostProcess is the audio extraction chain run after an audio-only download
type AudioPostProcess struct {
	Codec      string
	Bitrate    int // kbps
	SampleRate int // Hz
	Channels   int
}

// BackendRequest is the backend-specific translation of a job's options
type BackendRequest struct {
	ResourceID          string
	Format              string
	OutputTemplate      string
	MergeFormat         string
	Subtitles           bool
	Playlist            bool
	ConcurrentFragments int
	RateLimit           int64 // bytes/sec, 0 = unlimited
	ProxyURL            string
	IgnoreErrors        bool
	ExtractAudio        *AudioPostProcess
}

// ExtractResult describes what a successful extraction produced
type ExtractResult struct {
	OutputPath string
}

// BackendSink receives progress from the backend while it runs
type BackendSink interface {
	Progress(types.ProgressSnapshot)
	Phase(phase types.Phase, message string)
}

// Backend performs the actual retrieval. Extract must stop at its next
// opportunity once ctx is cancelled, but is not required to return promptly.
type Backend interface {
	Extract(ctx context.Context, req BackendRequest, sink BackendSink) (ExtractResult, error)
}
