package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytbatch/logger"
	"ytbatch/types"
)

var execLog = logger.Get("Executor")

const (
	defaultOutputTemplate = "%(title)s.%(ext)s"
	mergeOutputFormat     = "mp4"
)

// Executor runs a single job against the backend and converts what happens
// into typed job events
type Executor struct {
	backend  Backend
	errorLog *ErrorLog
	metadata MetadataReader

	// IgnoreErrors is passed to the backend for every job, single or batch
	IgnoreErrors bool
}

// NewExecutor creates an executor. metadata may be nil to skip tag inspection.
func NewExecutor(backend Backend, errorLog *ErrorLog, metadata MetadataReader) *Executor {
	return &Executor{
		backend:      backend,
		errorLog:     errorLog,
		metadata:     metadata,
		IgnoreErrors: true,
	}
}

// BuildRequest translates a job's options into a backend request
func BuildRequest(job types.Job) BackendRequest {
	opts := job.Options

	req := BackendRequest{
		ResourceID:          job.ResourceID,
		Format:              formatSelector(opts.Format, opts.MaxHeight),
		OutputTemplate:      outputTemplate(opts.OutputDir, job.OutputNameHint),
		Subtitles:           opts.Subtitles,
		Playlist:            opts.Playlist,
		ConcurrentFragments: clampFragments(opts.ThreadCount),
		RateLimit:           opts.RateLimit,
		ProxyURL:            opts.ProxyURL,
	}

	if opts.Format == types.FormatAudioOnly {
		req.ExtractAudio = &AudioPostProcess{
			Codec:      opts.Audio.Codec,
			Bitrate:    opts.Audio.Bitrate,
			SampleRate: opts.Audio.SampleRate,
			Channels:   opts.Audio.Channels,
		}
	} else {
		req.MergeFormat = mergeOutputFormat
	}

	return req
}

func formatSelector(kind types.FormatKind, maxHeight int) string {
	switch kind {
	case types.FormatVideoOnly:
		if maxHeight > 0 {
			return fmt.Sprintf("bestvideo[height<=%d]", maxHeight)
		}
		return "bestvideo"
	case types.FormatAudioOnly:
		return "bestaudio"
	default:
		if maxHeight > 0 {
			return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", maxHeight, maxHeight)
		}
		return "bestvideo+bestaudio/best"
	}
}

func outputTemplate(outputDir, hint string) string {
	name := defaultOutputTemplate
	if hint = sanitizeName(hint); hint != "" {
		name = hint + ".%(ext)s"
	}
	if outputDir == "" {
		return name
	}
	return filepath.Join(outputDir, name)
}

// sanitizeName keeps a user supplied name from escaping the output
// directory or being read as a template field
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "%", "%%", "..", "_")
	return replacer.Replace(name)
}

func clampFragments(n int) int {
	if n < types.MinThreadCount {
		return types.MinThreadCount
	}
	if n > types.MaxThreadCount {
		return types.MaxThreadCount
	}
	return n
}

// Execute runs job to completion and returns its terminal result. Events are
// written to events in order, the TerminalEvent is always the last one, and
// events is closed before Execute returns. Execute blocks, so the runner
// calls it on a goroutine of its own.
func (e *Executor) Execute(ctx context.Context, job types.Job, events chan<- types.JobEvent) types.TerminalResult {
	defer close(events)

	sink := newJobSink(job.ID, events)
	req := BuildRequest(job)
	req.IgnoreErrors = e.IgnoreErrors

	sink.Phase(types.PhaseDownloading, fmt.Sprintf("Initializing download with %d threads...", req.ConcurrentFragments))

	result, err := e.backend.Extract(ctx, req, sink)
	terminal := e.resolve(ctx, job, result, err, sink)

	sink.seal()
	events <- types.TerminalEvent{JobID: job.ID, Result: terminal}
	return terminal
}

// resolve decides the terminal result. It runs before the sink is sealed so
// completion messages still reach the runner.
func (e *Executor) resolve(ctx context.Context, job types.Job, result ExtractResult, err error, sink *jobSink) types.TerminalResult {
	if ctx.Err() != nil && err != nil {
		execLog.Emit(logger.STOP, "job %s (%s) cancelled\n", job.ID, job.ResourceID)
		return types.Failure(fmt.Errorf("%w: %v", types.ErrJobCancelled, err))
	}

	if err != nil {
		var backendErr *types.BackendError
		if !errors.As(err, &backendErr) {
			err = &types.BackendError{ResourceID: job.ResourceID, Err: err}
		}
		if e.errorLog != nil {
			e.errorLog.Record(types.ErrorRecord{
				ResourceID: job.ResourceID,
				Message:    err.Error(),
				Timestamp:  time.Now(),
			})
		}
		execLog.Emit(logger.ERROR, "job %s (%s) failed: %v\n", job.ID, job.ResourceID, err)
		return types.Failure(err)
	}

	sink.Phase(types.PhaseFinished, "Finished downloading "+displayName(result.OutputPath, job.ResourceID))
	if e.metadata != nil && result.OutputPath != "" && e.metadata.IsAudio(result.OutputPath) {
		if desc := describeMetadata(e.metadata.ReadAudioMetadata(result.OutputPath)); desc != "" {
			sink.Phase(types.PhaseFinished, "Saved "+desc)
		}
	}

	execLog.Emit(logger.SUCCESS, "job %s (%s) completed\n", job.ID, job.ResourceID)
	return types.Success()
}

func displayName(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return filepath.Base(path)
}

// jobSink is the BackendSink handed to the backend for one job. It rebases
// byte counts when the backend moves on to another file (after a finished
// snapshot or on a filename change) so BytesDone never goes backwards, and
// drops anything published after seal.
type jobSink struct {
	mu     sync.Mutex
	jobID  string
	events chan<- types.JobEvent
	sealed bool

	base         int64 // bytes of files already finished
	lastRaw      int64
	lastTotal    int64
	lastDone     int64
	lastFile     string
	lastFinished bool
}

func newJobSink(jobID string, events chan<- types.JobEvent) *jobSink {
	return &jobSink{jobID: jobID, events: events}
}

func (s *jobSink) Progress(p types.ProgressSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}

	// A rewind inside one file (fragment retry) is not a new file
	newFile := (s.lastFinished && p.BytesDone < s.lastRaw) ||
		(p.Filename != "" && s.lastFile != "" && p.Filename != s.lastFile)
	if newFile {
		finished := s.lastTotal
		if finished < s.lastRaw {
			finished = s.lastRaw
		}
		s.base += finished
	}
	s.lastRaw = p.BytesDone
	s.lastTotal = p.BytesTotal
	s.lastFinished = p.Phase == types.PhaseFinished
	if p.Filename != "" {
		s.lastFile = p.Filename
	}

	snap := p
	snap.BytesDone = s.base + p.BytesDone
	if p.BytesTotal > 0 {
		snap.BytesTotal = s.base + p.BytesTotal
	}
	if snap.BytesDone < s.lastDone {
		return
	}
	s.lastDone = snap.BytesDone

	s.events <- types.ProgressEvent{JobID: s.jobID, Snapshot: snap}
}

func (s *jobSink) Phase(phase types.Phase, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}
	s.events <- types.PhaseEvent{JobID: s.jobID, Phase: phase, Message: message}
}

func (s *jobSink) seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}
