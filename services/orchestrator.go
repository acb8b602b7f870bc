package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytbatch/logger"
	"ytbatch/types"
)

var orchLog = logger.Get("Orchestrator")

const flushTimeout = 10 * time.Second

// Observer receives everything the presentation layer needs to render a run.
// Callbacks are made from the runner's control goroutine and must return
// quickly and must not call back into the Orchestrator. jobID is empty for
// run-level status lines.
type Observer interface {
	OnProgress(progress types.JobProgress)
	OnStatus(jobID, message string)
	OnJobError(failure types.JobFailure)
	OnBatchFinished(summary types.BatchSummary)
}

// OptionsSource resolves the options a new job is created with
type OptionsSource interface {
	Options() types.Options
}

// StaticOptions is an OptionsSource that always returns the same options
type StaticOptions types.Options

func (o StaticOptions) Options() types.Options { return types.Options(o) }

// Orchestrator is the entry point used by the HTTP handlers and the CLI. It
// owns the runner and fans its lifecycle out to observers.
type Orchestrator struct {
	runner   *Runner
	errorLog *ErrorLog
	options  OptionsSource

	mu        sync.RWMutex
	observers []Observer

	flushReq  chan struct{}
	quit      chan struct{}
	flushDone chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator wires a runner around executor. errorLog must be the same
// log the executor records failures into.
func NewOrchestrator(executor JobExecutor, errorLog *ErrorLog, options OptionsSource, config RunnerConfig) *Orchestrator {
	if errorLog == nil {
		errorLog = NewErrorLog(nil)
	}
	if options == nil {
		options = StaticOptions{}
	}

	o := &Orchestrator{
		errorLog:  errorLog,
		options:   options,
		flushReq:  make(chan struct{}, 1),
		quit:      make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	o.runner = NewRunner(executor, o, config)
	go o.flushLoop()

	return o
}

// AddObserver registers an observer for all future events
func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

// RemoveObserver unregisters a previously added observer
func (o *Orchestrator) RemoveObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.observers {
		if existing == obs {
			o.observers = append(o.observers[:i], o.observers[i+1:]...)
			return
		}
	}
}

// SubmitSingle runs one resource on its own. It is rejected with
// ErrRunnerBusy while anything else is running.
func (o *Orchestrator) SubmitSingle(resourceID, outputName string) (types.Job, error) {
	job := o.newJob(resourceID, outputName, "")
	if err := o.runner.Submit(types.RunModeSingle, []types.Job{job}); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

// SubmitBatch queues entries as one batch. If a batch is already running the
// entries extend it. The whole submission is rejected when any entry is
// invalid.
func (o *Orchestrator) SubmitBatch(entries []types.ImportEntry) ([]types.Job, error) {
	if len(entries) == 0 {
		return nil, &types.ValidationError{Field: "urls", Reason: "at least one url is required"}
	}

	jobs := make([]types.Job, 0, len(entries))
	for i, entry := range entries {
		job := o.newJob(entry.URL, entry.EpisodeID, entry.EpisodeID)
		var validationErr *types.ValidationError
		if err := ValidateJob(job); errors.As(err, &validationErr) {
			return nil, &types.ValidationError{Field: fmt.Sprintf("urls[%d]", i), Reason: validationErr.Reason}
		}
		jobs = append(jobs, job)
	}

	if err := o.runner.Submit(types.RunModeBatch, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelCurrent cancels the active run
func (o *Orchestrator) CancelCurrent() error {
	return o.runner.Cancel()
}

// CurrentStatus returns the runner's counters
func (o *Orchestrator) CurrentStatus() types.Status {
	return o.runner.Status()
}

// Errors returns a copy of the error log
func (o *Orchestrator) Errors() []types.ErrorRecord {
	return o.errorLog.Entries()
}

// ClearErrors empties the in-memory error log
func (o *Orchestrator) ClearErrors() {
	o.errorLog.Clear()
}

// FlushErrors writes the error log to its sink now
func (o *Orchestrator) FlushErrors(ctx context.Context) error {
	return o.errorLog.FlushToStorage(ctx)
}

// WaitIdle blocks until no run is active
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	return o.runner.WaitIdle(ctx)
}

// Close stops the runner and performs a final flush of the error log
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.runner.Close()
		close(o.quit)
		<-o.flushDone

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := o.errorLog.FlushToStorage(ctx); err != nil {
			orchLog.Emit(logger.WARNING, "final error log flush failed: %v\n", err)
		}
	})
}

func (o *Orchestrator) newJob(resourceID, outputName, episodeID string) types.Job {
	return types.Job{
		ID:             uuid.NewString(),
		ResourceID:     strings.TrimSpace(resourceID),
		OutputNameHint: strings.TrimSpace(outputName),
		EpisodeID:      episodeID,
		Options:        o.options.Options(),
		CreatedAt:      time.Now(),
	}
}

// requestFlush asks the flush goroutine for a flush. Requests made while one
// is pending are coalesced.
func (o *Orchestrator) requestFlush() {
	select {
	case o.flushReq <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) flushLoop() {
	defer close(o.flushDone)
	for {
		select {
		case <-o.flushReq:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			err := o.errorLog.FlushToStorage(ctx)
			cancel()
			if err != nil {
				orchLog.Emit(logger.WARNING, "%v\n", err)
				o.status("", "Warning: could not save error log: "+err.Error())
			}
		case <-o.quit:
			return
		}
	}
}

func (o *Orchestrator) each(fn func(Observer)) {
	o.mu.RLock()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.RUnlock()

	for _, obs := range observers {
		fn(obs)
	}
}

func (o *Orchestrator) status(jobID, message string) {
	o.each(func(obs Observer) { obs.OnStatus(jobID, message) })
}

// Listener implementation. These run on the runner's control goroutine.

func (o *Orchestrator) RunStarted(runID string, mode types.RunMode, total int) {
	if mode == types.RunModeBatch {
		o.status("", fmt.Sprintf("Starting batch of %d download(s)", total))
	}
}

func (o *Orchestrator) JobStarted(job types.Job, index, total int) {
	if total > 1 {
		o.status(job.ID, fmt.Sprintf("Starting download %d of %d", index, total))
	}
	o.status(job.ID, "URL: "+job.ResourceID)
}

func (o *Orchestrator) JobProgress(job types.Job, index, total int, snapshot types.ProgressSnapshot) {
	progress := types.JobProgress{
		JobID:      job.ID,
		ResourceID: job.ResourceID,
		Index:      index,
		Total:      total,
		Snapshot:   snapshot,
	}
	o.each(func(obs Observer) { obs.OnProgress(progress) })
}

func (o *Orchestrator) JobPhase(job types.Job, phase types.Phase, message string) {
	if message == "" {
		return
	}
	o.status(job.ID, message)
}

func (o *Orchestrator) JobSucceeded(job types.Job) {
	o.status(job.ID, "Download completed successfully!")
}

func (o *Orchestrator) JobFailed(job types.Job, err error) {
	failure := types.JobFailure{
		JobID:      job.ID,
		ResourceID: job.ResourceID,
		Message:    errorMessage(err),
	}
	o.each(func(obs Observer) { obs.OnJobError(failure) })
	o.requestFlush()
}

func (o *Orchestrator) JobAbandoned(job types.Job) {
	o.status(job.ID, "Download cancelled")
}

func (o *Orchestrator) CancelRequested(job *types.Job) {
	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	o.status(jobID, "Cancelling download...")
}

func (o *Orchestrator) RunFinished(mode types.RunMode, summary types.BatchSummary) {
	if mode == types.RunModeBatch {
		switch {
		case summary.Cancelled:
			o.status("", "Batch cancelled")
		case summary.Failed > 0:
			o.status("", fmt.Sprintf("All downloads completed! %d succeeded, %d failed", summary.Succeeded, summary.Failed))
		default:
			o.status("", "All downloads completed!")
		}
		o.each(func(obs Observer) { obs.OnBatchFinished(summary) })
	}
	o.requestFlush()
}

// FormatRate renders a transfer rate such as "2.1 MB/s"
func FormatRate(bytesPerSec float64) string {
	const unit = 1024.0
	if bytesPerSec <= 0 {
		return ""
	}
	if bytesPerSec < unit {
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	}
	value, suffix := bytesPerSec/unit, "KB/s"
	for _, next := range []string{"MB/s", "GB/s"} {
		if value < unit {
			break
		}
		value, suffix = value/unit, next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
