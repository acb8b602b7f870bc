package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"ytbatch/logger"
	"ytbatch/types"
)

var runLog = logger.Get("Runner")

const (
	DefaultSuccessDelay = 2 * time.Second
	DefaultFailureDelay = 1 * time.Second

	jobEventBuffer = 64
)

// JobExecutor runs one job, publishing its events on the channel it is
// given. Implementations must send exactly one TerminalEvent, last, and
// close the channel afterwards.
type JobExecutor interface {
	Execute(ctx context.Context, job types.Job, events chan<- types.JobEvent) types.TerminalResult
}

// Listener receives the runner's lifecycle notifications. Methods are called
// from the runner's control goroutine and must not block.
type Listener interface {
	RunStarted(runID string, mode types.RunMode, total int)
	JobStarted(job types.Job, index, total int)
	JobProgress(job types.Job, index, total int, snapshot types.ProgressSnapshot)
	JobPhase(job types.Job, phase types.Phase, message string)
	JobSucceeded(job types.Job)
	JobFailed(job types.Job, err error)
	JobAbandoned(job types.Job)
	CancelRequested(job *types.Job)
	RunFinished(mode types.RunMode, summary types.BatchSummary)
}

// RunnerConfig holds the debounce delays used between queued jobs
type RunnerConfig struct {
	SuccessDelay time.Duration
	FailureDelay time.Duration
}

type activeJob struct {
	job    types.Job
	cancel context.CancelFunc
	events <-chan types.JobEvent
}

// Runner executes queued jobs one at a time. All of its state is owned by a
// single control goroutine; the exported methods hand work to that goroutine
// and wait for it to be applied.
type Runner struct {
	executor JobExecutor
	listener Listener
	config   RunnerConfig

	cmds      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Everything below is only touched by the control goroutine
	state     types.RunnerState
	mode      types.RunMode
	runID     string
	pending   []types.Job
	queue     []types.Job
	index     int
	total     int
	succeeded int
	failed    int
	phase     types.Phase
	active    *activeJob
	timer     *time.Timer
	timerC    <-chan time.Time
	waiters   []chan struct{}
}

// NewRunner creates a runner and starts its control goroutine. Close stops it.
func NewRunner(executor JobExecutor, listener Listener, config RunnerConfig) *Runner {
	if config.SuccessDelay <= 0 {
		config.SuccessDelay = DefaultSuccessDelay
	}
	if config.FailureDelay <= 0 {
		config.FailureDelay = DefaultFailureDelay
	}
	if listener == nil {
		listener = nopListener{}
	}

	r := &Runner{
		executor: executor,
		listener: listener,
		config:   config,
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		state:    types.StateIdle,
	}
	go r.loop()

	return r
}

// ValidateJob rejects jobs that must never be queued
func ValidateJob(job types.Job) error {
	if strings.TrimSpace(job.ResourceID) == "" {
		return &types.ValidationError{Field: "resource id", Reason: "must not be empty"}
	}
	// The id is written on a single line of the error log
	if i := strings.IndexFunc(job.ResourceID, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return &types.ValidationError{Field: "resource id", Reason: fmt.Sprintf("must not contain whitespace or control characters (offset %d)", i)}
	}
	return nil
}

// Enqueue appends a job. While idle the job waits for Start; while running a
// batch it extends that batch. Anything else is rejected with ErrRunnerBusy.
func (r *Runner) Enqueue(job types.Job) error {
	if err := ValidateJob(job); err != nil {
		return err
	}

	var err error
	if doErr := r.do(func() { err = r.enqueue(job) }); doErr != nil {
		return doErr
	}
	return err
}

// Start begins executing the queued jobs. It does nothing when the queue is
// empty or a run is already in progress.
func (r *Runner) Start(mode types.RunMode) error {
	var err error
	if doErr := r.do(func() { err = r.start(mode) }); doErr != nil {
		return doErr
	}
	return err
}

// Submit validates jobs and then enqueues and starts them in one step, so no
// other caller can interleave. Submitting a batch while a batch is running
// extends it.
func (r *Runner) Submit(mode types.RunMode, jobs []types.Job) error {
	if len(jobs) == 0 {
		return &types.ValidationError{Field: "jobs", Reason: "nothing to submit"}
	}
	if mode == types.RunModeSingle && len(jobs) != 1 {
		return &types.ValidationError{Field: "jobs", Reason: "single mode takes exactly one job"}
	}
	for _, job := range jobs {
		if err := ValidateJob(job); err != nil {
			return err
		}
	}

	var err error
	doErr := r.do(func() {
		switch {
		case r.state == types.StateIdle:
			if len(r.pending) > 0 && mode == types.RunModeSingle {
				err = types.ErrRunnerBusy
				return
			}
			r.pending = append(r.pending, jobs...)
			err = r.start(mode)
		case r.state == types.StateRunning && r.mode == types.RunModeBatch && mode == types.RunModeBatch:
			r.queue = append(r.queue, jobs...)
			runLog.Emit(logger.NEW, "extended run %s by %d job(s), now %d\n", r.runID, len(jobs), len(r.queue))
		default:
			err = types.ErrRunnerBusy
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Cancel stops the run. The active job is asked to stop and the rest of the
// queue is discarded once it has reached a terminal state.
func (r *Runner) Cancel() error {
	var err error
	if doErr := r.do(func() { err = r.cancel() }); doErr != nil {
		return doErr
	}
	return err
}

// Status returns a snapshot of the runner's counters
func (r *Runner) Status() types.Status {
	var status types.Status
	if err := r.do(func() { status = r.status() }); err != nil {
		return types.Status{State: types.StateIdle}
	}
	return status
}

// WaitIdle blocks until the runner is idle or ctx is done
func (r *Runner) WaitIdle(ctx context.Context) error {
	ch := make(chan struct{})
	if err := r.do(func() {
		if r.state == types.StateIdle {
			close(ch)
			return
		}
		r.waiters = append(r.waiters, ch)
	}); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return types.ErrRunnerClosed
	}
}

// Close stops the control goroutine. An active job is cancelled and its
// remaining events are discarded.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	<-r.stopped
}

func (r *Runner) do(fn func()) error {
	done := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(done) }:
	case <-r.stopped:
		return types.ErrRunnerClosed
	}
	<-done
	return nil
}

func (r *Runner) loop() {
	defer close(r.stopped)

	for {
		var events <-chan types.JobEvent
		if r.active != nil {
			events = r.active.events
		}

		select {
		case fn := <-r.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				// The executor closed the channel without a terminal event
				r.handleTerminal(types.Failure(errors.New("job ended without a result")))
				continue
			}
			r.handleEvent(ev)
		case <-r.timerC:
			r.timer, r.timerC = nil, nil
			r.launch()
		case <-r.quit:
			r.shutdown()
			return
		}
	}
}

func (r *Runner) enqueue(job types.Job) error {
	switch {
	case r.state == types.StateIdle:
		r.pending = append(r.pending, job)
	case r.state == types.StateRunning && r.mode == types.RunModeBatch:
		r.queue = append(r.queue, job)
	default:
		return types.ErrRunnerBusy
	}
	return nil
}

func (r *Runner) start(mode types.RunMode) error {
	if r.state != types.StateIdle || len(r.pending) == 0 {
		return nil
	}
	if mode == types.RunModeSingle && len(r.pending) != 1 {
		return &types.ValidationError{Field: "mode", Reason: fmt.Sprintf("single mode needs exactly one queued job, have %d", len(r.pending))}
	}

	r.queue, r.pending = r.pending, nil
	r.mode = mode
	r.runID = uuid.NewString()
	r.index = 0
	r.succeeded = 0
	r.failed = 0
	r.phase = ""
	r.state = types.StateRunning

	runLog.Emit(logger.INFO, "starting %s run %s with %d job(s)\n", mode, r.runID, len(r.queue))
	r.listener.RunStarted(r.runID, mode, len(r.queue))
	r.launch()
	return nil
}

// launch starts the job at the current index on its own goroutine
func (r *Runner) launch() {
	if r.state != types.StateRunning {
		return
	}
	if r.active != nil || r.index < 0 || r.index >= len(r.queue) {
		panic(fmt.Sprintf("runner: launch with invalid state (index %d, queue %d, active %t)", r.index, len(r.queue), r.active != nil))
	}

	job := r.queue[r.index]
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan types.JobEvent, jobEventBuffer)
	r.active = &activeJob{job: job, cancel: cancel, events: events}
	r.phase = types.PhaseDownloading

	runLog.Emit(logger.NEW, "job %d/%d: %s\n", r.index+1, len(r.queue), job.ResourceID)
	r.listener.JobStarted(job, r.index+1, len(r.queue))

	go r.executor.Execute(ctx, job, events)
}

func (r *Runner) handleEvent(ev types.JobEvent) {
	job := r.active.job

	switch e := ev.(type) {
	case types.ProgressEvent:
		if e.JobID != job.ID {
			return
		}
		r.phase = e.Snapshot.Phase
		r.listener.JobProgress(job, r.index+1, len(r.queue), e.Snapshot)
	case types.PhaseEvent:
		if e.JobID != job.ID {
			return
		}
		r.phase = e.Phase
		r.listener.JobPhase(job, e.Phase, e.Message)
	case types.TerminalEvent:
		if e.JobID != job.ID {
			return
		}
		r.handleTerminal(e.Result)
	}
}

func (r *Runner) handleTerminal(result types.TerminalResult) {
	job := r.active.job
	r.active.cancel()
	r.active = nil

	abandoned := result.Outcome == types.OutcomeFailure && errors.Is(result.Err, types.ErrJobCancelled)
	switch {
	case result.Outcome == types.OutcomeSuccess:
		r.succeeded++
		r.listener.JobSucceeded(job)
	case abandoned:
		r.listener.JobAbandoned(job)
	default:
		r.failed++
		r.listener.JobFailed(job, result.Err)
	}

	if r.state == types.StateCancelling {
		r.finishRun(true)
		return
	}

	r.index++
	if r.mode == types.RunModeSingle || r.index >= len(r.queue) {
		r.finishRun(false)
		return
	}

	delay := r.config.SuccessDelay
	if result.Outcome != types.OutcomeSuccess {
		delay = r.config.FailureDelay
	}
	r.timer = time.NewTimer(delay)
	r.timerC = r.timer.C
}

func (r *Runner) cancel() error {
	if r.state != types.StateRunning {
		return types.ErrNotRunning
	}

	if r.active == nil {
		// Between jobs: nothing to wait for
		r.listener.CancelRequested(nil)
		r.finishRun(true)
		return nil
	}

	r.state = types.StateCancelling
	job := r.active.job
	runLog.Emit(logger.STOP, "cancelling job %s (%s)\n", job.ID, job.ResourceID)
	r.listener.CancelRequested(&job)
	r.active.cancel()
	return nil
}

func (r *Runner) finishRun(cancelled bool) {
	r.stopTimer()

	summary := types.BatchSummary{
		RunID:     r.runID,
		Total:     len(r.queue),
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Cancelled: cancelled,
	}

	r.total = len(r.queue)
	if r.index > r.total {
		r.index = r.total
	}
	r.queue = nil
	r.state = types.StateIdle
	r.phase = ""

	runLog.Emit(logger.SUCCESS, "run %s finished: %d succeeded, %d failed (cancelled: %t)\n", summary.RunID, summary.Succeeded, summary.Failed, cancelled)
	r.listener.RunFinished(r.mode, summary)

	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}

func (r *Runner) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer, r.timerC = nil, nil
}

func (r *Runner) status() types.Status {
	status := types.Status{
		State:     r.state,
		Mode:      r.mode,
		Phase:     r.phase,
		Index:     r.index,
		Total:     r.total,
		Succeeded: r.succeeded,
		Failed:    r.failed,
	}
	if r.state != types.StateIdle {
		status.Total = len(r.queue)
		if r.active != nil {
			status.Index = r.index + 1
		}
	}
	return status
}

func (r *Runner) shutdown() {
	r.stopTimer()
	if r.active != nil {
		r.active.cancel()
		events := r.active.events
		go func() {
			for range events {
			}
		}()
		r.active = nil
	}
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
	r.state = types.StateIdle
}

type nopListener struct{}

func (nopListener) RunStarted(string, types.RunMode, int)                   {}
func (nopListener) JobStarted(types.Job, int, int)                          {}
func (nopListener) JobProgress(types.Job, int, int, types.ProgressSnapshot) {}
func (nopListener) JobPhase(types.Job, types.Phase, string)                 {}
func (nopListener) JobSucceeded(types.Job)                                  {}
func (nopListener) JobFailed(types.Job, error)                              {}
func (nopListener) JobAbandoned(types.Job)                                  {}
func (nopListener) CancelRequested(*types.Job)                              {}
func (nopListener) RunFinished(types.RunMode, types.BatchSummary)           {}
