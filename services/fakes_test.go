package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ytbatch/types"
)

// script describes what the fake backend does for one resource
type script struct {
	progress []types.ProgressSnapshot
	output   string
	err      error

	// block waits for release (or for ctx) before finishing
	block   bool
	release chan struct{}
	// succeedOnCancel reports success even when ctx was cancelled
	succeedOnCancel bool
}

type fakeBackend struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   []string
	started chan string
}

func newFakeBackend(scripts map[string]script) *fakeBackend {
	return &fakeBackend{
		scripts: scripts,
		started: make(chan string, 64),
	}
}

func (b *fakeBackend) Extract(ctx context.Context, req BackendRequest, sink BackendSink) (ExtractResult, error) {
	b.mu.Lock()
	s := b.scripts[req.ResourceID]
	b.calls = append(b.calls, req.ResourceID)
	b.mu.Unlock()

	b.started <- req.ResourceID

	for _, p := range s.progress {
		sink.Progress(p)
	}

	if s.block {
		select {
		case <-ctx.Done():
			if s.succeedOnCancel {
				return ExtractResult{OutputPath: s.output}, nil
			}
			return ExtractResult{}, errors.New("interrupted by user")
		case <-s.release:
		}
	}

	return ExtractResult{OutputPath: s.output}, s.err
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// recordingListener captures runner notifications as short strings such as
// "succeeded:a" and mirrors them on a channel tests can wait on
type recordingListener struct {
	mu        sync.Mutex
	events    []string
	progress  []types.ProgressSnapshot
	summaries []types.BatchSummary
	modes     []types.RunMode
	signal    chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{signal: make(chan string, 256)}
}

func (l *recordingListener) record(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	select {
	case l.signal <- event:
	default:
	}
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) Summaries() []types.BatchSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.BatchSummary(nil), l.summaries...)
}

func (l *recordingListener) Progress() []types.ProgressSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.ProgressSnapshot(nil), l.progress...)
}

func (l *recordingListener) RunStarted(runID string, mode types.RunMode, total int) {
	l.record(fmt.Sprintf("run:%s:%d", mode, total))
}

func (l *recordingListener) JobStarted(job types.Job, index, total int) {
	l.record(fmt.Sprintf("started:%s:%d/%d", job.ResourceID, index, total))
}

func (l *recordingListener) JobProgress(job types.Job, index, total int, snapshot types.ProgressSnapshot) {
	l.mu.Lock()
	l.progress = append(l.progress, snapshot)
	l.mu.Unlock()
	l.record("progress:" + job.ResourceID)
}

func (l *recordingListener) JobPhase(job types.Job, phase types.Phase, message string) {}

func (l *recordingListener) JobSucceeded(job types.Job) {
	l.record("succeeded:" + job.ResourceID)
}

func (l *recordingListener) JobFailed(job types.Job, err error) {
	l.record("failed:" + job.ResourceID)
}

func (l *recordingListener) JobAbandoned(job types.Job) {
	l.record("abandoned:" + job.ResourceID)
}

func (l *recordingListener) CancelRequested(job *types.Job) {
	l.record("cancel")
}

func (l *recordingListener) RunFinished(mode types.RunMode, summary types.BatchSummary) {
	l.mu.Lock()
	l.summaries = append(l.summaries, summary)
	l.modes = append(l.modes, mode)
	l.mu.Unlock()
	l.record("finished")
}

// waitFor blocks until want is signalled or the timeout expires
func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func waitStarted(t *testing.T, b *fakeBackend, want string) {
	t.Helper()
	waitFor(t, b.started, want)
}

func newJob(id, resource string) types.Job {
	return types.Job{ID: id, ResourceID: resource, Options: types.Options{ThreadCount: 4}}
}

func waitIdle(t *testing.T, r interface{ WaitIdle(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.WaitIdle(ctx); err != nil {
		t.Fatalf("runner did not become idle: %v", err)
	}
}

var fastDelays = RunnerConfig{SuccessDelay: 2 * time.Millisecond, FailureDelay: time.Millisecond}
