package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRunnerBusy is returned when a submission is not legal in the runner's current state
	ErrRunnerBusy = errors.New("runner is busy")

	// ErrNotRunning is returned by cancel when there is nothing to cancel
	ErrNotRunning = errors.New("runner is not running")

	// ErrJobCancelled marks a job failure caused by cancellation
	ErrJobCancelled = errors.New("job cancelled")

	// ErrRunnerClosed is returned once the runner's control loop has stopped
	ErrRunnerClosed = errors.New("runner closed")
)

// ValidationError rejects a submission before anything is queued
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BackendError is a failure reported by the extraction backend
type BackendError struct {
	ResourceID string
	ExitCode   int
	Err        error
}

func (e *BackendError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("backend failed for %s (exit %d): %v", e.ResourceID, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("backend failed for %s: %v", e.ResourceID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IOError wraps settings and log file failures
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
