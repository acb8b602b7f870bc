package types

// Phase is the stage a running job is in
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseConverting  Phase = "converting"
	PhaseFinished    Phase = "finished"
)

// ProgressSnapshot is a point-in-time measurement of a running job.
// Zero values for BytesTotal, Rate and ETASeconds mean unknown.
type ProgressSnapshot struct {
	Phase      Phase   `json:"phase"`
	BytesDone  int64   `json:"bytesDone"`
	BytesTotal int64   `json:"bytesTotal"`
	Rate       float64 `json:"rate"`
	ETASeconds int64   `json:"etaSeconds"`
	Filename   string  `json:"filename,omitempty"`
}

// Percent returns completion in the 0-100 range, or 0 when the total is unknown
func (p ProgressSnapshot) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := float64(p.BytesDone) / float64(p.BytesTotal) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Outcome is the kind of terminal result a job reached
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// TerminalResult ends a job's lifecycle. Err is set only for OutcomeFailure.
type TerminalResult struct {
	Outcome Outcome
	Err     error
}

func Success() TerminalResult { return TerminalResult{Outcome: OutcomeSuccess} }

func Failure(err error) TerminalResult {
	return TerminalResult{Outcome: OutcomeFailure, Err: err}
}

// JobEvent is an event published by a running job. The set of
// implementations is closed: ProgressEvent, PhaseEvent and TerminalEvent.
type JobEvent interface {
	jobEvent()
}

type (
	ProgressEvent struct {
		JobID    string
		Snapshot ProgressSnapshot
	}

	PhaseEvent struct {
		JobID   string
		Phase   Phase
		Message string
	}

	TerminalEvent struct {
		JobID  string
		Result TerminalResult
	}
)

func (ProgressEvent) jobEvent() {}
func (PhaseEvent) jobEvent()    {}
func (TerminalEvent) jobEvent() {}

// JobProgress is what observers receive for every progress snapshot
type JobProgress struct {
	JobID      string           `json:"jobId"`
	ResourceID string           `json:"resourceId"`
	Index      int              `json:"index"`
	Total      int              `json:"total"`
	Snapshot   ProgressSnapshot `json:"snapshot"`
}

// JobFailure is what observers receive when a job fails
type JobFailure struct {
	JobID      string `json:"jobId"`
	ResourceID string `json:"resourceId"`
	Message    string `json:"message"`
}
