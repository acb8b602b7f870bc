package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"ytbatch/types"
)

// cliObserver renders orchestrator events on a terminal: one progress bar per
// job plus coloured status lines
type cliObserver struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	jobID string
	max   int64

	status  *color.Color
	failure *color.Color
	summary *color.Color
}

func newCLIObserver(out io.Writer) *cliObserver {
	return &cliObserver{
		out:     out,
		status:  color.New(color.FgCyan),
		failure: color.New(color.FgHiRed),
		summary: color.New(color.FgHiGreen, color.Bold),
	}
}

func (o *cliObserver) OnProgress(p types.JobProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	total := p.Snapshot.BytesTotal
	if total <= 0 {
		total = -1
	}

	if o.bar == nil || o.jobID != p.JobID {
		o.finishBar()
		o.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(o.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		o.jobID = p.JobID
		o.max = total
	} else if total != o.max {
		o.bar.ChangeMax64(total)
		o.max = total
	}

	desc := string(p.Snapshot.Phase)
	if p.Total > 1 {
		desc = fmt.Sprintf("[%d/%d] %s", p.Index, p.Total, desc)
	}
	o.bar.Describe(desc)
	o.bar.Set64(p.Snapshot.BytesDone)
}

func (o *cliObserver) OnStatus(jobID, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.clearBar()
	o.status.Fprintln(o.out, message)
}

func (o *cliObserver) OnJobError(f types.JobFailure) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finishBar()
	o.failure.Fprintf(o.out, "Error downloading %s: %s\n", f.ResourceID, f.Message)
}

func (o *cliObserver) OnBatchFinished(s types.BatchSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finishBar()
	if s.Cancelled {
		o.summary.Fprintf(o.out, "Batch cancelled: %d of %d succeeded, %d failed\n", s.Succeeded, s.Total, s.Failed)
		return
	}
	o.summary.Fprintf(o.out, "Batch finished: %d succeeded, %d failed\n", s.Succeeded, s.Failed)
}

func (o *cliObserver) clearBar() {
	if o.bar != nil {
		o.bar.Clear()
	}
}

func (o *cliObserver) finishBar() {
	if o.bar != nil {
		o.bar.Finish()
		o.bar = nil
		o.jobID = ""
	}
}
