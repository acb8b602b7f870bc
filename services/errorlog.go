package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytbatch/types"
)

const (
	errorLogSeparator = "--------------------------------------------------"
	errorLogTimeFmt   = time.RFC3339Nano
)

// ErrorSink is a durable destination for the serialised error log. Write
// must replace whatever the sink held before.
type ErrorSink interface {
	Write(ctx context.Context, data []byte) error
	Describe() string
}

// ErrorLog is the append-only record of failed jobs. Record may be called
// from job goroutines while other goroutines read or flush.
type ErrorLog struct {
	mu      sync.Mutex
	entries []types.ErrorRecord

	flushMu sync.Mutex
	sink    ErrorSink
}

// NewErrorLog creates an empty log flushing to sink. A nil sink keeps the
// log in memory only.
func NewErrorLog(sink ErrorSink) *ErrorLog {
	return &ErrorLog{sink: sink}
}

// Record appends an entry, stamping it with the current time when unset
func (l *ErrorLog) Record(entry types.ErrorRecord) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the log in append order
func (l *ErrorLog) Entries() []types.ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.ErrorRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the in-memory log. It does not flush.
func (l *ErrorLog) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// FlushToStorage overwrites the sink with the full current log. The snapshot
// and the write happen under one lock so two concurrent flushes cannot leave
// an older snapshot in the sink.
func (l *ErrorLog) FlushToStorage(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	data := FormatErrorLog(l.Entries())
	if err := l.sink.Write(ctx, data); err != nil {
		return &types.IOError{Op: "flush error log", Path: l.sink.Describe(), Err: err}
	}
	return nil
}

// FormatErrorLog renders records in the error log file format
func FormatErrorLog(records []types.ErrorRecord) []byte {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "Time: %s\n", r.Timestamp.Format(errorLogTimeFmt))
		fmt.Fprintf(&b, "URL: %s\n", r.ResourceID)
		fmt.Fprintf(&b, "Error: %s\n", flattenMessage(r.Message))
		b.WriteString(errorLogSeparator + "\n")
	}
	return []byte(b.String())
}

// ParseErrorLog reads back the output of FormatErrorLog
func ParseErrorLog(r io.Reader) ([]types.ErrorRecord, error) {
	var (
		records []types.ErrorRecord
		current types.ErrorRecord
		line    int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line++
		text := scanner.Text()
		switch {
		case text == errorLogSeparator:
			records = append(records, current)
			current = types.ErrorRecord{}
		case strings.HasPrefix(text, "Time: "):
			ts, err := time.Parse(errorLogTimeFmt, strings.TrimPrefix(text, "Time: "))
			if err != nil {
				return nil, fmt.Errorf("line %d: bad timestamp: %w", line, err)
			}
			current.Timestamp = ts
		case strings.HasPrefix(text, "URL: "):
			current.ResourceID = strings.TrimPrefix(text, "URL: ")
		case strings.HasPrefix(text, "Error: "):
			current.Message = strings.TrimPrefix(text, "Error: ")
		case strings.TrimSpace(text) == "":
		default:
			return nil, fmt.Errorf("line %d: unexpected content %q", line, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// flattenMessage keeps each record's message on its Error: line; backend
// errors often carry multi-line stderr output.
func flattenMessage(msg string) string {
	lines := strings.FieldsFunc(msg, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, " | ")
}

// FileSink writes the error log to a plain text file
type FileSink struct {
	Path string
}

func (s *FileSink) Write(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0644)
}

func (s *FileSink) Describe() string { return s.Path }
