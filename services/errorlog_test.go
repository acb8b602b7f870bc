package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch/types"
)

type memorySink struct {
	mu     sync.Mutex
	data   []byte
	writes int
	err    error
}

func (s *memorySink) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data = append([]byte(nil), data...)
	s.writes++
	return nil
}

func (s *memorySink) Describe() string { return "memory" }

func (s *memorySink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func TestErrorLog_FormatAndParseRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	records := []types.ErrorRecord{
		{ResourceID: "https://example.com/a", Message: "HTTP Error 403: Forbidden", Timestamp: base},
		{ResourceID: "https://example.com/b", Message: "Video unavailable", Timestamp: base.Add(time.Second)},
	}

	data := FormatErrorLog(records)
	assert.True(t, strings.HasPrefix(string(data), "Time: 2024-03-01T12:30:00.123456789Z\nURL: https://example.com/a\nError: HTTP Error 403: Forbidden\n"+errorLogSeparator+"\n"))

	parsed, err := ParseErrorLog(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	for i := range records {
		assert.Equal(t, records[i].ResourceID, parsed[i].ResourceID)
		assert.Equal(t, records[i].Message, parsed[i].Message)
		assert.True(t, records[i].Timestamp.Equal(parsed[i].Timestamp))
	}
}

func TestErrorLog_MultilineMessagesStayOnOneLine(t *testing.T) {
	records := []types.ErrorRecord{{ResourceID: "u", Message: "first\nsecond\r\nthird", Timestamp: time.Now()}}

	parsed, err := ParseErrorLog(bytes.NewReader(FormatErrorLog(records)))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "first | second | third", parsed[0].Message)
}

func TestParseErrorLog_RejectsGarbage(t *testing.T) {
	_, err := ParseErrorLog(strings.NewReader("Time: yesterday\n"))
	assert.Error(t, err)

	_, err = ParseErrorLog(strings.NewReader("hello\n"))
	assert.Error(t, err)
}

func TestErrorLog_ConcurrentRecordAndRead(t *testing.T) {
	log := NewErrorLog(&memorySink{})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Record(types.ErrorRecord{ResourceID: fmt.Sprintf("w%d-%d", w, i), Message: "boom"})
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = log.Entries()
			_ = log.FlushToStorage(context.Background())
		}
	}()
	wg.Wait()

	assert.Equal(t, 200, log.Len())
	for _, e := range log.Entries() {
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestErrorLog_EntriesReturnsCopy(t *testing.T) {
	log := NewErrorLog(nil)
	log.Record(types.ErrorRecord{ResourceID: "a"})

	entries := log.Entries()
	entries[0].ResourceID = "changed"
	assert.Equal(t, "a", log.Entries()[0].ResourceID)
}

func TestErrorLog_FlushOverwrites(t *testing.T) {
	sink := &memorySink{}
	log := NewErrorLog(sink)

	log.Record(types.ErrorRecord{ResourceID: "a", Message: "one"})
	require.NoError(t, log.FlushToStorage(context.Background()))
	log.Record(types.ErrorRecord{ResourceID: "b", Message: "two"})
	require.NoError(t, log.FlushToStorage(context.Background()))

	parsed, err := ParseErrorLog(bytes.NewReader(sink.Data()))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "a", parsed[0].ResourceID)
	assert.Equal(t, "b", parsed[1].ResourceID)
}

func TestErrorLog_ClearDoesNotFlush(t *testing.T) {
	sink := &memorySink{}
	log := NewErrorLog(sink)

	log.Record(types.ErrorRecord{ResourceID: "a"})
	require.NoError(t, log.FlushToStorage(context.Background()))
	log.Clear()

	assert.Equal(t, 0, log.Len())
	assert.Equal(t, 1, sink.writes)
	assert.NotEmpty(t, sink.Data())
}

func TestErrorLog_FlushFailureIsIOError(t *testing.T) {
	log := NewErrorLog(&memorySink{err: errors.New("disk full")})
	log.Record(types.ErrorRecord{ResourceID: "a"})

	err := log.FlushToStorage(context.Background())
	var ioErr *types.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "memory", ioErr.Path)
	assert.Equal(t, 1, log.Len(), "entries survive a failed flush")
}

func TestErrorLog_NilSinkFlushIsNoop(t *testing.T) {
	log := NewErrorLog(nil)
	log.Record(types.ErrorRecord{ResourceID: "a"})
	assert.NoError(t, log.FlushToStorage(context.Background()))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "errors.log")
	log := NewErrorLog(&FileSink{Path: path})
	log.Record(types.ErrorRecord{ResourceID: "a", Message: "boom"})

	require.NoError(t, log.FlushToStorage(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "URL: a\nError: boom\n")
}

func TestMultiSink(t *testing.T) {
	good := &memorySink{}
	bad := &memorySink{err: errors.New("offline")}
	sink := MultiSink{good, bad}

	err := sink.Write(context.Background(), []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	assert.Equal(t, []byte("data"), good.Data(), "a failing sink does not stop the others")
	assert.Equal(t, "memory, memory", sink.Describe())
}
