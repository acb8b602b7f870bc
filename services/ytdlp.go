package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"ytbatch/logger"
	"ytbatch/types"
)

var ytdlpLog = logger.Get("yt-dlp")

// progressPrefix tags the machine readable progress lines requested through
// --progress-template so they can be told apart from regular output
const progressPrefix = "[ytbatch]"

const progressTemplate = "download:" + progressPrefix +
	" %(progress.status)s %(progress.downloaded_bytes)s %(progress.total_bytes)s" +
	" %(progress.total_bytes_estimate)s %(progress.speed)s %(progress.eta)s %(progress.filename)s"

// Output prefixes of yt-dlp post-processors that transform the downloaded file
var postProcessorPrefixes = []string{
	"[Merger]",
	"[ExtractAudio]",
	"[VideoConvertor]",
	"[VideoRemuxer]",
	"[FixupM3u8]",
	"[FixupStretched]",
	"[FixupM4a]",
	"[FixupDuplicateMoov]",
	"[EmbedSubtitle]",
	"[Metadata]",
}

// YtdlpBackend runs the yt-dlp executable as a subprocess
type YtdlpBackend struct {
	Binary string
}

// NewYtdlpBackend creates a backend for the given yt-dlp binary
func NewYtdlpBackend(binary string) *YtdlpBackend {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &YtdlpBackend{Binary: binary}
}

// CheckDependencies reports whether yt-dlp and ffmpeg can be found on PATH
func (b *YtdlpBackend) CheckDependencies() error {
	if _, err := exec.LookPath(b.Binary); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", b.Binary)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("missing dependency: ffmpeg is required for merging and audio extraction and was not found on PATH")
	}
	return nil
}

// Extract downloads req.ResourceID. Cancelling ctx sends an interrupt to
// yt-dlp and then waits for it to exit by itself.
func (b *YtdlpBackend) Extract(ctx context.Context, req BackendRequest, sink BackendSink) (ExtractResult, error) {
	args, err := BuildArgs(req)
	if err != nil {
		return ExtractResult{}, err
	}

	cmd := exec.CommandContext(ctx, b.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return ExtractResult{}, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return ExtractResult{}, fmt.Errorf("setup stderr pipe: %w", err)
	}

	ytdlpLog.Emit(logger.DEBUG, "running %s %s\n", b.Binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return ExtractResult{}, fmt.Errorf("start %s: %w", b.Binary, err)
	}

	parser := &outputParser{sink: sink}
	var errBuf strings.Builder
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, parser.handle)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, func(line string) {
			ytdlpLog.Emit(logger.VERBOSE, "%s\n", line)
			appendLimited(&errBuf, line)
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		msg := lastErrorLine(errBuf.String())
		if msg == "" {
			msg = err.Error()
		}
		return ExtractResult{OutputPath: parser.destination}, &types.BackendError{
			ResourceID: req.ResourceID,
			ExitCode:   exitCode,
			Err:        errors.New(msg),
		}
	}

	return ExtractResult{OutputPath: parser.destination}, nil
}

// BuildArgs translates a request into a yt-dlp argument list
func BuildArgs(req BackendRequest) ([]string, error) {
	if strings.TrimSpace(req.ResourceID) == "" {
		return nil, &types.ValidationError{Field: "resource id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.OutputTemplate) == "" {
		return nil, &types.ValidationError{Field: "output template", Reason: "must not be empty"}
	}

	args := []string{
		"--newline",
		"--progress",
		"--progress-template", progressTemplate,
		"-f", req.Format,
		"-o", req.OutputTemplate,
	}

	if req.ConcurrentFragments > 0 {
		args = append(args, "-N", strconv.Itoa(req.ConcurrentFragments))
	}
	if req.Playlist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	if req.Subtitles {
		args = append(args, "--write-subs")
	}
	if req.RateLimit > 0 {
		args = append(args, "--limit-rate", strconv.FormatInt(req.RateLimit, 10))
	}
	if strings.TrimSpace(req.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(req.ProxyURL))
	}
	if req.IgnoreErrors {
		args = append(args, "--ignore-errors")
	}

	if pp := req.ExtractAudio; pp != nil {
		args = append(args, "-x")
		if pp.Codec != "" {
			args = append(args, "--audio-format", pp.Codec)
		}
		if pp.Bitrate > 0 {
			args = append(args, "--audio-quality", fmt.Sprintf("%dK", pp.Bitrate))
		}
		var ffArgs []string
		if pp.SampleRate > 0 {
			ffArgs = append(ffArgs, "-ar", strconv.Itoa(pp.SampleRate))
		}
		if pp.Channels > 0 {
			ffArgs = append(ffArgs, "-ac", strconv.Itoa(pp.Channels))
		}
		if len(ffArgs) > 0 {
			args = append(args, "--postprocessor-args", "ExtractAudio:"+strings.Join(ffArgs, " "))
		}
	} else if req.MergeFormat != "" {
		args = append(args, "--merge-output-format", req.MergeFormat)
	}

	args = append(args, "--", req.ResourceID)
	return args, nil
}

// outputParser turns yt-dlp stdout into sink calls. It is only fed from the
// stdout reader, so sink calls are never concurrent.
type outputParser struct {
	sink        BackendSink
	destination string
}

func (p *outputParser) handle(line string) {
	l := strings.TrimSpace(line)
	if l == "" {
		return
	}

	if strings.HasPrefix(l, progressPrefix) {
		if snap, ok := ParseProgressLine(l); ok {
			p.sink.Progress(snap)
		}
		return
	}

	ytdlpLog.Emit(logger.VERBOSE, "%s\n", l)
	switch {
	case strings.HasPrefix(l, "[download] Destination: "):
		p.destination = strings.TrimPrefix(l, "[download] Destination: ")
		p.sink.Phase(types.PhaseDownloading, "Downloading "+p.destination)
	case strings.HasPrefix(l, "[download] ") && strings.HasSuffix(l, " has already been downloaded"):
		p.destination = strings.TrimSuffix(strings.TrimPrefix(l, "[download] "), " has already been downloaded")
	case strings.HasPrefix(l, "[Merger] Merging formats into "):
		p.destination = strings.Trim(strings.TrimPrefix(l, "[Merger] Merging formats into "), `"`)
		p.sink.Phase(types.PhaseConverting, "Merging formats")
	case strings.HasPrefix(l, "[ExtractAudio] Destination: "):
		p.destination = strings.TrimPrefix(l, "[ExtractAudio] Destination: ")
		p.sink.Phase(types.PhaseConverting, "Extracting audio")
	default:
		for _, prefix := range postProcessorPrefixes {
			if strings.HasPrefix(l, prefix) {
				p.sink.Phase(types.PhaseConverting, strings.TrimSpace(strings.TrimPrefix(l, prefix)))
				return
			}
		}
	}
}

// ParseProgressLine parses a line produced by progressTemplate. Fields that
// yt-dlp cannot fill are printed as "NA" and read as unknown (zero).
func ParseProgressLine(line string) (types.ProgressSnapshot, bool) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), progressPrefix))
	if len(fields) < 6 {
		return types.ProgressSnapshot{}, false
	}

	snap := types.ProgressSnapshot{
		BytesDone:  parseCount(fields[1]),
		BytesTotal: parseCount(fields[2]),
		Rate:       parseRate(fields[4]),
		ETASeconds: parseCount(fields[5]),
	}
	if snap.BytesTotal == 0 {
		snap.BytesTotal = parseCount(fields[3])
	}
	if len(fields) > 6 {
		snap.Filename = strings.Join(fields[6:], " ")
	}

	switch fields[0] {
	case "downloading":
		snap.Phase = types.PhaseDownloading
	case "finished":
		snap.Phase = types.PhaseFinished
		if snap.BytesTotal > 0 && snap.BytesDone < snap.BytesTotal {
			snap.BytesDone = snap.BytesTotal
		}
	default:
		return types.ProgressSnapshot{}, false
	}

	return snap, true
}

func parseCount(v string) int64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f)
}

func parseRate(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// splitByNewlineOrCR splits on either line ending and skips empty lines.
// Leading separators are consumed with the line that follows them so an
// unterminated last line is still returned at EOF.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	for i := start; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			return i + 1, data[start:i], nil
		}
	}
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

// lastErrorLine picks the most useful line of yt-dlp's stderr
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
