package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ytbatch/config"
	"ytbatch/logger"
	"ytbatch/services"
	"ytbatch/types"
)

// stubBackend pretends to download. Resources listed in fail fail with that
// error; while block is open every extraction waits for it.
type stubBackend struct {
	mu      sync.Mutex
	fail    map[string]error
	block   chan struct{}
	started chan string
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		fail:    map[string]error{},
		started: make(chan string, 64),
	}
}

func (b *stubBackend) Extract(ctx context.Context, req services.BackendRequest, sink services.BackendSink) (services.ExtractResult, error) {
	b.mu.Lock()
	failErr := b.fail[req.ResourceID]
	block := b.block
	b.mu.Unlock()

	select {
	case b.started <- req.ResourceID:
	default:
	}

	sink.Progress(types.ProgressSnapshot{Phase: types.PhaseDownloading, BytesDone: 50, BytesTotal: 100, Rate: 2048})

	if block != nil {
		select {
		case <-ctx.Done():
			return services.ExtractResult{}, errors.New("interrupted")
		case <-block:
		}
	}

	if failErr != nil {
		return services.ExtractResult{}, failErr
	}
	sink.Progress(types.ProgressSnapshot{Phase: types.PhaseFinished, BytesDone: 100, BytesTotal: 100})
	return services.ExtractResult{OutputPath: filepath.Join("/out", req.ResourceID+".mp4")}, nil
}

// TestHelper provides utilities for testing the ytbatch server
type TestHelper struct {
	Server  *httptest.Server
	App     *App
	Hub     interface{ ClientCount() int }
	Backend *stubBackend
	Dir     string
	cancel  context.CancelFunc
}

func testConfig(dir string) *config.EnvConfig {
	return &config.EnvConfig{
		Port:              0,
		LogLevel:          "error",
		SettingsPath:      filepath.Join(dir, "settings.json"),
		ErrorLogPath:      filepath.Join(dir, "errors.log"),
		YtdlpPath:         "yt-dlp",
		SuccessDelay:      2 * time.Millisecond,
		FailureDelay:      time.Millisecond,
		CorsOrigins:       "*",
		RequestsPerSecond: 0,
		RequestBurst:      0,
	}
}

// NewTestHelper creates a server backed by a stub backend in a temporary directory
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	return newTestHelperWithConfig(t, testConfig(t.TempDir()))
}

func newTestHelperWithConfig(t *testing.T, cfg *config.EnvConfig) *TestHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	backend := newStubBackend()

	app, err := NewApp(ctx, cfg, backend)
	require.NoError(t, err)

	s := NewServer(ctx, app)
	helper := &TestHelper{
		Server:  httptest.NewServer(s.Router),
		App:     app,
		Hub:     s.Hub,
		Backend: backend,
		Dir:     filepath.Dir(cfg.SettingsPath),
		cancel:  cancel,
	}
	t.Cleanup(helper.Cleanup)
	return helper
}

// Cleanup shuts the server down
func (h *TestHelper) Cleanup() {
	h.Server.Close()
	h.App.Close()
	h.cancel()
	logger.SetMinLoggingLevel(int(logger.INFO))
}

// MakeRequest makes an HTTP request to the test server
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// DoJSON makes a request and unmarshals the JSON response into target
func (h *TestHelper) DoJSON(t *testing.T, method, path string, body, target interface{}) *http.Response {
	t.Helper()
	resp := h.MakeRequest(t, method, path, body)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp
}

// PostText posts a plain text body
func (h *TestHelper) PostText(t *testing.T, path, body string, target interface{}) *http.Response {
	t.Helper()
	resp, err := http.Post(h.Server.URL+path, "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp
}

// WaitIdle waits for the current run to end
func (h *TestHelper) WaitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.App.Orchestrator.WaitIdle(ctx))
}

// ConnectWebSocket connects to a WebSocket endpoint and waits until the hub
// has registered the client
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	before := h.Hub.ClientCount()

	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Hub.ClientCount() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}
