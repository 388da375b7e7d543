package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/runs"
	"github.com/strixsec/strix/internal/worker"
	"github.com/strixsec/strix/pkg/types"
)

func successfulScan(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
	emitter.Emit("Orchestrator started", events.LevelInfo)
	emitter.Emit("Found 1 request patterns", events.LevelInfo)

	surface := types.NewAttackSurface()
	surface.Add(types.Endpoint{Method: "GET", Path: "/", URL: target, Parameters: []string{"q"}})

	score := 9.0
	return &types.ScanResult{
		Target:        target,
		AttackSurface: surface,
		Findings: []types.Finding{{
			ID:            "f1",
			Vulnerability: "Missing Authentication",
			Severity:      types.SeverityCritical,
			SeverityScore: &score,
			Endpoint:      types.Endpoint{Method: "GET", Path: "/", URL: target},
			Impact:        "Unauthenticated access.",
		}},
		RiskLevel:   types.RiskHigh,
		ReportPath:  "reports/security_report_test.md",
		CompletedAt: time.Now(),
	}, nil
}

func newTestServer(t *testing.T, scan ScanFunc) (*Server, *runs.Store, *worker.Pool) {
	t.Helper()
	cfg := config.Default()
	store := runs.NewStore()
	pool := worker.NewPool(2, 8, logger.NewNop())
	t.Cleanup(func() { _ = pool.Shutdown() })
	return NewServer(cfg, logger.NewNop(), store, pool, scan), store, pool
}

func postAttack(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/attack", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getStatus(t *testing.T, handler http.Handler, runID string) (int, statusResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/status/"+runID, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	var resp statusResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func TestStartScanRequiresURL(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	w := postAttack(t, s.Handler(), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "URL is required")
}

func TestScanLifecycleThroughAPI(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)

	require.Eventually(t, func() bool {
		code, resp := getStatus(t, s.Handler(), started.RunID)
		return code == http.StatusOK && resp.Status == types.RunStatusComplete
	}, 2*time.Second, 20*time.Millisecond)

	_, resp := getStatus(t, s.Handler(), started.RunID)
	require.NotNil(t, resp.Report)
	assert.Equal(t, types.RiskHigh, resp.Report.RiskLevel)
	require.Len(t, resp.Report.Vulnerabilities, 1)
	assert.Equal(t, "Missing Authentication", resp.Report.Vulnerabilities[0].Type)
	assert.Contains(t, resp.Report.Summary, "Found 1 vulnerabilities")
	assert.Equal(t, []string{"http://example.test"}, resp.Report.PagesVisited)

	var messages []string
	for _, entry := range resp.Logs {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "Starting security scan on http://example.test")
	assert.Contains(t, messages, "Orchestrator started")
	assert.Contains(t, messages, "Scan complete. Report ready.")
}

func TestStatusLogsArePrefixExtensions(t *testing.T) {
	release := make(chan struct{})
	slowScan := func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
		for i := 0; i < 5; i++ {
			emitter.Emit("progress", events.LevelInfo)
		}
		<-release
		surface := types.NewAttackSurface()
		return &types.ScanResult{Target: target, AttackSurface: surface, RiskLevel: types.RiskLow}, nil
	}
	s, _, _ := newTestServer(t, slowScan)

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	var prev []types.LogEntry
	require.Eventually(t, func() bool {
		_, resp := getStatus(t, s.Handler(), started.RunID)
		require.GreaterOrEqual(t, len(resp.Logs), len(prev))
		for i := range prev {
			require.Equal(t, prev[i].Message, resp.Logs[i].Message)
		}
		prev = resp.Logs
		return len(resp.Logs) >= 6
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
}

func TestScanProgressDrainsThroughSink(t *testing.T) {
	chatty := func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
		for i := 0; i < 20; i++ {
			emitter.Emit(fmt.Sprintf("step %d", i), events.LevelInfo)
		}
		surface := types.NewAttackSurface()
		return &types.ScanResult{Target: target, AttackSurface: surface, RiskLevel: types.RiskLow}, nil
	}
	s, store, _ := newTestServer(t, chatty)

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	require.Eventually(t, func() bool {
		snap, ok := store.Get(started.RunID)
		return ok && snap.Status == types.RunStatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	// Every emitted event reached the store, in emission order, by the
	// time the run completed.
	snap, ok := store.Get(started.RunID)
	require.True(t, ok)
	var steps []string
	for _, entry := range snap.Logs {
		if strings.HasPrefix(entry.Message, "step ") {
			steps = append(steps, entry.Message)
		}
	}
	require.Len(t, steps, 20)
	for i, msg := range steps {
		assert.Equal(t, fmt.Sprintf("step %d", i), msg)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	code, _ := getStatus(t, s.Handler(), "does-not-exist")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFailedScanMarksRunError(t *testing.T) {
	failingScan := func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
		return nil, context.DeadlineExceeded
	}
	s, _, _ := newTestServer(t, failingScan)

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	require.Eventually(t, func() bool {
		_, resp := getStatus(t, s.Handler(), started.RunID)
		return resp.Status == types.RunStatusError
	}, 2*time.Second, 20*time.Millisecond)

	_, resp := getStatus(t, s.Handler(), started.RunID)
	assert.Nil(t, resp.Report, "no report for a failed run")
	assert.NotEmpty(t, resp.Error)
}

func TestCancelRunningScan(t *testing.T) {
	started := make(chan struct{})
	blockingScan := func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s, _, _ := newTestServer(t, blockingScan)

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	var resp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	<-started

	req := httptest.NewRequest(http.MethodDelete, "/attack/"+resp.RunID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		_, status := getStatus(t, s.Handler(), resp.RunID)
		return status.Status == types.RunStatusError
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCancelUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	req := httptest.NewRequest(http.MethodDelete, "/attack/missing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCountsActiveScans(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	blockingScan := func(ctx context.Context, target string, emitter events.Emitter) (*types.ScanResult, error) {
		close(running)
		<-release
		surface := types.NewAttackSurface()
		return &types.ScanResult{Target: target, AttackSurface: surface, RiskLevel: types.RiskLow}, nil
	}
	s, _, _ := newTestServer(t, blockingScan)

	postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	<-running

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status      string `json:"status"`
		ActiveScans int    `json:"active_scans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.ActiveScans)

	close(release)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	req := httptest.NewRequest(http.MethodOptions, "/attack", nil)
	req.Header.Set("Origin", "http://dashboard.test")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dashboard.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestLogStreamOverWebsocket(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	w := postAttack(t, s.Handler(), `{"url":"http://example.test"}`)
	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/runs/" + started.RunID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var messages []string
	for {
		var entry types.LogEntry
		if err := conn.ReadJSON(&entry); err != nil {
			break
		}
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "Orchestrator started")
	assert.Contains(t, messages, "Scan complete. Report ready.")
}

func TestWebsocketUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t, successfulScan)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/runs/missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
