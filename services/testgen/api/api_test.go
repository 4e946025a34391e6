// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

// fakeService replays a scripted sequence of statuses for one run.
type fakeService struct {
	mu       sync.Mutex
	startErr error
	started  []testgen.RunConfig
	script   []*testgen.RunStatus
	calls    int
	listed   []runstore.ListOptions
	runs     []*testgen.RunStatus
}

func (f *fakeService) StartRun(_ context.Context, cfg testgen.RunConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, cfg)
	return "run-1", nil
}

func (f *fakeService) GetStatus(_ context.Context, id string) (*testgen.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "run-1" || len(f.script) == 0 {
		return nil, fmt.Errorf("%w: %s", testgen.ErrRunNotFound, id)
	}
	i := min(f.calls, len(f.script)-1)
	f.calls++
	return f.script[i].Clone(), nil
}

func (f *fakeService) ListRuns(_ context.Context, opts runstore.ListOptions) ([]*testgen.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, opts)
	return f.runs, nil
}

func (f *fakeService) Active() int { return 2 }

func newTestRouter(svc RunService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(svc, testgen.DefaultRunConfig(), nil).WithPollInterval(5 * time.Millisecond)
	return NewRouter(h, RouterConfig{Metrics: promhttp.Handler()})
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// statusAt builds a status with n log entries.
func statusAt(phase testgen.Phase, iter, n int) *testgen.RunStatus {
	s := &testgen.RunStatus{
		RunID:            "run-1",
		SpecID:           "things",
		Phase:            phase,
		CurrentIteration: iter,
		MaxIterations:    3,
		Log:              []testgen.LogEntry{},
		Iterations:       []testgen.Iteration{},
		StartedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		s.Log = append(s.Log, testgen.LogEntry{Phase: phase, Message: fmt.Sprintf("entry %d", i)})
	}
	if phase.IsTerminal() {
		s.Outcome = testgen.OutcomePassed
	}
	return s
}

// =============================================================================
// START
// =============================================================================

func TestStartRun_AppliesDefaults(t *testing.T) {
	svc := &fakeService{}
	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/v1/runs", `{"specId":"things"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/v1/runs/run-1", w.Header().Get("Location"))
	var resp StartRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "/v1/runs/run-1/stream", resp.StreamURL)

	require.Len(t, svc.started, 1)
	cfg := svc.started[0]
	assert.Equal(t, "things", cfg.SpecID)
	assert.Equal(t, testgen.DefaultMaxIterations, cfg.MaxIterations)
	assert.True(t, cfg.AutoExecute)
}

func TestStartRun_ExplicitFalseAutoExecute(t *testing.T) {
	svc := &fakeService{}
	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/v1/runs",
		`{"specId":"things","autoExecute":false,"maxIterations":5,"operations":["createThing"],"namespace":"com.acme"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	cfg := svc.started[0]
	assert.False(t, cfg.AutoExecute)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, []string{"createThing"}, cfg.Operations)
	assert.Equal(t, "com.acme", cfg.Namespace)
}

func TestStartRun_BindingErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"specId":`},
		{"missing spec", `{}`},
		{"iterations too high", `{"specId":"s","maxIterations":11}`},
		{"iterations too low", `{"specId":"s","maxIterations":0}`},
		{"bad base url", `{"specId":"s","baseUrl":"not a url"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			w := doJSON(t, newTestRouter(svc), http.MethodPost, "/v1/runs", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
			assert.Empty(t, svc.started)
		})
	}
}

func TestStartRun_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{fmt.Errorf("%w: namespace", testgen.ErrInvalidRunConfig), http.StatusBadRequest, "INVALID_RUN_CONFIG"},
		{fmt.Errorf("%w: things", testgen.ErrSpecNotFound), http.StatusNotFound, "SPEC_NOT_FOUND"},
		{fmt.Errorf("%w: spec things", testgen.ErrNoOperations), http.StatusUnprocessableEntity, "NO_OPERATIONS"},
		{testgen.ErrShuttingDown, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{errors.New("disk full"), http.StatusInternalServerError, "START_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			svc := &fakeService{startErr: tt.err}
			w := doJSON(t, newTestRouter(svc), http.MethodPost, "/v1/runs", `{"specId":"things"}`)
			require.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w).Code)
		})
	}
}

// =============================================================================
// STATUS AND LIST
// =============================================================================

func TestGetRun(t *testing.T) {
	svc := &fakeService{script: []*testgen.RunStatus{statusAt(testgen.PhaseExecuting, 1, 3)}}
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status testgen.RunStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, testgen.PhaseExecuting, status.Phase)
	assert.Len(t, status.Log, 3)

	w = doJSON(t, router, http.MethodGet, "/v1/runs/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decodeError(t, w).Code)
}

func TestListRuns(t *testing.T) {
	svc := &fakeService{runs: []*testgen.RunStatus{statusAt(testgen.PhaseCompleted, 1, 1)}}
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/runs?limit=10&phase=completed&spec=things", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, svc.listed, 1)
	assert.Equal(t, runstore.ListOptions{Limit: 10, Phase: testgen.PhaseCompleted, SpecID: "things"}, svc.listed[0])

	w = doJSON(t, router, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, svc.listed[1].Limit)
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	w := doJSON(t, newTestRouter(&fakeService{}), http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs":[]`)
}

func TestListRuns_InvalidQuery(t *testing.T) {
	router := newTestRouter(&fakeService{})
	for path, code := range map[string]string{
		"/v1/runs?limit=0":      "INVALID_LIMIT",
		"/v1/runs?limit=abc":    "INVALID_LIMIT",
		"/v1/runs?limit=100000": "INVALID_LIMIT",
		"/v1/runs?phase=sleepy": "INVALID_PHASE",
	} {
		w := doJSON(t, router, http.MethodGet, path, "")
		require.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, code, decodeError(t, w).Code, path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&fakeService{})

	w := doJSON(t, router, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.ActiveRuns)

	w = doJSON(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "selfheal_http_requests_total")
}

// =============================================================================
// STREAM
// =============================================================================

func dialStream(t *testing.T, router http.Handler, id string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + id + "/stream"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readAll(t *testing.T, ws *websocket.Conn) []StreamMessage {
	t.Helper()
	var msgs []StreamMessage
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg StreamMessage
		if err := ws.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestStream_SendsEachEntryOnceUntilTerminal(t *testing.T) {
	svc := &fakeService{script: []*testgen.RunStatus{
		statusAt(testgen.PhaseQueued, 0, 1),
		statusAt(testgen.PhaseQueued, 0, 1),
		statusAt(testgen.PhasePlanning, 0, 2),
		statusAt(testgen.PhaseExecuting, 1, 4),
		statusAt(testgen.PhaseCompleted, 1, 5),
	}}
	msgs := readAll(t, dialStream(t, newTestRouter(svc), "run-1"))

	var logs []string
	var phases []testgen.Phase
	for _, m := range msgs {
		switch m.Type {
		case MessageLog:
			logs = append(logs, m.Entry.Message)
		case MessageStatus:
			phases = append(phases, m.Phase)
		}
	}
	assert.Equal(t, []string{"entry 0", "entry 1", "entry 2", "entry 3", "entry 4"}, logs)
	assert.Equal(t, []testgen.Phase{testgen.PhaseQueued, testgen.PhasePlanning, testgen.PhaseExecuting, testgen.PhaseCompleted}, phases)

	last := msgs[len(msgs)-1]
	assert.Equal(t, MessageDone, last.Type)
	require.NotNil(t, last.Run)
	assert.Equal(t, testgen.OutcomePassed, last.Run.Outcome)
}

func TestStream_AlreadyTerminal(t *testing.T) {
	svc := &fakeService{script: []*testgen.RunStatus{statusAt(testgen.PhaseFailed, 0, 2)}}
	msgs := readAll(t, dialStream(t, newTestRouter(svc), "run-1"))
	require.Len(t, msgs, 4)
	assert.Equal(t, MessageDone, msgs[3].Type)
	assert.Equal(t, testgen.PhaseFailed, msgs[3].Phase)
}

func TestStream_UnknownRunIs404(t *testing.T) {
	w := doJSON(t, newTestRouter(&fakeService{}), http.MethodGet, "/v1/runs/nope/stream", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decodeError(t, w).Code)
}
