// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/config"
	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/api"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

const thingsSpec = `id: things
title: Things API
base_url: http://localhost:8080
operations:
  - operation_id: createThing
    method: POST
    path: /things
    responses:
      "201": {type: object}
`

func writeSpec(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "things.yaml")
	require.NoError(t, os.WriteFile(path, []byte(thingsSpec), 0o600))
	return path
}

// scriptedGetter returns statuses in order, repeating the last one.
type scriptedGetter struct {
	mu     sync.Mutex
	script []*testgen.RunStatus
	err    error
	calls  int
}

func (g *scriptedGetter) GetStatus(_ context.Context, _ string) (*testgen.RunStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	s := g.script[min(g.calls, len(g.script)-1)]
	g.calls++
	return s, nil
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		phase   testgen.Phase
		outcome testgen.Outcome
		want    int
	}{
		{testgen.PhaseCompleted, testgen.OutcomePassed, exitPassed},
		{testgen.PhaseCompleted, testgen.OutcomeNotExecuted, exitPassed},
		{testgen.PhaseCompleted, testgen.OutcomeDegraded, exitDegraded},
		{testgen.PhaseCompleted, testgen.OutcomeAPIBug, exitDegraded},
		{testgen.PhaseFailed, testgen.OutcomeError, exitFailed},
		{testgen.PhaseFailed, "", exitFailed},
	}
	for _, tt := range tests {
		got := exitCodeFor(&testgen.RunStatus{Phase: tt.phase, Outcome: tt.outcome})
		if got != tt.want {
			t.Errorf("exitCodeFor(%s, %s) = %d, want %d", tt.phase, tt.outcome, got, tt.want)
		}
	}
}

func TestResolveSpecID(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir)

	id, err := resolveSpecID([]string{"explicit"}, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "explicit", id)

	id, err = resolveSpecID(nil, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "things", id)

	_, err = resolveSpecID(nil, nil)
	require.Error(t, err)

	_, err = resolveSpecID(nil, []string{filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
}

func TestRunFlags_Apply(t *testing.T) {
	var f runFlags
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().IntVarP(&f.maxIterations, "max-iterations", "n", 0, "")
	require.NoError(t, cmd.Flags().Set("max-iterations", "5"))
	f.noExecute = true
	f.operations = []string{"createThing"}
	f.namespace = "com.acme"

	got := f.apply(cmd, testgen.DefaultRunConfig())
	assert.Equal(t, 5, got.MaxIterations)
	assert.False(t, got.AutoExecute)
	assert.Equal(t, []string{"createThing"}, got.Operations)
	assert.Equal(t, "com.acme", got.Namespace)
	assert.Equal(t, testgen.DefaultRunConfig().OutputDir, got.OutputDir)

	var unset runFlags
	plain := &cobra.Command{Use: "run"}
	plain.Flags().IntVarP(&unset.maxIterations, "max-iterations", "n", 0, "")
	assert.Equal(t, testgen.DefaultMaxIterations, unset.apply(plain, testgen.DefaultRunConfig()).MaxIterations)
}

func TestWaitForRun(t *testing.T) {
	g := &scriptedGetter{script: []*testgen.RunStatus{
		{RunID: "r", Phase: testgen.PhaseQueued},
		{RunID: "r", Phase: testgen.PhaseExecuting},
		{RunID: "r", Phase: testgen.PhaseCompleted, Outcome: testgen.OutcomePassed},
	}}
	var seen []testgen.Phase
	status, err := waitForRun(context.Background(), g, "r", time.Millisecond, func(s *testgen.RunStatus) {
		seen = append(seen, s.Phase)
	})
	require.NoError(t, err)
	assert.Equal(t, testgen.OutcomePassed, status.Outcome)
	assert.Equal(t, []testgen.Phase{testgen.PhaseQueued, testgen.PhaseExecuting, testgen.PhaseCompleted}, seen)
}

func TestWaitForRun_Errors(t *testing.T) {
	_, err := waitForRun(context.Background(), &scriptedGetter{err: testgen.ErrRunNotFound}, "r", time.Millisecond, nil)
	require.ErrorIs(t, err, testgen.ErrRunNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	never := &scriptedGetter{script: []*testgen.RunStatus{{RunID: "r", Phase: testgen.PhasePlanning}}}
	_, err = waitForRun(ctx, never, "r", time.Millisecond, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &exitError{code: 2, err: inner})
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.code)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit 1", (&exitError{code: 1}).Error())
}

// =============================================================================
// API CLIENT
// =============================================================================

type stubService struct {
	runs   []*testgen.RunStatus
	listed runstore.ListOptions
}

func (s *stubService) StartRun(context.Context, testgen.RunConfig) (string, error) {
	return "", errors.New("not used")
}

func (s *stubService) GetStatus(_ context.Context, id string) (*testgen.RunStatus, error) {
	for _, r := range s.runs {
		if r.RunID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", testgen.ErrRunNotFound, id)
}

func (s *stubService) ListRuns(_ context.Context, opts runstore.ListOptions) ([]*testgen.RunStatus, error) {
	s.listed = opts
	return s.runs, nil
}

func (s *stubService) Active() int { return 0 }

func TestAPIClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &stubService{runs: []*testgen.RunStatus{{
		RunID:      "run-1",
		SpecID:     "things",
		Phase:      testgen.PhaseCompleted,
		Outcome:    testgen.OutcomeDegraded,
		Log:        []testgen.LogEntry{},
		Iterations: []testgen.Iteration{},
	}}}
	srv := httptest.NewServer(api.NewRouter(api.NewHandlers(svc, testgen.DefaultRunConfig(), nil), api.RouterConfig{}))
	defer srv.Close()
	client := newAPIClient(srv.URL + "/")

	status, err := client.GetStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, testgen.OutcomeDegraded, status.Outcome)

	_, err = client.GetStatus(context.Background(), "nope")
	require.ErrorIs(t, err, testgen.ErrRunNotFound)

	runs, err := client.ListRuns(context.Background(), runstore.ListOptions{Limit: 5, Phase: testgen.PhaseCompleted, SpecID: "things"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.ListOptions{Limit: 5, Phase: testgen.PhaseCompleted, SpecID: "things"}, svc.listed)

	_, err = client.ListRuns(context.Background(), runstore.ListOptions{Phase: "bogus"})
	require.ErrorContains(t, err, "INVALID_PHASE")
}

// =============================================================================
// WIRING
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	specs := filepath.Join(dir, "specs")
	require.NoError(t, os.MkdirAll(specs, 0o755))
	writeSpec(t, specs)

	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Log.Level = "error"
	cfg.Specs.Dir = specs
	cfg.Defaults.OutputDir = filepath.Join(dir, "out")
	cfg.Defaults.AutoExecute = false
	cfg.LLM.Providers = []llm.ProviderConfig{{Kind: llm.KindMock}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_WiresPipeline(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, appOptions{quiet: true})
	require.NoError(t, err)

	runCfg := cfg.Defaults
	runCfg.SpecID = "things"
	runID, err := a.orch.StartRun(ctx, runCfg)
	require.NoError(t, err)

	status, err := waitForRun(ctx, a.orch, runID, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.True(t, status.Phase.IsTerminal())

	stored, err := a.store.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, status.Phase, stored.Phase)

	_, err = a.orch.StartRun(ctx, testgen.RunConfig{SpecID: "missing", OutputDir: cfg.Defaults.OutputDir})
	require.ErrorIs(t, err, testgen.ErrSpecNotFound)

	require.NoError(t, a.close(ctx))
}

func TestNewApp_BadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreBadger
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs")
	cfg.Store.GCInterval = 0

	a, err := newApp(context.Background(), cfg, appOptions{quiet: true})
	require.NoError(t, err)
	_, ok := a.store.(*runstore.BadgerStore)
	assert.True(t, ok)
	require.NoError(t, a.close(context.Background()))
}

func TestNewApp_SpecFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Specs.Dir = filepath.Join(t.TempDir(), "does-not-exist")
	path := writeSpec(t, t.TempDir())

	a, err := newApp(context.Background(), cfg, appOptions{specFiles: []string{path}, quiet: true})
	require.NoError(t, err)
	assert.Nil(t, a.dir)
	sp, err := a.specs.FindByID(context.Background(), "things")
	require.NoError(t, err)
	assert.Len(t, sp.Operations, 1)
	require.NoError(t, a.close(context.Background()))
}

func TestNewApp_Errors(t *testing.T) {
	noProviders := testConfig(t)
	noProviders.LLM.Providers = nil
	_, err := newApp(context.Background(), noProviders, appOptions{quiet: true})
	require.ErrorIs(t, err, errNoProviders)

	missingDir := testConfig(t)
	missingDir.Specs.Dir = filepath.Join(t.TempDir(), "nope")
	_, err = newApp(context.Background(), missingDir, appOptions{quiet: true})
	require.Error(t, err)
}
