// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives runs through the planning, writing,
// persisting, executing, reflecting and fixing phases.
//
// Each run is one goroutine that owns its RunStatus; it is the only writer.
// StartRun validates input synchronously and returns a run id at once;
// GetStatus returns deep copies. Every change is snapshotted into a
// runstore.Store so finished runs stay pollable after the goroutine exits.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

// =============================================================================
// STAGES
// =============================================================================

// Planner turns a spec into a TestPlan.
type Planner interface {
	Plan(ctx context.Context, sp *spec.NormalizedSpec, cfg *testgen.RunConfig) (*testgen.TestPlan, error)
}

// Writer turns a TestPlan into an in-memory suite.
type Writer interface {
	Write(ctx context.Context, plan *testgen.TestPlan, cfg *testgen.RunConfig) (*testgen.TestSuite, error)
}

// Executor runs the suite in dir. A non-nil result may accompany an error.
type Executor interface {
	Execute(ctx context.Context, dir string) (*testgen.ExecutionResult, error)
}

// Reflector diagnoses an execution given the current test sources.
type Reflector interface {
	Reflect(ctx context.Context, exec *testgen.ExecutionResult, files map[string]string) (*testgen.Reflection, error)
}

// IterationRecorder receives every completed iteration.
type IterationRecorder interface {
	RecordIteration(ctx context.Context, runID string, it testgen.Iteration) error
}

// Stages bundles the pipeline components.
type Stages struct {
	Specs     spec.Store
	Planner   Planner
	Writer    Writer
	Executor  Executor
	Reflector Reflector
}

func (s Stages) validate() error {
	switch {
	case s.Specs == nil:
		return fmt.Errorf("%w: specs", ErrMissingComponent)
	case s.Planner == nil:
		return fmt.Errorf("%w: planner", ErrMissingComponent)
	case s.Writer == nil:
		return fmt.Errorf("%w: writer", ErrMissingComponent)
	case s.Executor == nil:
		return fmt.Errorf("%w: executor", ErrMissingComponent)
	case s.Reflector == nil:
		return fmt.Errorf("%w: reflector", ErrMissingComponent)
	}
	return nil
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// run is the live state of one run. status is guarded by mu; the remaining
// fields belong to the run goroutine.
type run struct {
	id   string
	cfg  testgen.RunConfig
	spec *spec.NormalizedSpec

	mu     sync.Mutex
	status *testgen.RunStatus

	suite         *testgen.TestSuite
	files         *writer.FileManager
	zeroFixStreak int
}

// Orchestrator starts runs and serves their status.
//
// Thread Safety: Safe for concurrent use.
type Orchestrator struct {
	stages   Stages
	cfg      Config
	store    runstore.Store
	recorder IterationRecorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	sem    *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	runs    map[string]*run
	closing bool
}

// New creates an orchestrator.
//
// Inputs:
//
//	stages - Pipeline components. All are required.
//	cfg - Orchestrator configuration
//	opts - Optional store, recorder, logger, clock
//
// Outputs:
//
//	*Orchestrator - Ready to accept runs
//	error - ErrMissingComponent if a stage is nil
func New(stages Stages, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	_ = cfg.Validate()

	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		stages: stages,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		base:   base,
		cancel: cancel,
		runs:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = runstore.NewMemoryStore(runstore.DefaultConfig())
	}
	return o, nil
}

// Store returns the snapshot store.
func (o *Orchestrator) Store() runstore.Store {
	return o.store
}

// StartRun validates cfg, resolves the spec and starts the run.
//
// Description:
//
//	Input errors are returned synchronously and no run is created. On
//	success the run is registered in phase queued and proceeds in its own
//	goroutine; the call does not wait for it.
//
// Inputs:
//
//	ctx - Bounds the spec lookup only. The run does not inherit it.
//	cfg - Run configuration. Zero optional fields get defaults.
//
// Outputs:
//
//	string - The run id
//	error - ErrInvalidRunConfig, ErrSpecNotFound, ErrNoOperations,
//	        ErrShuttingDown or ErrNilContext
func (o *Orchestrator) StartRun(ctx context.Context, cfg testgen.RunConfig) (string, error) {
	if ctx == nil {
		return "", testgen.ErrNilContext
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	sp, err := o.stages.Specs.FindByID(ctx, cfg.SpecID)
	if err != nil {
		return "", err
	}
	if len(sp.Select(&cfg)) == 0 {
		return "", fmt.Errorf("%w: spec %s", testgen.ErrNoOperations, cfg.SpecID)
	}

	id := o.newID()
	status := testgen.NewRunStatus(id, &cfg, o.now())
	status.Append(o.now(), fmt.Sprintf("run queued for spec %s", cfg.SpecID))
	r := &run{id: id, cfg: cfg, spec: sp, status: status}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return "", testgen.ErrShuttingDown
	}
	o.runs[id] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.save(r)
	o.logger.Info("Run started",
		slog.String("run_id", id),
		slog.String("spec_id", cfg.SpecID),
		slog.Int("max_iterations", cfg.MaxIterations),
	)

	go o.execute(r)
	return id, nil
}

// GetStatus returns a copy of the run status.
//
// Outputs:
//
//	*testgen.RunStatus - Deep copy, safe to keep
//	error - Wraps testgen.ErrRunNotFound for unknown or evicted runs
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (*testgen.RunStatus, error) {
	o.mu.RLock()
	r, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.status.Clone(), nil
	}
	return o.store.Get(ctx, runID)
}

// ListRuns returns stored run snapshots, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*testgen.RunStatus, error) {
	return o.store.List(ctx, opts)
}

// Active returns the number of runs held in memory. These are the runs in
// flight plus any whose final snapshot could not be stored.
func (o *Orchestrator) Active() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.runs)
}

// Shutdown stops accepting runs and waits for in-flight runs.
//
// Description:
//
//	If ctx expires first, in-flight runs are cancelled; each then ends in
//	phase failed with ErrShuttingDown, and Shutdown returns ctx.Err() once
//	they have recorded it.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// =============================================================================
// STATUS MUTATION
// =============================================================================

// update applies fn to the live status under lock and snapshots it.
func (o *Orchestrator) update(r *run, fn func(st *testgen.RunStatus)) {
	r.mu.Lock()
	fn(r.status)
	r.mu.Unlock()
	o.save(r)
}

func (o *Orchestrator) save(r *run) {
	r.mu.Lock()
	snapshot := r.status.Clone()
	r.mu.Unlock()

	if err := o.store.Save(context.Background(), snapshot); err != nil {
		o.logger.Warn("Failed to save run snapshot",
			slog.String("run_id", r.id),
			slog.String("error", err.Error()),
		)
	}
}

// event appends a log entry in the current phase.
func (o *Orchestrator) event(r *run, msg string) {
	o.update(r, func(st *testgen.RunStatus) {
		st.Append(o.now(), msg)
	})
}

// transition moves the run to phase to and logs msg under the new phase.
func (o *Orchestrator) transition(ctx context.Context, r *run, to testgen.Phase, msg string) error {
	var from testgen.Phase
	var err error
	o.update(r, func(st *testgen.RunStatus) {
		from = st.Phase
		if !canTransition(from, to) {
			err = &PhaseTransitionError{From: from, To: to}
			return
		}
		st.Phase = to
		st.Append(o.now(), msg)
	})
	if err != nil {
		return err
	}

	recordTransition(ctx, from, to)
	o.logger.Info("Run phase transition",
		slog.String("run_id", r.id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	return nil
}

// complete ends the run in phase completed.
func (o *Orchestrator) complete(ctx context.Context, r *run, outcome testgen.Outcome, msg string) error {
	if err := o.transition(ctx, r, testgen.PhaseCompleted, msg); err != nil {
		return err
	}
	o.update(r, func(st *testgen.RunStatus) {
		now := o.now()
		st.Outcome = outcome
		st.CompletedAt = &now
	})
	return nil
}

// fail ends the run in phase failed. It is a no-op on terminal runs.
func (o *Orchestrator) fail(r *run, err error) {
	var from testgen.Phase
	terminal := false
	o.update(r, func(st *testgen.RunStatus) {
		from = st.Phase
		if st.Phase.IsTerminal() {
			terminal = true
			return
		}
		now := o.now()
		st.Phase = testgen.PhaseFailed
		st.Outcome = testgen.OutcomeError
		st.Error = err.Error()
		st.CompletedAt = &now
		st.Append(now, "run failed: "+err.Error())
	})
	if terminal {
		return
	}
	recordTransition(context.Background(), from, testgen.PhaseFailed)
	o.logger.Error("Run failed",
		slog.String("run_id", r.id),
		slog.String("phase", from.String()),
		slog.String("error", err.Error()),
	)
}

// recordIteration appends it to the status and forwards it to the recorder.
func (o *Orchestrator) recordIteration(ctx context.Context, r *run, it testgen.Iteration) {
	o.update(r, func(st *testgen.RunStatus) {
		st.Iterations = append(st.Iterations, it)
		if it.Execution != nil {
			st.FinalResult = it.Execution
		}
	})
	recordIterationMetrics(ctx, &it)

	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordIteration(ctx, r.id, it); err != nil {
		o.logger.Warn("Failed to record iteration",
			slog.String("run_id", r.id),
			slog.Int("iteration", it.Number),
			slog.String("error", err.Error()),
		)
	}
}

// finish drops the live handle once the terminal snapshot is stored.
func (o *Orchestrator) finish(r *run) {
	r.mu.Lock()
	final := r.status.Clone()
	r.mu.Unlock()

	if err := o.store.Save(context.Background(), final); err != nil {
		o.logger.Warn("Keeping run in memory, final snapshot not stored",
			slog.String("run_id", r.id),
			slog.String("error", err.Error()),
		)
		return
	}
	o.mu.Lock()
	delete(o.runs, r.id)
	o.mu.Unlock()
}
