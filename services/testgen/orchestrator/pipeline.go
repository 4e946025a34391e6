// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

// execute is the body of a run goroutine.
func (o *Orchestrator) execute(r *run) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(o.base, o.cfg.RunTimeout)
	defer cancel()

	ctx, span := startRunSpan(ctx, r.id, r.cfg.SpecID)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Run panicked",
				slog.String("run_id", r.id),
				slog.Any("panic", rec),
			)
			o.fail(r, fmt.Errorf("internal error: %v", rec))
		}

		r.mu.Lock()
		final := r.status.Clone()
		r.mu.Unlock()
		setRunSpanResult(span, final)
		if final.CompletedAt != nil {
			recordRun(context.Background(), final.Outcome, final.CompletedAt.Sub(final.StartedAt))
		}
		o.logger.Info("Run finished",
			slog.String("run_id", r.id),
			slog.String("phase", final.Phase.String()),
			slog.String("outcome", string(final.Outcome)),
			slog.Int("iterations", len(final.Iterations)),
		)
		o.finish(r)
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(r, o.contextError(ctx, err))
		return
	}
	defer o.sem.Release(1)

	if err := o.pipeline(ctx, r); err != nil {
		o.fail(r, o.contextError(ctx, err))
	}
}

// contextError attributes err to the run deadline or to shutdown when the
// run context is the reason it happened.
func (o *Orchestrator) contextError(ctx context.Context, err error) error {
	switch {
	case o.base.Err() != nil:
		return fmt.Errorf("%w: %v", testgen.ErrShuttingDown, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %v", testgen.ErrRunTimeout, o.cfg.RunTimeout, err)
	}
	return err
}

// pipeline runs the phases of one run.
func (o *Orchestrator) pipeline(ctx context.Context, r *run) error {
	if err := o.transition(ctx, r, testgen.PhasePlanning, "planning test scenarios"); err != nil {
		return err
	}
	plan, err := o.plan(ctx, r)
	if err != nil {
		return err
	}

	if err := o.transition(ctx, r, testgen.PhaseWriting, "generating test sources"); err != nil {
		return err
	}
	if err := o.write(ctx, r, plan); err != nil {
		return err
	}

	if err := o.transition(ctx, r, testgen.PhasePersisting, "writing suite to disk"); err != nil {
		return err
	}
	if err := o.persist(r); err != nil {
		return err
	}

	if !r.cfg.AutoExecute {
		return o.complete(ctx, r, testgen.OutcomeNotExecuted, "auto-execute disabled, suite written without running")
	}
	return o.iterate(ctx, r)
}

func (o *Orchestrator) plan(ctx context.Context, r *run) (*testgen.TestPlan, error) {
	ctx, span := startPhaseSpan(ctx, testgen.PhasePlanning, 0)
	defer span.End()

	plan, err := o.stages.Planner.Plan(ctx, r.spec, &r.cfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("plan: %w", err)
	}

	msg := fmt.Sprintf("plan ready: %d scenarios, %d dependencies", len(plan.Items), len(plan.Dependencies))
	if plan.BestEffort {
		msg += " (best-effort, model output unusable)"
	}
	o.update(r, func(st *testgen.RunStatus) {
		st.Plan = plan
		st.AddProvider(plan.ProviderID)
		st.Append(o.now(), msg)
	})
	return plan, nil
}

func (o *Orchestrator) write(ctx context.Context, r *run, plan *testgen.TestPlan) error {
	ctx, span := startPhaseSpan(ctx, testgen.PhaseWriting, 0)
	defer span.End()

	suite, err := o.stages.Writer.Write(ctx, plan, &r.cfg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("write: %w", err)
	}
	if suite == nil || len(suite.Files) == 0 {
		return ErrEmptySuite
	}
	r.suite = suite

	sources := len(o.testSources(r))
	o.update(r, func(st *testgen.RunStatus) {
		for _, id := range suite.ProviderIDs {
			st.AddProvider(id)
		}
		st.Append(o.now(), fmt.Sprintf("suite assembled: %d files, %d test classes", len(suite.Files), sources))
	})
	return nil
}

func (o *Orchestrator) persist(r *run) error {
	dir := filepath.Join(r.cfg.OutputDir, r.id)
	r.files = writer.NewFileManager(dir, o.logger)
	if err := r.files.WriteSuite(r.suite); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	o.update(r, func(st *testgen.RunStatus) {
		st.SuitePath = dir
		st.Append(o.now(), "suite written to "+dir)
	})
	return nil
}

// iterate runs execute -> reflect -> fix cycles until a terminal condition.
func (o *Orchestrator) iterate(ctx context.Context, r *run) error {
	limit := r.cfg.MaxIterations
	for i := 1; i <= limit; i++ {
		if err := o.transition(ctx, r, testgen.PhaseExecuting, fmt.Sprintf("iteration %d/%d: running tests", i, limit)); err != nil {
			return err
		}
		o.update(r, func(st *testgen.RunStatus) { st.CurrentIteration = i })

		res, err := o.runTests(ctx, r, i)
		if err != nil {
			if res != nil {
				o.recordIteration(ctx, r, testgen.Iteration{Number: i, Execution: res})
			}
			return &ExecutionError{Iteration: i, Cause: err}
		}
		it := testgen.Iteration{Number: i, Execution: res}
		o.event(r, summarizeExecution(res))

		if res.Success {
			o.recordIteration(ctx, r, it)
			return o.complete(ctx, r, testgen.OutcomePassed, "all tests passed")
		}
		if i == limit {
			o.recordIteration(ctx, r, it)
			return o.complete(ctx, r, testgen.OutcomeDegraded,
				fmt.Sprintf("iteration limit %d reached with failing tests", limit))
		}

		if err := o.transition(ctx, r, testgen.PhaseReflecting, "diagnosing failures"); err != nil {
			return err
		}
		ref, err := o.reflect(ctx, r, res, i)
		if err != nil {
			return err
		}
		it.Reflection = ref
		it.RejectedFixes = ref.RejectedFixes

		if !ref.ShouldRetry {
			o.recordIteration(ctx, r, it)
			return o.complete(ctx, r, outcomeFor(ref.FailureSource),
				fmt.Sprintf("stopping: diagnosis %s does not warrant a retry", ref.FailureSource))
		}

		if len(ref.Fixes) == 0 {
			o.recordIteration(ctx, r, it)
			if !o.allowUnmodifiedRetry(r) {
				return o.complete(ctx, r, testgen.OutcomeDegraded,
					"stopping: repeated retry without fixes would not change the suite")
			}
			o.event(r, "retry requested without fixes, re-running unmodified suite")
			continue
		}

		if err := o.transition(ctx, r, testgen.PhaseFixing, fmt.Sprintf("applying %d fixes", len(ref.Fixes))); err != nil {
			return err
		}
		applied := o.applyFixes(r, ref.Fixes)
		it.FixesApplied = len(applied)
		it.AppliedFixes = applied
		o.recordIteration(ctx, r, it)

		if len(applied) == 0 {
			if !o.allowUnmodifiedRetry(r) {
				return o.complete(ctx, r, testgen.OutcomeDegraded,
					"stopping: no fix could be written and the suite is unchanged")
			}
			o.event(r, "no fix could be written, re-running unmodified suite")
			continue
		}
		r.zeroFixStreak = 0
	}
	return nil
}

func (o *Orchestrator) runTests(ctx context.Context, r *run, iteration int) (*testgen.ExecutionResult, error) {
	ctx, span := startPhaseSpan(ctx, testgen.PhaseExecuting, iteration)
	defer span.End()

	res, err := o.stages.Executor.Execute(ctx, r.files.Root())
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (o *Orchestrator) reflect(ctx context.Context, r *run, res *testgen.ExecutionResult, iteration int) (*testgen.Reflection, error) {
	ctx, span := startPhaseSpan(ctx, testgen.PhaseReflecting, iteration)
	defer span.End()

	ref, err := o.stages.Reflector.Reflect(ctx, res, o.testSources(r))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reflect: %w", err)
	}

	msg := fmt.Sprintf("diagnosis: %s, retry=%t, %d fixes", ref.FailureSource, ref.ShouldRetry, len(ref.Fixes))
	if n := len(ref.RejectedFixes); n > 0 {
		msg += fmt.Sprintf(", %d rejected by guardrail", n)
	}
	if ref.Summary != "" {
		msg += ": " + ref.Summary
	}
	o.update(r, func(st *testgen.RunStatus) {
		st.AddProvider(ref.ProviderID)
		st.Append(o.now(), msg)
	})
	return ref, nil
}

// allowUnmodifiedRetry counts a retry that leaves the suite unchanged and
// reports whether it is within MaxZeroFixRetries.
func (o *Orchestrator) allowUnmodifiedRetry(r *run) bool {
	r.zeroFixStreak++
	return r.zeroFixStreak <= o.cfg.MaxZeroFixRetries
}

// testSources returns the generated test classes, excluding scaffolding.
func (o *Orchestrator) testSources(r *run) map[string]string {
	out := make(map[string]string)
	for _, f := range r.suite.Files {
		if writer.IsTestSource(r.cfg.Namespace, f.Path) {
			out[f.Path] = f.Content
		}
	}
	return out
}

func outcomeFor(src testgen.FailureSource) testgen.Outcome {
	if src == testgen.SourceAPIBug {
		return testgen.OutcomeAPIBug
	}
	return testgen.OutcomeDegraded
}

func summarizeExecution(res *testgen.ExecutionResult) string {
	if res.BuildFailed {
		return fmt.Sprintf("build failed (exit %d)", res.ExitCode)
	}
	return fmt.Sprintf("tests: %d passed, %d failed, %d errored, %d skipped of %d",
		res.Passed, res.Failed, res.Errored, res.Skipped, res.Total)
}
