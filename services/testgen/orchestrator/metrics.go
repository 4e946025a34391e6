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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

var (
	tracer = otel.Tracer("selfheal.testgen.orchestrator")
	meter  = otel.Meter("selfheal.testgen.orchestrator")
)

var (
	runLatency       metric.Float64Histogram
	runTotal         metric.Int64Counter
	phaseTransitions metric.Int64Counter
	iterationTotal   metric.Int64Counter
	fixesApplied     metric.Int64Counter
	fixesRejected    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"selfheal_run_duration_seconds",
			metric.WithDescription("Duration of runs from start to terminal phase"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"selfheal_runs_total",
			metric.WithDescription("Total number of finished runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		phaseTransitions, err = meter.Int64Counter(
			"selfheal_phase_transitions_total",
			metric.WithDescription("Total number of run phase transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationTotal, err = meter.Int64Counter(
			"selfheal_iterations_total",
			metric.WithDescription("Total number of execute iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fixesApplied, err = meter.Int64Counter(
			"selfheal_fixes_applied_total",
			metric.WithDescription("Total number of fixes written to disk"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fixesRejected, err = meter.Int64Counter(
			"selfheal_fixes_rejected_total",
			metric.WithDescription("Total number of fixes rejected by the guardrail"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, runID, specID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("selfheal.run_id", runID),
			attribute.String("selfheal.spec_id", specID),
		),
	)
}

func startPhaseSpan(ctx context.Context, phase testgen.Phase, iteration int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator."+phase.String(),
		trace.WithAttributes(
			attribute.String("selfheal.phase", phase.String()),
			attribute.Int("selfheal.iteration", iteration),
		),
	)
}

func setRunSpanResult(span trace.Span, st *testgen.RunStatus) {
	span.SetAttributes(
		attribute.String("selfheal.final_phase", st.Phase.String()),
		attribute.String("selfheal.outcome", string(st.Outcome)),
		attribute.Int("selfheal.iterations", len(st.Iterations)),
	)
}

func recordRun(ctx context.Context, outcome testgen.Outcome, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	runLatency.Record(ctx, d.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

func recordTransition(ctx context.Context, from, to testgen.Phase) {
	if initMetrics() != nil {
		return
	}
	phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func recordIterationMetrics(ctx context.Context, it *testgen.Iteration) {
	if initMetrics() != nil {
		return
	}
	success := it.Execution != nil && it.Execution.Success
	iterationTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	if it.FixesApplied > 0 {
		fixesApplied.Add(ctx, int64(it.FixesApplied))
	}
	if n := len(it.RejectedFixes); n > 0 {
		fixesRejected.Add(ctx, int64(n))
	}
}
