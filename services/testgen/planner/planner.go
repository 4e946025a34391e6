// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner turns a normalized API description into a TestPlan.
//
// The plan is requested from the generation capability and parsed with the
// JSON repair procedure. Output that cannot be parsed falls back to a
// best-effort plan derived from the operations, so planning never fails
// on malformed text. Items for unknown operations are dropped and any
// operation the response missed is covered from the best-effort plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/jsonrepair"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
)

var tracer = otel.Tracer("selfheal.testgen.planner")

// PlanningError wraps a generation failure during planning.
type PlanningError struct {
	Cause error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Cause)
}

func (e *PlanningError) Unwrap() error {
	return e.Cause
}

// Config configures the Planner.
type Config struct {
	// Temperature for plan generation.
	// Default: 0.2
	Temperature float32

	// MaxTokens caps the plan response.
	// Default: 16000
	MaxTokens int

	// DefaultBaseURL is used when neither the run nor the spec has one.
	// Default: http://localhost:8080
	DefaultBaseURL string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.2,
		MaxTokens:      16000,
		DefaultBaseURL: DefaultBaseURL,
	}
}

// Planner produces test plans.
//
// Thread Safety: Safe for concurrent use if the Generator is.
type Planner struct {
	gen    llm.Generator
	cfg    Config
	logger *slog.Logger
}

// New creates a Planner. A nil logger uses slog.Default().
func New(gen llm.Generator, cfg Config, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.DefaultBaseURL == "" {
		cfg.DefaultBaseURL = DefaultBaseURL
	}
	return &Planner{gen: gen, cfg: cfg, logger: logger.With(slog.String("component", "planner"))}
}

// Plan produces a TestPlan covering every selected operation.
//
// Description:
//
//	Selects operations by the run's filter, asks the generator for a plan
//	and normalizes it. Unparseable output yields a best-effort plan.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	sp - The API description.
//	runCfg - The run configuration; BaseURL and Operations are consulted.
//
// Outputs:
//
//	*testgen.TestPlan - The plan. Never nil on success.
//	error - testgen.ErrNoOperations when nothing is selected, a
//	        *PlanningError when generation fails, or the context error.
func (p *Planner) Plan(ctx context.Context, sp *spec.NormalizedSpec, runCfg *testgen.RunConfig) (*testgen.TestPlan, error) {
	if ctx == nil {
		return nil, testgen.ErrNilContext
	}
	ops := sp.Select(runCfg)
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: spec %s", testgen.ErrNoOperations, sp.ID)
	}

	ctx, span := tracer.Start(ctx, "planner.Plan")
	defer span.End()
	span.SetAttributes(
		attribute.String("spec.id", sp.ID),
		attribute.Int("plan.operations", len(ops)),
	)

	baseURL := p.baseURL(sp, runCfg)
	title := sp.Title
	if title == "" {
		title = sp.ID
	}

	start := time.Now()
	resp, err := p.gen.Generate(ctx, &llm.Request{
		Prompt:       buildPrompt(title, baseURL, ops),
		SystemPrompt: systemPrompt,
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &PlanningError{Cause: err}
	}

	var plan testgen.TestPlan
	stage, perr := jsonrepair.Unmarshal(resp.Content, &plan)
	if perr != nil {
		p.logger.Warn("plan response unparseable, using best-effort plan",
			slog.String("provider", resp.ProviderID),
			slog.Int("response_len", len(resp.Content)),
			slog.Bool("truncated", resp.Truncated),
		)
		best := BestEffortPlan(title, baseURL, ops)
		best.ProviderID = resp.ProviderID
		span.SetAttributes(attribute.Bool("plan.best_effort", true))
		return best, nil
	}

	p.normalize(&plan, title, baseURL, ops)
	plan.ProviderID = resp.ProviderID

	span.SetAttributes(
		attribute.String("plan.parse_stage", stage.String()),
		attribute.Int("plan.items", len(plan.Items)),
		attribute.Int("plan.dependencies", len(plan.Dependencies)),
	)
	p.logger.Info("plan generated",
		slog.String("provider", resp.ProviderID),
		slog.String("parse_stage", stage.String()),
		slog.Int("items", len(plan.Items)),
		slog.Int("dependencies", len(plan.Dependencies)),
		slog.Duration("duration", time.Since(start)),
	)
	return &plan, nil
}

func (p *Planner) baseURL(sp *spec.NormalizedSpec, runCfg *testgen.RunConfig) string {
	switch {
	case runCfg != nil && runCfg.BaseURL != "":
		return runCfg.BaseURL
	case sp.BaseURL != "":
		return sp.BaseURL
	default:
		return p.cfg.DefaultBaseURL
	}
}

// normalize drops items for unknown operations, fills missing fields and
// adds coverage for operations the response omitted.
func (p *Planner) normalize(plan *testgen.TestPlan, title, baseURL string, ops []spec.Operation) {
	byID := make(map[string]*spec.Operation, len(ops)*2)
	for i := range ops {
		byID[ops[i].ID()] = &ops[i]
		byID[ops[i].Key()] = &ops[i]
	}

	if plan.Title == "" {
		plan.Title = title
	}
	plan.BaseURL = baseURL

	covered := make(map[string]bool, len(ops))
	items := plan.Items[:0]
	for _, it := range plan.Items {
		op := byID[it.OperationID]
		if op == nil {
			op = byID[strings.ToUpper(it.Method)+" "+it.Path]
		}
		if op == nil {
			p.logger.Debug("dropping plan item for unknown operation",
				slog.String("operation", it.OperationID))
			continue
		}
		it.OperationID = op.ID()
		it.Method = strings.ToUpper(op.Method)
		it.Path = op.Path
		if !it.Category.Valid() {
			it.Category = testgen.CategoryPositive
		}
		if it.ExpectedStatusCode < 100 || it.ExpectedStatusCode > 599 {
			if it.Category == testgen.CategoryPositive {
				it.ExpectedStatusCode = op.SuccessStatus()
			} else {
				it.ExpectedStatusCode = 400
			}
		}
		if it.Priority <= 0 {
			it.Priority = 1
		}
		if string(it.SuggestedBody) == "null" {
			it.SuggestedBody = nil
		}
		covered[op.ID()] = true
		items = append(items, it)
	}
	plan.Items = items

	var missing []spec.Operation
	for _, op := range ops {
		if !covered[op.ID()] {
			missing = append(missing, op)
		}
	}
	if len(missing) > 0 {
		p.logger.Info("filling plan coverage", slog.Int("operations", len(missing)))
		for i := range missing {
			plan.Items = append(plan.Items, itemsFor(&missing[i])[0])
		}
	}

	plan.Dependencies = mergeDependencies(filterDependencies(plan.Dependencies, byID), InferDependencies(ops))
}

func filterDependencies(deps []testgen.OperationDependency, byID map[string]*spec.Operation) []testgen.OperationDependency {
	out := make([]testgen.OperationDependency, 0, len(deps))
	for _, d := range deps {
		src, dst := byID[d.SourceOperation], byID[d.TargetOperation]
		if src == nil || dst == nil {
			continue
		}
		d.SourceOperation, d.TargetOperation = src.ID(), dst.ID()
		out = append(out, d)
	}
	return out
}
