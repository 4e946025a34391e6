// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reflector diagnoses failing executions and proposes fixes.
//
// Failures that only show the API accepting invalid input are filtered out
// before the generation capability is consulted. Proposed fixes are
// post-processed, scrubbed to the suite's files and checked by a guardrail
// that rejects any fix which lowers a negative test's expected status from
// 4xx to 2xx. shouldRetry is derived from the failure source and the
// surviving fixes rather than taken from the response.
package reflector

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/jsonrepair"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

var tracer = otel.Tracer("selfheal.testgen.reflector")

// Config configures the Reflector.
type Config struct {
	// Temperature for diagnosis.
	// Default: 0.1
	Temperature float32

	// MaxTokens caps the diagnosis response.
	// Default: 16000
	MaxTokens int

	// EnableGuardrail rejects fixes that weaken negative tests.
	// Default: true
	EnableGuardrail bool

	// EnableBenignFilter filters validation-gap failures before diagnosis.
	// Default: true
	EnableBenignFilter bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:        0.1,
		MaxTokens:          16000,
		EnableGuardrail:    true,
		EnableBenignFilter: true,
	}
}

// Reflector produces Reflections.
//
// Thread Safety: Safe for concurrent use if the Generator is.
type Reflector struct {
	gen    llm.Generator
	cfg    Config
	logger *slog.Logger
}

// New creates a Reflector. A nil logger uses slog.Default().
func New(gen llm.Generator, cfg Config, logger *slog.Logger) *Reflector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Reflector{gen: gen, cfg: cfg, logger: logger.With(slog.String("component", "reflector"))}
}

type rawReflection struct {
	FailureSource string        `json:"failureSource"`
	Summary       string        `json:"summary"`
	ShouldRetry   bool          `json:"shouldRetry"`
	Fixes         []testgen.Fix `json:"fixes"`
}

// Reflect diagnoses one execution.
//
// Description:
//
//	1. Filters validation-gap failures; if none remain, returns api-bug
//	   without calling the generator.
//	2. Selects the relevant files and asks the generator for a diagnosis.
//	3. Parses the response with JSON repair, falling back to an unknown
//	   source with no fixes when it cannot be parsed.
//	4. Post-processes fixes, drops fixes for unknown files and runs the
//	   guardrail.
//	5. Derives shouldRetry from the retry policy.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	exec - The execution to diagnose.
//	files - Current test sources by suite path.
//
// Outputs:
//
//	*testgen.Reflection - Never nil when error is nil.
//	error - Only context errors.
func (r *Reflector) Reflect(ctx context.Context, exec *testgen.ExecutionResult, files map[string]string) (*testgen.Reflection, error) {
	if ctx == nil {
		return nil, testgen.ErrNilContext
	}
	ctx, span := tracer.Start(ctx, "reflector.Reflect")
	defer span.End()

	failures := exec.Failures()
	var benign []testgen.TestCaseResult
	if r.cfg.EnableBenignFilter {
		benign, failures = partitionFailures(failures)
	}
	benignNames := namesOf(benign)
	span.SetAttributes(
		attribute.Int("reflector.failures", len(failures)),
		attribute.Int("reflector.benign", len(benign)),
	)

	if len(benign) > 0 && len(failures) == 0 {
		r.logger.Info("All failures are API validation gaps",
			slog.Int("benign", len(benign)),
		)
		return &testgen.Reflection{
			FailureSource:  testgen.SourceAPIBug,
			Summary:        "Every failing test is a negative test that expected a 4xx rejection but the API accepted the input.",
			ShouldRetry:    false,
			Fixes:          []testgen.Fix{},
			BenignFailures: benignNames,
		}, nil
	}

	selected := selectFiles(ctx, failures, files)
	start := time.Now()
	resp, err := r.gen.Generate(ctx, &llm.Request{
		Prompt:       buildPrompt(exec, failures, selected),
		SystemPrompt: systemPrompt,
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("Diagnosis generation failed, using fallback",
			slog.String("error", err.Error()),
		)
		ref := fallback("Diagnosis unavailable: " + err.Error())
		ref.BenignFailures = benignNames
		NormalizeRetry(ref, r.logger)
		return ref, nil
	}

	var raw rawReflection
	stage, perr := jsonrepair.Unmarshal(resp.Content, &raw)
	var ref *testgen.Reflection
	if perr != nil {
		r.logger.Warn("Diagnosis response unparseable, using fallback",
			slog.String("provider", resp.ProviderID),
			slog.Int("response_len", len(resp.Content)),
		)
		ref = fallback("Diagnosis response could not be parsed.")
	} else {
		ref = &testgen.Reflection{
			FailureSource: testgen.ParseFailureSource(strings.ToLower(strings.TrimSpace(raw.FailureSource))),
			Summary:       raw.Summary,
			ShouldRetry:   raw.ShouldRetry,
			Fixes:         r.scrub(raw.Fixes, files),
		}
	}
	ref.ProviderID = resp.ProviderID
	ref.BenignFailures = benignNames

	if r.cfg.EnableGuardrail {
		if err := r.guard(ctx, ref, files); err != nil {
			return nil, err
		}
		if len(ref.RejectedFixes) > 0 && len(ref.Fixes) == 0 && len(benign) > 0 {
			ref.FailureSource = testgen.SourceAPIBug
			ref.Summary = strings.TrimSpace(ref.Summary + " Proposed fixes weakened negative tests; remaining failures are attributed to the API.")
		}
	}

	NormalizeRetry(ref, r.logger)

	span.SetAttributes(
		attribute.String("reflector.failure_source", string(ref.FailureSource)),
		attribute.Int("reflector.fixes", len(ref.Fixes)),
		attribute.Int("reflector.rejected", len(ref.RejectedFixes)),
		attribute.Bool("reflector.should_retry", ref.ShouldRetry),
	)
	r.logger.Info("Reflection complete",
		slog.String("provider", resp.ProviderID),
		slog.String("parse_stage", stage.String()),
		slog.String("failure_source", string(ref.FailureSource)),
		slog.Int("fixes", len(ref.Fixes)),
		slog.Int("rejected", len(ref.RejectedFixes)),
		slog.Bool("should_retry", ref.ShouldRetry),
		slog.Duration("duration", time.Since(start)),
	)
	return ref, nil
}

func fallback(summary string) *testgen.Reflection {
	return &testgen.Reflection{
		FailureSource: testgen.SourceUnknown,
		Summary:       summary,
		ShouldRetry:   true,
		Fixes:         []testgen.Fix{},
	}
}

// scrub post-processes fixes and drops those for files outside the suite.
func (r *Reflector) scrub(fixes []testgen.Fix, files map[string]string) []testgen.Fix {
	out := make([]testgen.Fix, 0, len(fixes))
	seen := make(map[string]bool, len(fixes))
	for _, f := range fixes {
		p := resolvePath(f.FilePath, files)
		if p == "" {
			r.logger.Warn("Dropping fix for unknown file", slog.String("path", f.FilePath))
			continue
		}
		if strings.TrimSpace(f.NewContent) == "" || seen[p] {
			continue
		}
		seen[p] = true
		f.FilePath = p
		f.NewContent = writer.PostProcess(f.NewContent)
		out = append(out, f)
	}
	return out
}

// resolvePath maps a proposed path onto a suite path. A bare file name is
// accepted when it identifies exactly one suite file.
func resolvePath(p string, files map[string]string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "./")
	if _, ok := files[p]; ok {
		return p
	}
	match := ""
	for candidate := range files {
		if path.Base(candidate) == path.Base(p) {
			if match != "" {
				return ""
			}
			match = candidate
		}
	}
	return match
}

// guard moves fixes that weaken negative tests to RejectedFixes.
func (r *Reflector) guard(ctx context.Context, ref *testgen.Reflection, files map[string]string) error {
	kept := ref.Fixes[:0]
	for _, f := range ref.Fixes {
		violations, err := CheckFix(ctx, files[f.FilePath], f.NewContent)
		if err != nil {
			return err
		}
		if len(violations) == 0 {
			kept = append(kept, f)
			continue
		}
		for _, v := range violations {
			r.logger.Warn("Guardrail rejected fix",
				slog.String("path", f.FilePath),
				slog.String("method", v.Method),
				slog.Any("before", v.Before),
				slog.Any("after", v.After),
			)
		}
		ref.RejectedFixes = append(ref.RejectedFixes, f.FilePath)
	}
	ref.Fixes = kept
	return nil
}

func namesOf(results []testgen.TestCaseResult) []string {
	if len(results) == 0 {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.ClassName != "" {
			out = append(out, r.ClassName+"."+r.Name)
		} else {
			out = append(out, r.Name)
		}
	}
	return out
}
