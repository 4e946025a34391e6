// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package writer assembles a buildable Maven test project from a TestPlan.
//
// Scaffolding (pom.xml, BaseTest, ConfigReader, config.properties) is
// rendered from templates. Test classes are requested from the generation
// capability one group of plan items at a time, where a group is the set of
// items sharing a first path segment. Every generated or repaired source
// passes through PostProcess before it is persisted.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/javasrc"
)

var tracer = otel.Tracer("selfheal.testgen.writer")

// ErrNoTestSources indicates no group produced a usable test class.
var ErrNoTestSources = errors.New("no test sources generated")

// Config configures the Writer.
type Config struct {
	// Temperature for source generation.
	// Default: 0.2
	Temperature float32

	// MaxTokens caps one generated class.
	// Default: 8000
	MaxTokens int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.2, MaxTokens: 8000}
}

// Writer generates test suites.
//
// Thread Safety: Safe for concurrent use if the Generator is.
type Writer struct {
	gen    llm.Generator
	cfg    Config
	logger *slog.Logger
}

// New creates a Writer. A nil logger uses slog.Default().
func New(gen llm.Generator, cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Writer{gen: gen, cfg: cfg, logger: logger.With(slog.String("component", "writer"))}
}

// Write builds the complete suite for a plan.
//
// Description:
//
//	Renders the scaffold, then generates one test class per group. A group
//	whose generation fails or yields no class is skipped with a warning.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	plan - The test plan.
//	runCfg - Supplies the namespace.
//
// Outputs:
//
//	*testgen.TestSuite - Scaffold plus generated classes.
//	error - ErrNoTestSources if every group failed, or the context error.
func (w *Writer) Write(ctx context.Context, plan *testgen.TestPlan, runCfg *testgen.RunConfig) (*testgen.TestSuite, error) {
	if ctx == nil {
		return nil, testgen.ErrNilContext
	}
	ctx, span := tracer.Start(ctx, "writer.Write")
	defer span.End()

	suite := &testgen.TestSuite{
		Name:      artifactID(plan.Title),
		Namespace: runCfg.Namespace,
	}
	scaffold, err := Scaffold(suite.Name, suite.Namespace, plan.BaseURL)
	if err != nil {
		return nil, err
	}
	suite.Files = append(suite.Files, scaffold...)

	groups := GroupItems(plan.Items)
	span.SetAttributes(attribute.Int("writer.groups", len(groups)))

	var lastErr error
	generated := 0
	for _, g := range groups {
		start := time.Now()
		file, provider, err := w.writeGroup(ctx, g, plan, suite)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			w.logger.Warn("Skipping test group",
				slog.String("group", g.Segment),
				slog.String("error", err.Error()),
			)
			continue
		}
		suite.Files = append(suite.Files, file)
		suite.ProviderIDs = appendUnique(suite.ProviderIDs, provider)
		generated++
		w.logger.Info("Generated test class",
			slog.String("group", g.Segment),
			slog.String("path", file.Path),
			slog.Int("items", len(g.Items)),
			slog.String("provider", provider),
			slog.Duration("duration", time.Since(start)),
		)
	}

	span.SetAttributes(attribute.Int("writer.generated", generated))
	if generated == 0 {
		if lastErr == nil {
			return nil, ErrNoTestSources
		}
		return nil, fmt.Errorf("%w: %w", ErrNoTestSources, lastErr)
	}
	return suite, nil
}

func (w *Writer) writeGroup(ctx context.Context, g Group, plan *testgen.TestPlan, suite *testgen.TestSuite) (testgen.GeneratedFile, string, error) {
	resp, err := w.gen.Generate(ctx, &llm.Request{
		Prompt:       buildPrompt(suite.Namespace, g, plan.Dependencies),
		SystemPrompt: systemPrompt,
		Temperature:  w.cfg.Temperature,
		MaxTokens:    w.cfg.MaxTokens,
	})
	if err != nil {
		return testgen.GeneratedFile{}, "", err
	}

	src := Normalize(resp.Content, suite.Namespace)
	class := javasrc.ClassName(ctx, src)
	if class == "" {
		return testgen.GeneratedFile{}, "", fmt.Errorf("response for %s has no class declaration", g.Class)
	}
	p := SourcePath(suite.Namespace, class)
	if _, exists := suite.File(p); exists {
		return testgen.GeneratedFile{}, "", fmt.Errorf("class %s already generated", class)
	}
	return testgen.GeneratedFile{Path: p, Content: src}, resp.ProviderID, nil
}

var packageDecl = regexp.MustCompile(`(?m)^package\s+[\w.]+\s*;`)

// Normalize applies PostProcess and pins the package declaration to the
// namespace. It is idempotent.
func Normalize(src, namespace string) string {
	s := PostProcess(src)
	decl := "package " + namespace + ";"
	if loc := packageDecl.FindStringIndex(s); loc != nil {
		return s[:loc[0]] + decl + s[loc[1]:]
	}
	return decl + "\n\n" + s
}

// IsTestSource reports whether a suite path holds a generated test class.
func IsTestSource(namespace, p string) bool {
	return strings.HasSuffix(p, ".java") && !IsScaffold(namespace, p)
}

func appendUnique(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}
