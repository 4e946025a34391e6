// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs the build tool against a generated suite and parses
// its console output into an ExecutionResult.
//
// A failing test suite is a normal result. Only process-level faults are
// errors: the timeout, the output cap, or a command that cannot start.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

var tracer = otel.Tracer("selfheal.testgen.executor")

var (
	// ErrTestTimeout indicates the build tool exceeded its timeout.
	ErrTestTimeout = errors.New("test execution timed out")

	// ErrOutputLimit indicates the build tool exceeded the output cap.
	ErrOutputLimit = errors.New("test output exceeded limit")

	// ErrCommandFailed indicates the build tool could not be run.
	ErrCommandFailed = errors.New("test command failed to run")
)

// =============================================================================
// CONFIG
// =============================================================================

// Config configures the Executor.
type Config struct {
	// Command is the build tool executable.
	// Default: mvn
	Command string `yaml:"command"`

	// Args runs the tests non-interactively.
	// Default: [-B test]
	Args []string `yaml:"args"`

	// Timeout bounds one test run.
	// Default: 10m
	Timeout time.Duration `yaml:"timeout"`

	// MaxOutputBytes caps captured output. Exceeding it stops the run.
	// Default: 8 MiB
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// TailBytes is the size of the output tail kept in the result.
	// Default: 4096
	TailBytes int `yaml:"tail_bytes"`

	// GenerateReport renders the HTML report after a run with tests.
	// Default: true
	GenerateReport bool `yaml:"generate_report"`

	// ReportArgs renders the report from existing results.
	// Default: [-B surefire-report:report-only]
	ReportArgs []string `yaml:"report_args"`

	// ReportTimeout bounds report generation.
	// Default: 2m
	ReportTimeout time.Duration `yaml:"report_timeout"`

	// Env is appended to the process environment.
	Env []string `yaml:"env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Command:        "mvn",
		Args:           []string{"-B", "test"},
		Timeout:        10 * time.Minute,
		MaxOutputBytes: 8 << 20,
		TailBytes:      4096,
		GenerateReport: true,
		ReportArgs:     []string{"-B", "surefire-report:report-only"},
		ReportTimeout:  2 * time.Minute,
	}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.Args == nil {
		c.Args = d.Args
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = d.MaxOutputBytes
	}
	if c.TailBytes <= 0 {
		c.TailBytes = d.TailBytes
	}
	if c.ReportArgs == nil {
		c.ReportArgs = d.ReportArgs
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = d.ReportTimeout
	}
	return nil
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs suites.
//
// Thread Safety: Safe for concurrent use. Each execution creates its own process.
type Executor struct {
	cfg      Config
	uploader ReportUploader
	redactor Redactor
	logger   *slog.Logger
}

// Redactor scrubs secrets from captured build output.
type Redactor interface {
	Redact(s string) string
}

// Option configures an Executor.
type Option func(*Executor)

// WithUploader publishes rendered reports.
func WithUploader(u ReportUploader) Option {
	return func(e *Executor) { e.uploader = u }
}

// WithRedactor scrubs captured output before it is parsed or reported.
func WithRedactor(r Redactor) Option {
	return func(e *Executor) { e.redactor = r }
}

// New creates an Executor. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	_ = cfg.Validate()
	e := &Executor{cfg: cfg, logger: logger.With(slog.String("component", "executor"))}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the tests of the suite rooted at dir.
//
// Description:
//
//	Runs the build tool, then classifies the output: a compile or build
//	failure yields one synthetic build-error result; otherwise failures
//	are parsed from the summary sections and the totals line, and
//	placeholder results cover tests the summary does not enumerate.
//	A non-zero exit code is not an error.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	dir - Suite root containing pom.xml
//
// Outputs:
//
//	*testgen.ExecutionResult - Parsed result; non-nil whenever the process ran.
//	error - ErrTestTimeout, ErrOutputLimit or ErrCommandFailed.
func (e *Executor) Execute(ctx context.Context, dir string) (*testgen.ExecutionResult, error) {
	if ctx == nil {
		return nil, testgen.ErrNilContext
	}
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("executor.dir", dir))

	start := time.Now()
	run, err := e.run(ctx, dir, e.cfg.Args, e.cfg.Timeout)
	if run != nil && e.redactor != nil {
		run.output = e.redactor.Redact(run.output)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if run == nil {
			return nil, err
		}
		res := &testgen.ExecutionResult{
			ExitCode:   run.exitCode,
			Duration:   time.Since(start),
			OutputTail: tail(run.output, e.cfg.TailBytes),
			Truncated:  run.truncated,
		}
		return res, err
	}

	res := buildResult(run.output, run.exitCode)
	res.Duration = time.Since(start)
	res.OutputTail = tail(run.output, e.cfg.TailBytes)
	res.Truncated = run.truncated

	span.SetAttributes(
		attribute.Bool("executor.success", res.Success),
		attribute.Bool("executor.build_failed", res.BuildFailed),
		attribute.Int("executor.total", res.Total),
		attribute.Int("executor.failed", res.Failed+res.Errored),
	)
	e.logger.Info("Suite executed",
		slog.String("dir", dir),
		slog.Bool("success", res.Success),
		slog.Bool("build_failed", res.BuildFailed),
		slog.Int("total", res.Total),
		slog.Int("passed", res.Passed),
		slog.Int("failed", res.Failed),
		slog.Int("errored", res.Errored),
		slog.Int("skipped", res.Skipped),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)

	if e.cfg.GenerateReport && res.Total > 0 {
		e.report(ctx, dir, res)
	}
	return res, nil
}

type runOutput struct {
	output    string
	exitCode  int
	truncated bool
}

// run executes the build tool with a timeout and an output cap.
func (e *Executor) run(ctx context.Context, dir string, args []string, timeout time.Duration) (*runOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	cmd.Dir = dir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.cfg.Env...)
	}
	configureProcess(cmd)

	// One writer for both streams keeps the interleaving and makes exec
	// serialize writes.
	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, limit: e.cfg.MaxOutputBytes, onLimit: cancel}
	cmd.Stdout = out
	cmd.Stderr = out

	e.logger.Debug("Executing command",
		slog.String("command", e.cfg.Command),
		slog.Any("args", args),
		slog.String("dir", dir),
		slog.Duration("timeout", timeout),
	)

	err := cmd.Run()
	result := &runOutput{output: buf.String(), truncated: out.truncated}

	switch {
	case out.truncated:
		result.exitCode = -1
		e.logger.Warn("Test output exceeded limit", slog.Int("limit", e.cfg.MaxOutputBytes))
		return result, fmt.Errorf("%w: %d bytes", ErrOutputLimit, e.cfg.MaxOutputBytes)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.exitCode = -1
		e.logger.Warn("Test execution timed out", slog.Duration("timeout", timeout))
		return result, fmt.Errorf("%w after %s", ErrTestTimeout, timeout)
	case ctx.Err() != nil:
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.exitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	return result, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter caps the bytes written and calls onLimit once when the
// cap is first exceeded.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
	onLimit   func()
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.markTruncated()
		return len(p), nil
	}

	n := len(p)
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.markTruncated()
	}

	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}

func (lw *limitedWriter) markTruncated() {
	if lw.truncated {
		return
	}
	lw.truncated = true
	if lw.onLimit != nil {
		lw.onLimit()
	}
}
