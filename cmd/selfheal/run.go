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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/ux"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
)

// Exit codes of the run command.
const (
	exitPassed   = 0
	exitDegraded = 1
	exitFailed   = 2
)

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specID, err := resolveSpecID(args, runOpts.specFiles)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{
		specFiles: runOpts.specFiles,
		quiet:     !runOpts.verbose,
		service:   "selfheal-run",
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	runCfg := runOpts.apply(cmd, cfg.Defaults)
	runCfg.SpecID = specID
	runID, err := a.orch.StartRun(ctx, runCfg)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	out := cmd.OutOrStdout()
	p := ux.NewPrinter(out)
	spin := ux.NewSpinner(p, "run "+runID+" queued")
	if !runOpts.json {
		spin.Start()
	}
	status, err := waitForRun(ctx, a.orch, runID, runOpts.pollInterval, func(s *testgen.RunStatus) {
		spin.UpdateMessage(ux.Progress(s))
	})
	spin.Stop()
	if err != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("run %s: %w", runID, err)}
	}

	if runOpts.json {
		if err := writeJSON(out, status); err != nil {
			return err
		}
	} else {
		p.RenderRun(status)
	}
	if code := exitCodeFor(status); code != exitPassed {
		return &exitError{code: code}
	}
	return nil
}

// apply overlays the flags that were set onto defaults.
func (f *runFlags) apply(cmd *cobra.Command, defaults testgen.RunConfig) testgen.RunConfig {
	cfg := defaults
	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = f.maxIterations
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.namespace != "" {
		cfg.Namespace = f.namespace
	}
	if f.noExecute {
		cfg.AutoExecute = false
	}
	if len(f.operations) > 0 {
		cfg.Operations = f.operations
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	return cfg
}

// resolveSpecID takes the spec id from args, or from the only spec file.
func resolveSpecID(args, specFiles []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if len(specFiles) != 1 {
		return "", errors.New("pass a spec id, or exactly one --spec-file")
	}
	sp, err := spec.ReadFile(specFiles[0])
	if err != nil {
		return "", fmt.Errorf("read spec %s: %w", specFiles[0], err)
	}
	return sp.ID, nil
}

// statusGetter reads run status.
type statusGetter interface {
	GetStatus(ctx context.Context, runID string) (*testgen.RunStatus, error)
}

// waitForRun polls until the run is terminal.
//
// Inputs:
//
//	onUpdate - Called with every polled status, terminal included. May be nil.
func waitForRun(ctx context.Context, g statusGetter, runID string, interval time.Duration, onUpdate func(*testgen.RunStatus)) (*testgen.RunStatus, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := g.GetStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(status)
		}
		if status.Phase.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// exitCodeFor maps a terminal status to a process exit code.
func exitCodeFor(s *testgen.RunStatus) int {
	if s.Phase == testgen.PhaseFailed {
		return exitFailed
	}
	switch s.Outcome {
	case testgen.OutcomePassed, testgen.OutcomeNotExecuted:
		return exitPassed
	case testgen.OutcomeError:
		return exitFailed
	default:
		return exitDegraded
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
