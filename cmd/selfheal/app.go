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
	"log/slog"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/config"
	"github.com/AleutianAI/AleutianSelfHeal/pkg/logging"
	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/telemetry"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/executor"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/orchestrator"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/planner"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/reflector"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/redact"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

// errNoProviders is returned when no generation provider is configured.
var errNoProviders = errors.New("no generation providers configured: set llm.providers or an API key such as ANTHROPIC_API_KEY")

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	specs   spec.Store
	dir     *spec.DirStore
	store   runstore.Store
	sweeper *runstore.Sweeper
	orch    *orchestrator.Orchestrator

	closers []func(ctx context.Context) error
}

// appOptions adjusts wiring per command.
type appOptions struct {
	// specFiles are loaded into an in-memory spec store instead of the
	// configured spec directory.
	specFiles []string

	// quiet keeps logs off the terminal when a log directory is set, and
	// raises the terminal level to warn otherwise.
	quiet bool

	// service names the log file and telemetry resource.
	service string
}

// newApp wires every component from cfg.
//
// Description:
//
//	Order matters: telemetry is initialized before any component creates
//	its tracer or meter instruments. On error, everything opened so far is
//	closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.service == "" {
		opts.service = "selfheal"
	}
	lcfg := cfg.Log.Logging(opts.service)
	if opts.quiet {
		if lcfg.LogDir != "" {
			lcfg.Quiet = true
		} else if lcfg.Level < logging.LevelWarn {
			lcfg.Level = logging.LevelWarn
		}
	}
	a := &app{cfg: cfg, log: logging.New(lcfg)}
	a.closers = append(a.closers, func(context.Context) error { return a.log.Close() })
	ok := false
	defer func() {
		if !ok {
			_ = a.close(context.Background())
		}
	}()
	logger := a.log.Slog()
	slog.SetDefault(logger)

	tcfg := cfg.Telemetry
	tcfg.ServiceName = opts.service
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openSpecs(opts.specFiles, logger); err != nil {
		return nil, err
	}

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	exec, err := a.newExecutor(ctx, logger)
	if err != nil {
		return nil, err
	}

	if err := a.openStore(logger); err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithStore(a.store),
		orchestrator.WithLogger(logger),
	}
	if cfg.Influx.Enabled() {
		rec, err := telemetry.NewInfluxRecorder(cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("open influx recorder: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { rec.Close(); return nil })
		orchOpts = append(orchOpts, orchestrator.WithRecorder(rec))
		logger.Info("Iteration metrics enabled", slog.String("bucket", cfg.Influx.Bucket))
	}

	a.orch, err = orchestrator.New(orchestrator.Stages{
		Specs:     a.specs,
		Planner:   planner.New(gen, planner.DefaultConfig(), logger),
		Writer:    writer.New(gen, writer.DefaultConfig(), logger),
		Executor:  exec,
		Reflector: reflector.New(gen, reflector.DefaultConfig(), logger),
	}, cfg.Orchestrator, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	a.closers = append(a.closers, a.orch.Shutdown)
	ok = true
	return a, nil
}

func (a *app) openSpecs(files []string, logger *slog.Logger) error {
	if len(files) > 0 {
		mem := spec.NewMemoryStore()
		for _, path := range files {
			sp, err := spec.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read spec %s: %w", path, err)
			}
			mem.Put(sp)
		}
		a.specs = mem
		return nil
	}
	dir, err := spec.OpenDirStore(a.cfg.Specs.Dir, logger)
	if err != nil {
		return fmt.Errorf("open spec directory %s: %w", a.cfg.Specs.Dir, err)
	}
	a.dir, a.specs = dir, dir
	a.closers = append(a.closers, func(context.Context) error { return dir.Close() })
	return nil
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Generator, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, errNoProviders
	}
	providers, err := llm.NewProviders(ctx, cfg.LLM.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("create providers: %w", err)
	}
	chain, err := llm.NewChain(providers, cfg.LLM.Chain(), logger)
	if err != nil {
		return nil, fmt.Errorf("create provider chain: %w", err)
	}
	return chain, nil
}

func (a *app) newExecutor(ctx context.Context, logger *slog.Logger) (*executor.Executor, error) {
	red, err := redact.New()
	if err != nil {
		return nil, fmt.Errorf("load redaction rules: %w", err)
	}
	opts := []executor.Option{executor.WithRedactor(red)}
	if r := a.cfg.Reports; r.Bucket != "" {
		up, err := executor.NewGCSUploader(ctx, r.Bucket, r.Prefix, r.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("create report uploader: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return up.Close() })
		opts = append(opts, executor.WithUploader(up))
	}
	return executor.New(a.cfg.Executor, logger, opts...), nil
}

func (a *app) openStore(logger *slog.Logger) error {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreBadger:
		bcfg := runstore.DefaultBadgerConfig(sc.Path)
		bcfg.GCInterval = sc.GCInterval
		bcfg.Logger = logger
		bs, err := runstore.OpenBadgerStore(bcfg, sc.Config)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		a.store = bs
	default:
		a.store = runstore.NewMemoryStore(sc.Config)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })
	a.sweeper = runstore.NewSweeper(a.store, sc.SweepInterval, logger)
	a.closers = append(a.closers, func(context.Context) error { a.sweeper.Stop(); return nil })
	return nil
}

// close releases components in reverse order of creation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
