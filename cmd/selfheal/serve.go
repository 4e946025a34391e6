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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSelfHeal/services/telemetry"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/api"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}

	a, err := newApp(ctx, cfg, appOptions{service: "selfheal"})
	if err != nil {
		return err
	}
	logger := a.log.Slog()

	handlers := api.NewHandlers(a.orch, cfg.Defaults, logger).
		WithPollInterval(cfg.Server.StreamPollInterval)
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(handlers, api.RouterConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Metrics:     telemetry.MetricsHandler(),
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting selfheal server",
			slog.String("address", cfg.Server.Addr),
			slog.String("store", cfg.Store.Backend),
			slog.Int("max_concurrent_runs", cfg.Orchestrator.MaxConcurrentRuns),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	a.sweeper.Start(gctx)
	if a.dir != nil {
		if err := a.dir.Watch(gctx); err != nil {
			logger.Warn("Spec directory is not watched", slog.String("error", err.Error()))
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down selfheal server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), a.orch.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.close(closeCtx))
}
