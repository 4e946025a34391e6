// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper applies a store's retention policy on a fixed interval.
//
// Thread Safety: Safe for concurrent use.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewSweeper creates a sweeper. It does nothing until Start.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start sweeps once immediately, then every interval until ctx is done or
// Stop is called. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.runLoop(ctx, s.done, s.stopped)

	s.logger.Info("Run store sweeper started",
		slog.Duration("interval", s.interval),
	)
}

// Stop halts the sweeper and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("Run store sweeper stopped")
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow performs one sweep synchronously.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	res, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Warn("Run store sweep failed", slog.String("error", err.Error()))
		return res, err
	}
	if res.Expired > 0 || res.Evicted > 0 {
		s.logger.Info("Run store sweep completed",
			slog.Int("expired", res.Expired),
			slog.Int("evicted", res.Evicted),
		)
	}
	return res, nil
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.RunNow(ctx)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-done:
			return
		case <-ticker.C:
			_, _ = s.RunNow(ctx)
		}
	}
}
