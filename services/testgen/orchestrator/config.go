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
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config configures the orchestrator.
type Config struct {
	// MaxConcurrentRuns caps runs past the queued phase.
	// Default: 4
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// RunTimeout bounds a whole run, queue wait included.
	// Default: 30m
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxZeroFixRetries is how many consecutive unmodified re-runs are
	// allowed when the reflection asks to retry without fixes.
	// Default: 1
	MaxZeroFixRetries int `yaml:"max_zero_fix_retries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns: 4,
		RunTimeout:        30 * time.Minute,
		MaxZeroFixRetries: 1,
	}
}

// Validate clamps out-of-range values.
func (c *Config) Validate() error {
	if c.MaxConcurrentRuns < 1 {
		c.MaxConcurrentRuns = 1
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Minute
	}
	if c.MaxZeroFixRetries < 0 {
		c.MaxZeroFixRetries = 0
	}
	return nil
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore sets the snapshot store. Defaults to a runstore.MemoryStore.
func WithStore(s runstore.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithRecorder sets a sink that receives every completed iteration.
func WithRecorder(r IterationRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the run id source, for tests.
func WithIDGenerator(next func() string) Option {
	return func(o *Orchestrator) { o.newID = next }
}
