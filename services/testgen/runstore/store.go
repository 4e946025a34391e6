// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore keeps RunStatus snapshots for polling.
//
// The orchestrator task of a run is the only writer of its status; it saves
// a snapshot after every change. Readers get copies. Terminal runs are
// evicted after a retention period or when the store exceeds its entry
// limit, oldest first. Runs that have not reached a terminal phase are
// never evicted.
package runstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// ErrClosed indicates use of a closed store.
var ErrClosed = errors.New("run store closed")

// Store persists run status snapshots.
type Store interface {
	// Save stores a copy of the status, replacing any previous snapshot.
	Save(ctx context.Context, status *testgen.RunStatus) error

	// Get returns a copy of the status or an error wrapping
	// testgen.ErrRunNotFound.
	Get(ctx context.Context, runID string) (*testgen.RunStatus, error)

	// List returns copies of stored statuses, newest first.
	List(ctx context.Context, opts ListOptions) ([]*testgen.RunStatus, error)

	// Delete removes a status. Deleting a missing run is not an error.
	Delete(ctx context.Context, runID string) error

	// Sweep applies the retention policy as of now.
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)

	Close() error
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the result count. Zero means no limit.
	Limit int

	// Phase keeps only runs in this phase when set.
	Phase testgen.Phase

	// SpecID keeps only runs of this spec when set.
	SpecID string
}

func (o ListOptions) match(s *testgen.RunStatus) bool {
	if o.Phase != "" && s.Phase != o.Phase {
		return false
	}
	if o.SpecID != "" && s.SpecID != o.SpecID {
		return false
	}
	return true
}

// SweepResult reports one retention pass.
type SweepResult struct {
	// Expired counts terminal runs older than the retention period.
	Expired int

	// Evicted counts terminal runs removed to honor MaxEntries.
	Evicted int
}

// Config configures retention.
type Config struct {
	// Retention is how long a terminal run is kept after completion.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// MaxEntries caps stored runs; the oldest terminal runs go first.
	// Default: 1000
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is the period of the background sweeper.
	// Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		MaxEntries:    1000,
		SweepInterval: 5 * time.Minute,
	}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return nil
}

// expired reports whether a terminal run has outlived the retention.
func expired(s *testgen.RunStatus, now time.Time, retention time.Duration) bool {
	return s.Phase.IsTerminal() && s.CompletedAt != nil && now.Sub(*s.CompletedAt) > retention
}

// evictionOrder returns the ids of terminal runs, oldest completion first,
// that must go for total to fit within limit.
func evictionOrder(statuses []*testgen.RunStatus, limit int) []string {
	excess := len(statuses) - limit
	if excess <= 0 {
		return nil
	}
	var terminal []*testgen.RunStatus
	for _, s := range statuses {
		if s.Phase.IsTerminal() {
			terminal = append(terminal, s)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return completedAt(terminal[i]).Before(completedAt(terminal[j]))
	})
	if excess > len(terminal) {
		excess = len(terminal)
	}
	ids := make([]string, 0, excess)
	for _, s := range terminal[:excess] {
		ids = append(ids, s.RunID)
	}
	return ids
}

func completedAt(s *testgen.RunStatus) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.StartedAt
}

// sortNewestFirst orders statuses by start time, newest first.
func sortNewestFirst(statuses []*testgen.RunStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].StartedAt.Equal(statuses[j].StartedAt) {
			return statuses[i].RunID < statuses[j].RunID
		}
		return statuses[i].StartedAt.After(statuses[j].StartedAt)
	})
}
