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
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// MemoryStore keeps snapshots in process memory.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*testgen.RunStatus
	cfg    Config
	closed bool
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	_ = cfg.Validate()
	return &MemoryStore{runs: make(map[string]*testgen.RunStatus), cfg: cfg}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, status *testgen.RunStatus) error {
	snapshot := status.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[status.RunID] = snapshot
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, runID string) (*testgen.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", testgen.ErrRunNotFound, runID)
	}
	return s.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*testgen.RunStatus, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]*testgen.RunStatus, 0, len(m.runs))
	for _, s := range m.runs {
		if opts.match(s) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	for i, s := range out {
		out[i] = s.Clone()
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

// Sweep implements Store.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SweepResult{}, ErrClosed
	}

	var res SweepResult
	for id, s := range m.runs {
		if expired(s, now, m.cfg.Retention) {
			delete(m.runs, id)
			res.Expired++
		}
	}

	all := make([]*testgen.RunStatus, 0, len(m.runs))
	for _, s := range m.runs {
		all = append(all, s)
	}
	for _, id := range evictionOrder(all, m.cfg.MaxEntries) {
		delete(m.runs, id)
		res.Evicted++
	}
	return res, nil
}

// Len returns the number of stored runs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.runs = map[string]*testgen.RunStatus{}
	return nil
}
