// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spec

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// MemoryStore is a Store backed by a map.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	specs map[string]*NormalizedSpec
}

// NewMemoryStore creates a store holding specs.
func NewMemoryStore(specs ...*NormalizedSpec) *MemoryStore {
	s := &MemoryStore{specs: make(map[string]*NormalizedSpec, len(specs))}
	for _, sp := range specs {
		s.specs[sp.ID] = sp
	}
	return s
}

// Put adds or replaces a spec.
func (s *MemoryStore) Put(sp *NormalizedSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[sp.ID] = sp
}

// Delete removes a spec.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.specs, id)
}

// IDs returns the ids of all held specs.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.specs))
	for id := range s.specs {
		ids = append(ids, id)
	}
	return ids
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*NormalizedSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", testgen.ErrSpecNotFound, id)
	}
	return sp, nil
}
