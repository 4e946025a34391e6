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
	"errors"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

var (
	// ErrMissingComponent indicates New was called without a pipeline stage.
	ErrMissingComponent = errors.New("orchestrator component must not be nil")

	// ErrEmptySuite indicates the writer produced no files.
	ErrEmptySuite = errors.New("writer produced an empty suite")
)

// PhaseTransitionError indicates an invalid phase transition was attempted.
type PhaseTransitionError struct {
	From testgen.Phase
	To   testgen.Phase
}

// Error implements the error interface.
func (e *PhaseTransitionError) Error() string {
	return "invalid run phase transition: " + string(e.From) + " -> " + string(e.To)
}

// ExecutionError wraps a build tool failure that ended a run.
type ExecutionError struct {
	// Iteration is the 1-based iteration of the failed invocation.
	Iteration int

	// Cause is the executor error.
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return "test execution failed: " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
