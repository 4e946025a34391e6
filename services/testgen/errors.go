// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testgen

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidRunConfig indicates the run configuration failed validation.
	ErrInvalidRunConfig = errors.New("invalid run configuration")

	// ErrSpecNotFound indicates the spec store has no spec with the given id.
	ErrSpecNotFound = errors.New("spec not found")

	// ErrRunNotFound indicates no run with the given id is known.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoOperations indicates the operation filter selected nothing.
	ErrNoOperations = errors.New("no operations selected")

	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrRunTimeout indicates the run exceeded its overall deadline.
	ErrRunTimeout = errors.New("run timeout")

	// ErrShuttingDown indicates the orchestrator no longer accepts runs.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
