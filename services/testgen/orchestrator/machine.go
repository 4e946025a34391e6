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
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// transitions lists the legal successors of each phase. Every non-terminal
// phase may also move to failed.
var transitions = map[testgen.Phase][]testgen.Phase{
	testgen.PhaseQueued:     {testgen.PhasePlanning},
	testgen.PhasePlanning:   {testgen.PhaseWriting},
	testgen.PhaseWriting:    {testgen.PhasePersisting},
	testgen.PhasePersisting: {testgen.PhaseExecuting, testgen.PhaseCompleted},
	testgen.PhaseExecuting:  {testgen.PhaseReflecting, testgen.PhaseCompleted},
	testgen.PhaseReflecting: {testgen.PhaseFixing, testgen.PhaseExecuting, testgen.PhaseCompleted},
	testgen.PhaseFixing:     {testgen.PhaseExecuting, testgen.PhaseCompleted},
}

// canTransition reports whether from -> to is legal.
func canTransition(from, to testgen.Phase) bool {
	if from.IsTerminal() {
		return false
	}
	if to == testgen.PhaseFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
