// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testgen holds the data model shared by the API test generation
// pipeline.
//
// A run moves a normalized API description through four stages:
//
//	planner  -> TestPlan
//	writer   -> TestSuite (scaffolding + generated test classes)
//	executor -> ExecutionResult (per iteration)
//	reflector-> Reflection (diagnosis + file-level fixes)
//
// The orchestrator subpackage drives the stages and owns the RunStatus of
// each run. The other subpackages never mutate a RunStatus.
//
// # Thread Safety
//
// Values in this package are plain data. RunStatus is mutated only by the
// orchestrator goroutine that owns the run; readers receive a Clone.
package testgen
