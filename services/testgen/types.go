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

import (
	"encoding/json"
	"time"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase represents a state in the run state machine.
type Phase string

const (
	// PhaseQueued is the initial phase while the run waits for a slot.
	PhaseQueued Phase = "queued"

	// PhasePlanning asks the planner for a TestPlan.
	PhasePlanning Phase = "planning"

	// PhaseWriting assembles the test project in memory.
	PhaseWriting Phase = "writing"

	// PhasePersisting writes the test project to the output directory.
	PhasePersisting Phase = "persisting"

	// PhaseExecuting runs the build tool against the project.
	PhaseExecuting Phase = "executing"

	// PhaseReflecting diagnoses the failures of the last execution.
	PhaseReflecting Phase = "reflecting"

	// PhaseFixing applies proposed fixes to disk.
	PhaseFixing Phase = "fixing"

	// PhaseCompleted indicates the run finished, possibly degraded.
	PhaseCompleted Phase = "completed"

	// PhaseFailed indicates the run aborted on an unrecoverable error.
	PhaseFailed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal returns true if the phase is completed or failed.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// AllPhases returns all valid phases in pipeline order.
func AllPhases() []Phase {
	return []Phase{
		PhaseQueued,
		PhasePlanning,
		PhaseWriting,
		PhasePersisting,
		PhaseExecuting,
		PhaseReflecting,
		PhaseFixing,
		PhaseCompleted,
		PhaseFailed,
	}
}

// Outcome summarizes why a run reached its terminal phase.
type Outcome string

const (
	// OutcomePassed means the last execution had every test passing.
	OutcomePassed Outcome = "passed"

	// OutcomeDegraded means the run stopped with failing tests.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeAPIBug means the remaining failures were attributed to the API.
	OutcomeAPIBug Outcome = "api-bug"

	// OutcomeNotExecuted means AutoExecute was off.
	OutcomeNotExecuted Outcome = "not-executed"

	// OutcomeError means the run failed.
	OutcomeError Outcome = "error"
)

// =============================================================================
// PLAN
// =============================================================================

// Category classifies a planned scenario.
type Category string

const (
	CategoryPositive    Category = "positive"
	CategoryNegative    Category = "negative"
	CategoryEdgeCase    Category = "edge-case"
	CategoryDestructive Category = "destructive"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPositive, CategoryNegative, CategoryEdgeCase, CategoryDestructive:
		return true
	default:
		return false
	}
}

// TestPlan is produced once per run by the planner and is read-only after.
type TestPlan struct {
	Title        string                `json:"title"`
	BaseURL      string                `json:"baseUrl"`
	Items        []PlanItem            `json:"items"`
	Dependencies []OperationDependency `json:"dependencies"`
	Reasoning    string                `json:"reasoning,omitempty"`

	// BestEffort is set when the plan was built without a usable
	// generation response.
	BestEffort bool `json:"bestEffort,omitempty"`

	// ProviderID identifies the generation provider that produced the plan.
	ProviderID string `json:"providerId,omitempty"`
}

// PlanItem is one planned test scenario for one operation.
type PlanItem struct {
	OperationID        string          `json:"operationId"`
	Method             string          `json:"method"`
	Path               string          `json:"path"`
	Description        string          `json:"description"`
	Category           Category        `json:"category"`
	ExpectedStatusCode int             `json:"expectedStatusCode"`
	Priority           int             `json:"priority"`
	Prerequisites      []string        `json:"prerequisites,omitempty"`
	Assertions         []string        `json:"assertions,omitempty"`
	RequiresBody       bool            `json:"requiresBody"`
	SuggestedBody      json.RawMessage `json:"suggestedBody,omitempty"`
}

// OperationDependency records that data flows from one operation to another.
type OperationDependency struct {
	SourceOperation string `json:"sourceOperation"`
	TargetOperation string `json:"targetOperation"`
	DataFlow        string `json:"dataFlow"`
}

// =============================================================================
// SUITE
// =============================================================================

// GeneratedFile is one file of the generated project.
type GeneratedFile struct {
	// Path is relative to the suite root and uses forward slashes.
	Path    string `json:"path"`
	Content string `json:"content"`
}

// TestSuite is the complete generated project.
type TestSuite struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	Files     []GeneratedFile `json:"files"`

	// ProviderIDs lists the providers that generated test sources.
	ProviderIDs []string `json:"providerIds,omitempty"`
}

// File returns the file at path, if present.
func (s *TestSuite) File(path string) (GeneratedFile, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return GeneratedFile{}, false
}

// SetContent replaces the content of an existing file. It returns false if
// the suite has no file at path.
func (s *TestSuite) SetContent(path, content string) bool {
	for i := range s.Files {
		if s.Files[i].Path == path {
			s.Files[i].Content = content
			return true
		}
	}
	return false
}

// ContentMap returns path -> content for every file.
func (s *TestSuite) ContentMap() map[string]string {
	m := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		m[f.Path] = f.Content
	}
	return m
}

// =============================================================================
// EXECUTION
// =============================================================================

// TestStatus is the outcome of one test case.
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusError   TestStatus = "error"
	StatusSkipped TestStatus = "skipped"

	// StatusBuildError marks the single synthetic result reported when the
	// project did not compile or the build tool failed before running tests.
	StatusBuildError TestStatus = "build-error"
)

// IsFailure returns true for statuses that need a diagnosis.
func (s TestStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusError || s == StatusBuildError
}

// TestCaseResult is one test (or synthetic placeholder) result.
type TestCaseResult struct {
	Name      string        `json:"name"`
	ClassName string        `json:"className,omitempty"`
	Status    TestStatus    `json:"status"`
	Duration  time.Duration `json:"durationNs"`
	Message   string        `json:"message,omitempty"`
	Trace     string        `json:"trace,omitempty"`

	// Synthetic is set for placeholder entries that were not enumerated by
	// the build tool output.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ExecutionResult aggregates one invocation of the build tool. Each
// iteration produces a fresh result; results are never merged.
type ExecutionResult struct {
	Success     bool             `json:"success"`
	BuildFailed bool             `json:"buildFailed"`
	Total       int              `json:"total"`
	Passed      int              `json:"passed"`
	Failed      int              `json:"failed"`
	Errored     int              `json:"errored"`
	Skipped     int              `json:"skipped"`
	Results     []TestCaseResult `json:"results"`
	ExitCode    int              `json:"exitCode"`
	Duration    time.Duration    `json:"durationNs"`
	OutputTail  string           `json:"outputTail,omitempty"`
	Truncated   bool             `json:"truncated,omitempty"`
	ReportPath  string           `json:"reportPath,omitempty"`
	ReportURL   string           `json:"reportUrl,omitempty"`
}

// Failures returns the results whose status needs a diagnosis.
func (r *ExecutionResult) Failures() []TestCaseResult {
	var out []TestCaseResult
	for _, tc := range r.Results {
		if tc.Status.IsFailure() {
			out = append(out, tc)
		}
	}
	return out
}

// =============================================================================
// REFLECTION
// =============================================================================

// FailureSource is the diagnosed origin of the failures.
type FailureSource string

const (
	SourceTestCode    FailureSource = "test-code"
	SourceAPIBug      FailureSource = "api-bug"
	SourceEnvironment FailureSource = "environment"
	SourceUnknown     FailureSource = "unknown"
)

// ParseFailureSource maps free text to a FailureSource, defaulting to unknown.
func ParseFailureSource(s string) FailureSource {
	switch FailureSource(s) {
	case SourceTestCode, SourceAPIBug, SourceEnvironment:
		return FailureSource(s)
	}
	switch s {
	case "test_code", "testcode", "code":
		return SourceTestCode
	case "api_bug", "apibug", "api":
		return SourceAPIBug
	case "env":
		return SourceEnvironment
	}
	return SourceUnknown
}

// Fix is a proposed full replacement of one suite file.
type Fix struct {
	FilePath    string `json:"filePath"`
	NewContent  string `json:"newContent"`
	Explanation string `json:"explanation,omitempty"`
}

// Reflection is the diagnosis of one ExecutionResult.
type Reflection struct {
	FailureSource FailureSource `json:"failureSource"`
	Summary       string        `json:"summary"`
	ShouldRetry   bool          `json:"shouldRetry"`
	Fixes         []Fix         `json:"fixes"`

	// RejectedFixes lists paths whose fix was discarded by the guardrail.
	RejectedFixes []string `json:"rejectedFixes,omitempty"`

	// BenignFailures lists failing tests attributed to API validation gaps.
	BenignFailures []string `json:"benignFailures,omitempty"`

	// ProviderID identifies the generation provider, empty if none was called.
	ProviderID string `json:"providerId,omitempty"`
}

// =============================================================================
// RUN STATUS
// =============================================================================

// LogEntry is one immutable entry of the run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
}

// AppliedFix summarizes one fix written to disk.
type AppliedFix struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// Iteration records one execute (-> reflect -> fix) cycle.
type Iteration struct {
	Number        int              `json:"number"`
	Execution     *ExecutionResult `json:"execution"`
	Reflection    *Reflection      `json:"reflection,omitempty"`
	FixesApplied  int              `json:"fixesApplied"`
	AppliedFixes  []AppliedFix     `json:"appliedFixes,omitempty"`
	RejectedFixes []string         `json:"rejectedFixes,omitempty"`
}

// RunStatus is the externally observable state of a run.
type RunStatus struct {
	RunID            string           `json:"runId"`
	SpecID           string           `json:"specId"`
	Phase            Phase            `json:"phase"`
	Outcome          Outcome          `json:"outcome,omitempty"`
	CurrentIteration int              `json:"currentIteration"`
	MaxIterations    int              `json:"maxIterations"`
	Log              []LogEntry       `json:"log"`
	Plan             *TestPlan        `json:"plan,omitempty"`
	SuitePath        string           `json:"suitePath,omitempty"`
	Iterations       []Iteration      `json:"iterations"`
	FinalResult      *ExecutionResult `json:"finalResult,omitempty"`
	Error            string           `json:"error,omitempty"`
	ProviderIDs      []string         `json:"providerIds,omitempty"`
	StartedAt        time.Time        `json:"startedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

// NewRunStatus creates the initial status of a run.
func NewRunStatus(runID string, cfg *RunConfig, now time.Time) *RunStatus {
	return &RunStatus{
		RunID:         runID,
		SpecID:        cfg.SpecID,
		Phase:         PhaseQueued,
		MaxIterations: cfg.MaxIterations,
		Log:           []LogEntry{},
		Iterations:    []Iteration{},
		StartedAt:     now,
	}
}

// Append adds a log entry stamped with the current phase.
func (s *RunStatus) Append(now time.Time, msg string) {
	s.Log = append(s.Log, LogEntry{Timestamp: now, Phase: s.Phase, Message: msg})
}

// AddProvider records a provider id once.
func (s *RunStatus) AddProvider(id string) {
	if id == "" {
		return
	}
	for _, p := range s.ProviderIDs {
		if p == id {
			return
		}
	}
	s.ProviderIDs = append(s.ProviderIDs, id)
}

// Clone returns a deep copy safe to hand to readers.
//
// The copy is produced through a JSON round trip so nested plan and result
// slices never alias the live status.
func (s *RunStatus) Clone() *RunStatus {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		cp := *s
		return &cp
	}
	var out RunStatus
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *s
		return &cp
	}
	return &out
}
