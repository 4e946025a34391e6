// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reflector

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/javasrc"
)

// =============================================================================
// BENIGN FAILURES
// =============================================================================

var (
	// validationGap captures the expected clause, which may be a matcher
	// description such as "(is <400> or is <404>)", and the 2xx actual.
	validationGap = regexp.MustCompile(`(?i)expected(?: status code)?:?([^\n]*?)\bbut (?:got|was):?\s*<?(2\d\d)\b`)
	statusCode    = regexp.MustCompile(`\b([1-5]\d\d)\b`)
)

// IsValidationGap reports whether a failing test is a negative test that
// expected a 4xx rejection and got a 2xx. Such a failure points at the API
// accepting invalid input, not at the test code.
func IsValidationGap(tc testgen.TestCaseResult) bool {
	if tc.Status == testgen.StatusBuildError || !javasrc.IsNegativeName(tc.Name) {
		return false
	}
	return gapMessage(tc.Message) || gapMessage(tc.Trace)
}

// gapMessage reports whether s holds an assertion that expected only 4xx
// statuses and got a 2xx.
func gapMessage(s string) bool {
	for _, m := range validationGap.FindAllStringSubmatch(s, -1) {
		var client, success bool
		for _, code := range statusCode.FindAllString(m[1], -1) {
			switch code[0] {
			case '4':
				client = true
			case '2':
				success = true
			}
		}
		if client && !success {
			return true
		}
	}
	return false
}

// partitionFailures splits failures into validation gaps and the rest.
func partitionFailures(failures []testgen.TestCaseResult) (benign, remaining []testgen.TestCaseResult) {
	for _, f := range failures {
		if IsValidationGap(f) {
			benign = append(benign, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	return benign, remaining
}

// =============================================================================
// FILE SELECTION
// =============================================================================

// selectFiles picks the sources relevant to the failures.
//
// A build failure can stem from any file, so every source is selected.
// Otherwise sources whose class matches a failing entry are selected,
// falling back to every source when none match.
func selectFiles(ctx context.Context, failures []testgen.TestCaseResult, files map[string]string) map[string]string {
	for _, f := range failures {
		if f.Status == testgen.StatusBuildError {
			return files
		}
	}

	classes := make(map[string]bool, len(failures))
	for _, f := range failures {
		if f.ClassName != "" {
			classes[f.ClassName] = true
		}
	}

	selected := make(map[string]string)
	for p, content := range files {
		class := strings.TrimSuffix(path.Base(p), ".java")
		if classes[class] {
			selected[p] = content
			continue
		}
		if declared := javasrc.ClassName(ctx, content); declared != "" && classes[declared] {
			selected[p] = content
		}
	}
	if len(selected) == 0 {
		return files
	}
	return selected
}

// =============================================================================
// GUARDRAIL
// =============================================================================

// Violation describes a negative test weakened by a proposed fix.
type Violation struct {
	Method string
	Before []int
	After  []int
}

// CheckFix compares the negative-test status assertions of a file before
// and after a proposed fix.
//
// Description:
//
//	For every method named as a negative or edge-case test that asserts a
//	4xx status and no 2xx status in the original, the fix is a violation
//	if the proposed version of the method asserts a 2xx status or the
//	method is removed.
//
// Outputs:
//
//	[]Violation - Empty when the fix is acceptable.
//	error - Non-nil only if parsing was canceled.
func CheckFix(ctx context.Context, original, proposed string) ([]Violation, error) {
	before, err := javasrc.Parse(ctx, original)
	if err != nil {
		return nil, err
	}
	after, err := javasrc.Parse(ctx, proposed)
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, m := range before.Methods {
		if !javasrc.IsNegativeName(m.Name) || !hasClass(m.Statuses, 4) || hasClass(m.Statuses, 2) {
			continue
		}
		next, ok := after.Method(m.Name)
		if !ok {
			out = append(out, Violation{Method: m.Name, Before: m.Statuses})
			continue
		}
		if hasClass(next.Statuses, 2) {
			out = append(out, Violation{Method: m.Name, Before: m.Statuses, After: next.Statuses})
		}
	}
	return out, nil
}

func hasClass(statuses []int, class int) bool {
	for _, s := range statuses {
		if s/100 == class {
			return true
		}
	}
	return false
}

// =============================================================================
// RETRY NORMALIZATION
// =============================================================================

// retryPolicy derives shouldRetry from the failure source and the number
// of fixes that survived scrubbing and the guardrail.
var retryPolicy = map[testgen.FailureSource]func(fixes int) bool{
	testgen.SourceTestCode:    func(fixes int) bool { return fixes > 0 },
	testgen.SourceEnvironment: func(int) bool { return false },
	testgen.SourceAPIBug:      func(fixes int) bool { return fixes > 0 },
	testgen.SourceUnknown:     func(int) bool { return true },
}

// NormalizeRetry sets r.ShouldRetry from the retry policy.
func NormalizeRetry(r *testgen.Reflection, logger *slog.Logger) {
	policy, ok := retryPolicy[r.FailureSource]
	if !ok {
		r.FailureSource = testgen.SourceUnknown
		policy = retryPolicy[testgen.SourceUnknown]
	}
	derived := policy(len(r.Fixes))
	if derived != r.ShouldRetry && logger != nil {
		logger.Debug("Overriding shouldRetry",
			slog.String("failure_source", string(r.FailureSource)),
			slog.Int("fixes", len(r.Fixes)),
			slog.Bool("reported", r.ShouldRetry),
			slog.Bool("derived", derived),
		)
	}
	r.ShouldRetry = derived
}
