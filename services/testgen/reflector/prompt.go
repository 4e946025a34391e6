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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

const systemPrompt = `You are a senior test engineer diagnosing failing REST Assured tests.
Respond with a single JSON object and nothing else. No markdown, no prose.`

const reflectionContract = `Return JSON with exactly this shape:
{
  "failureSource": "test-code" | "api-bug" | "environment" | "unknown",
  "summary": string,
  "shouldRetry": boolean,
  "fixes": [{"filePath": string, "newContent": string, "explanation": string}]
}

Rules:
- filePath must be one of the file paths listed below.
- newContent is the complete new file content, not a diff.
- Never weaken a business or negative assertion. A negative or edge-case test
  that expects a 4xx status must keep expecting a 4xx status.
- Never change an expected status code only to make a test pass when the
  failure looks like a genuine defect in the API. Classify it as "api-bug"
  and propose no fix for it.
- Use "environment" for connection failures, missing services and build
  tool problems that no code change can solve.
- Fix compilation errors and wrong test code with the smallest change.
- Only include files you changed.`

// maxTraceChars bounds each failure's trace in the prompt.
const maxTraceChars = 1500

// buildPrompt renders the diagnosis prompt.
func buildPrompt(exec *testgen.ExecutionResult, failures []testgen.TestCaseResult, files map[string]string) string {
	var b strings.Builder
	b.WriteString(reflectionContract)
	b.WriteString("\n\n")
	b.WriteString(writer.CodeStyleContract)

	fmt.Fprintf(&b, "\n\nExecution: %d run, %d failed, %d errored, %d skipped, exit code %d\n",
		exec.Total, exec.Failed, exec.Errored, exec.Skipped, exec.ExitCode)
	if exec.BuildFailed {
		b.WriteString("The project failed to compile.\n")
	}

	b.WriteString("\nFailures:\n")
	for _, f := range failures {
		name := f.Name
		if f.ClassName != "" {
			name = f.ClassName + "." + f.Name
		}
		fmt.Fprintf(&b, "- %s [%s]\n", name, f.Status)
		if f.Message != "" {
			fmt.Fprintf(&b, "  message: %s\n", indent(f.Message))
		}
		if f.Trace != "" {
			fmt.Fprintf(&b, "  trace: %s\n", indent(truncate(f.Trace, maxTraceChars)))
		}
	}

	if exec.BuildFailed && exec.OutputTail != "" {
		b.WriteString("\nBuild output tail:\n")
		b.WriteString(exec.OutputTail)
		b.WriteString("\n")
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	b.WriteString("\nFiles:\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", p, files[p])
	}
	return b.String()
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
