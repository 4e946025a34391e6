// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// =============================================================================
// TOTALS
// =============================================================================

// Totals is the Surefire summary line.
type Totals struct {
	Run      int
	Failures int
	Errors   int
	Skipped  int
}

var totalsLine = regexp.MustCompile(`Tests run:\s*(\d+),\s*Failures:\s*(\d+),\s*Errors:\s*(\d+),\s*Skipped:\s*(\d+)`)

// ParseTotals returns the aggregate totals line.
//
// Per-class lines carry "Time elapsed" and are ignored unless no aggregate
// line exists, in which case the per-class counts are summed.
func ParseTotals(output string) (Totals, bool) {
	var final, summed Totals
	haveFinal, haveClass := false, false

	scanner := newScanner(output)
	for scanner.Scan() {
		line := scanner.Text()
		m := totalsLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t := Totals{Run: atoi(m[1]), Failures: atoi(m[2]), Errors: atoi(m[3]), Skipped: atoi(m[4])}
		if strings.Contains(line, "Time elapsed") {
			summed.Run += t.Run
			summed.Failures += t.Failures
			summed.Errors += t.Errors
			summed.Skipped += t.Skipped
			haveClass = true
			continue
		}
		final, haveFinal = t, true
	}
	switch {
	case haveFinal:
		return final, true
	case haveClass:
		return summed, true
	default:
		return Totals{}, false
	}
}

// =============================================================================
// BUILD FAILURE
// =============================================================================

var compileMarkers = []string{
	"COMPILATION ERROR",
	"Compilation failure",
	"Failed to execute goal org.apache.maven.plugins:maven-compiler-plugin",
}

var compileErrorLine = regexp.MustCompile(`^\[ERROR\]\s+(\S+\.java):\[(\d+),(\d+)\]\s*(.*)$`)

// CompileError is one javac diagnostic.
type CompileError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// ParseCompileErrors reports whether the output shows a compile failure and
// returns the javac diagnostics it carries.
func ParseCompileErrors(output string) ([]CompileError, bool) {
	found := false
	for _, marker := range compileMarkers {
		if strings.Contains(output, marker) {
			found = true
			break
		}
	}

	var errs []CompileError
	seen := make(map[string]bool)
	scanner := newScanner(output)
	for scanner.Scan() {
		m := compileErrorLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		key := m[1] + ":" + m[2] + ":" + m[3]
		if seen[key] {
			continue
		}
		seen[key] = true
		errs = append(errs, CompileError{File: m[1], Line: atoi(m[2]), Column: atoi(m[3]), Message: m[4]})
	}
	return errs, found || len(errs) > 0
}

// errorLines returns up to limit distinct [ERROR] lines.
func errorLines(output string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	scanner := newScanner(output)
	for scanner.Scan() && len(out) < limit {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[ERROR]") {
			continue
		}
		msg := strings.TrimSpace(strings.TrimPrefix(line, "[ERROR]"))
		if msg == "" || seen[msg] || strings.HasPrefix(msg, "->") || strings.HasPrefix(msg, "Re-run Maven") {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
	}
	return out
}

// =============================================================================
// FAILURE BLOCKS
// =============================================================================

// Failure is one entry of the Surefire failure summary.
type Failure struct {
	ClassName string
	Name      string
	Status    testgen.TestStatus
	Message   string
}

var (
	sectionHeader = regexp.MustCompile(`^\[ERROR\]\s+(Failures|Errors):\s*$`)
	failureEntry  = regexp.MustCompile(`^\[ERROR\]\s{2,}((?:[\w$]+\.)*[\w$]+)\.([\w$]+)(?:\[[^\]]*\])?(?::\d+)?(?:\s+(.*))?$`)
	runEntry      = regexp.MustCompile(`^\[ERROR\]\s+Run \d+:`)
)

// ParseFailures parses the "Failures:" and "Errors:" summary sections.
//
// Description:
//
//	Each entry line names Class.method, optionally followed by a line
//	number and the start of the message. Following lines that are neither
//	blank nor log-marked are collected as the rest of the message. An
//	entry ends at the next marked line or a blank line; a section ends at
//	a marked line that is not an entry.
func ParseFailures(output string) []Failure {
	var (
		out     []Failure
		status  testgen.TestStatus
		current *Failure
		msg     []string
	)
	flush := func() {
		if current != nil {
			current.Message = strings.TrimSpace(strings.Join(msg, "\n"))
			out = append(out, *current)
		}
		current, msg = nil, nil
	}

	scanner := newScanner(output)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			flush()
			status = testgen.StatusFailed
			if m[1] == "Errors" {
				status = testgen.StatusError
			}
			continue
		}
		if status == "" {
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if !strings.HasPrefix(line, "[") {
			if current != nil {
				msg = append(msg, strings.TrimSpace(line))
			}
			continue
		}
		if runEntry.MatchString(line) {
			continue
		}
		if m := failureEntry.FindStringSubmatch(line); m != nil {
			flush()
			current = &Failure{ClassName: simpleName(m[1]), Name: m[2], Status: status}
			if m[3] != "" {
				msg = append(msg, strings.TrimSpace(strings.TrimPrefix(m[3], "»")))
			}
			continue
		}
		flush()
		status = ""
	}
	flush()
	return out
}

// =============================================================================
// TRACES
// =============================================================================

// traceHeader matches the per-test line. Surefire 3 prints the qualified
// "pkg.Class.method -- Time elapsed"; Surefire 2 prints the bare method.
var traceHeader = regexp.MustCompile(`^\[ERROR\]\s+((?:[\w$]+\.)*[\w$]+)(?:\[[^\]]*\])?\s+(?:--\s+)?Time elapsed:.*<<<\s+(FAILURE|ERROR)!`)

// maxTraceLines bounds a collected trace excerpt.
const maxTraceLines = 15

// ParseTraces maps tests to the trace excerpt reported under their
// "<<< FAILURE!" or "<<< ERROR!" line. Keys are "Class.method" when the
// header names the class and the bare method otherwise.
func ParseTraces(output string) map[string]string {
	traces := make(map[string]string)
	var (
		key   string
		lines []string
	)
	flush := func() {
		if key != "" && len(lines) > 0 {
			if _, ok := traces[key]; !ok {
				traces[key] = strings.Join(lines, "\n")
			}
		}
		key, lines = "", nil
	}

	scanner := newScanner(output)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if m := traceHeader.FindStringSubmatch(line); m != nil {
			flush()
			key = traceKey(m[1])
			continue
		}
		if key == "" {
			continue
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "[") {
			flush()
			continue
		}
		if len(lines) < maxTraceLines {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	flush()
	return traces
}

// traceKey reduces "pkg.Class.method" to "Class.method".
func traceKey(qualified string) string {
	i := strings.LastIndexByte(qualified, '.')
	if i < 0 {
		return qualified
	}
	return simpleName(qualified[:i]) + "." + qualified[i+1:]
}

// traceFor looks a failure up by class first, then by bare method name.
func traceFor(traces map[string]string, f Failure) string {
	if t, ok := traces[f.ClassName+"."+f.Name]; ok {
		return t
	}
	return traces[f.Name]
}

// =============================================================================
// RESULT ASSEMBLY
// =============================================================================

// buildResult turns raw tool output into an ExecutionResult.
func buildResult(output string, exitCode int) *testgen.ExecutionResult {
	res := &testgen.ExecutionResult{ExitCode: exitCode}

	totals, haveTotals := ParseTotals(output)
	compileErrs, compileFailed := ParseCompileErrors(output)

	if compileFailed || (!haveTotals && exitCode != 0) {
		res.BuildFailed = true
		res.Results = []testgen.TestCaseResult{buildFailureResult(output, compileErrs)}
		return res
	}

	failures := ParseFailures(output)
	traces := ParseTraces(output)

	res.Total = totals.Run
	res.Failed = totals.Failures
	res.Errored = totals.Errors
	res.Skipped = totals.Skipped

	for _, f := range failures {
		res.Results = append(res.Results, testgen.TestCaseResult{
			Name:      f.Name,
			ClassName: f.ClassName,
			Status:    f.Status,
			Message:   f.Message,
			Trace:     traceFor(traces, f),
		})
	}

	failedCount := max(len(failures), totals.Failures+totals.Errors)
	res.Passed = max(totals.Run-failedCount-totals.Skipped, 0)
	for i := 0; i < res.Passed; i++ {
		res.Results = append(res.Results, testgen.TestCaseResult{
			Name:      "passed-" + strconv.Itoa(i+1),
			Status:    testgen.StatusPassed,
			Synthetic: true,
		})
	}
	for i := 0; i < totals.Skipped; i++ {
		res.Results = append(res.Results, testgen.TestCaseResult{
			Name:      "skipped-" + strconv.Itoa(i+1),
			Status:    testgen.StatusSkipped,
			Synthetic: true,
		})
	}

	res.Success = res.Total > 0 && res.Failed == 0 && res.Errored == 0
	return res
}

// maxBuildErrorLines bounds the synthetic build failure message.
const maxBuildErrorLines = 30

func buildFailureResult(output string, compileErrs []CompileError) testgen.TestCaseResult {
	var lines []string
	for i, e := range compileErrs {
		if i == maxBuildErrorLines {
			break
		}
		lines = append(lines, e.File+":"+strconv.Itoa(e.Line)+": "+e.Message)
	}
	if len(lines) == 0 {
		lines = errorLines(output, maxBuildErrorLines)
	}
	return testgen.TestCaseResult{
		Name:      "build",
		Status:    testgen.StatusBuildError,
		Message:   strings.Join(lines, "\n"),
		Synthetic: true,
	}
}

func simpleName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func newScanner(s string) *bufio.Scanner {
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}
