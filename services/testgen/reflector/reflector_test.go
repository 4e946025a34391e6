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
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const thingsPath = "src/test/java/com/acme/tests/ThingsTest.java"
const usersPath = "src/test/java/com/acme/tests/UsersTest.java"

const thingsSource = `package com.acme.tests;

public class ThingsTest extends BaseTest {
    @Test
    void createThing_valid() {
        given().body("{}").when().post("/things").then().statusCode(201);
    }

    @Test
    void createThing_emptyBody() {
        given().body("{}").when().post("/things").then().statusCode(anyOf(is(400), is(422)));
    }
}
`

const usersSource = `package com.acme.tests;

public class UsersTest extends BaseTest {
    @Test
    void getUser_valid() {
        given().when().get("/users/1").then().statusCode(200);
    }
}
`

func suiteFiles() map[string]string {
	return map[string]string{thingsPath: thingsSource, usersPath: usersSource}
}

func failingExec(results ...testgen.TestCaseResult) *testgen.ExecutionResult {
	return &testgen.ExecutionResult{Total: 3, Failed: len(results), Results: results}
}

var emptyBodyGap = testgen.TestCaseResult{
	Name:      "createThing_emptyBody",
	ClassName: "ThingsTest",
	Status:    testgen.StatusFailed,
	Message:   "1 expectation failed.\nExpected status code <400> but was <200>.",
}

var usersFailure = testgen.TestCaseResult{
	Name:      "getUser_valid",
	ClassName: "UsersTest",
	Status:    testgen.StatusFailed,
	Message:   "JSON path name doesn't match.",
}

func reflectionJSON(t *testing.T, source string, retry bool, fixes ...testgen.Fix) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"failureSource": source,
		"summary":       "diagnosis",
		"shouldRetry":   retry,
		"fixes":         fixes,
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestReflect_AllValidationGapsSkipGeneration(t *testing.T) {
	gen := llm.NewMockProvider()
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(emptyBodyGap), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if gen.CallCount() != 0 {
		t.Errorf("generator calls = %d, want 0", gen.CallCount())
	}
	if ref.FailureSource != testgen.SourceAPIBug || ref.ShouldRetry {
		t.Errorf("Reflect() = %s/%v, want api-bug/false", ref.FailureSource, ref.ShouldRetry)
	}
	if len(ref.Fixes) != 0 {
		t.Errorf("len(Fixes) = %d, want 0", len(ref.Fixes))
	}
	if len(ref.BenignFailures) != 1 || ref.BenignFailures[0] != "ThingsTest.createThing_emptyBody" {
		t.Errorf("BenignFailures = %v", ref.BenignFailures)
	}
}

func TestReflect_BenignFilterDisabled(t *testing.T) {
	gen := llm.NewMockProvider().QueueContent(reflectionJSON(t, "api-bug", false))
	cfg := DefaultConfig()
	cfg.EnableBenignFilter = false
	r := New(gen, cfg, nil)

	if _, err := r.Reflect(context.Background(), failingExec(emptyBodyGap), suiteFiles()); err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if gen.CallCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.CallCount())
	}
}

func TestReflect_UnparseableFallsBack(t *testing.T) {
	gen := llm.NewMockProvider().WithName("p1").QueueContent("The tests failed because of reasons.")
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(usersFailure), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if ref.FailureSource != testgen.SourceUnknown || !ref.ShouldRetry || len(ref.Fixes) != 0 {
		t.Errorf("Reflect() = %+v, want unknown/retry/no fixes", ref)
	}
	if ref.ProviderID != "p1" {
		t.Errorf("ProviderID = %q, want p1", ref.ProviderID)
	}
}

func TestReflect_GenerationErrorFallsBack(t *testing.T) {
	gen := llm.NewMockProvider().QueueError(errors.New("all providers down"))
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(usersFailure), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if ref.FailureSource != testgen.SourceUnknown || !ref.ShouldRetry {
		t.Errorf("Reflect() = %s/%v, want unknown/true", ref.FailureSource, ref.ShouldRetry)
	}
}

func TestReflect_CanceledContext(t *testing.T) {
	gen := llm.NewMockProvider()
	r := New(gen, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Reflect(ctx, failingExec(usersFailure), suiteFiles()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Reflect() error = %v, want context.Canceled", err)
	}
}

func TestReflect_GuardrailRejectsWeakenedNegativeTest(t *testing.T) {
	weakened := strings.Replace(thingsSource, "statusCode(anyOf(is(400), is(422)))", "statusCode(200)", 1)
	fixedUsers := strings.Replace(usersSource, "statusCode(200)", "statusCode(anyOf(is(200), is(201)))", 1)

	gen := llm.NewMockProvider().QueueContent(reflectionJSON(t, "test-code", true,
		testgen.Fix{FilePath: thingsPath, NewContent: weakened},
		testgen.Fix{FilePath: usersPath, NewContent: fixedUsers},
	))
	r := New(gen, DefaultConfig(), nil)

	failures := failingExec(usersFailure, testgen.TestCaseResult{Name: "createThing_emptyBody", ClassName: "ThingsTest", Status: testgen.StatusError, Message: "Connection reset"})
	ref, err := r.Reflect(context.Background(), failures, suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(ref.RejectedFixes) != 1 || ref.RejectedFixes[0] != thingsPath {
		t.Errorf("RejectedFixes = %v, want [%s]", ref.RejectedFixes, thingsPath)
	}
	if len(ref.Fixes) != 1 || ref.Fixes[0].FilePath != usersPath {
		t.Fatalf("Fixes = %+v, want only the users fix", ref.Fixes)
	}
	if ref.FailureSource != testgen.SourceTestCode || !ref.ShouldRetry {
		t.Errorf("Reflect() = %s/%v, want test-code/true", ref.FailureSource, ref.ShouldRetry)
	}
}

func TestReflect_GuardrailRejectionReclassifiesAsAPIBug(t *testing.T) {
	weakened := strings.Replace(thingsSource, "statusCode(anyOf(is(400), is(422)))", "statusCode(anyOf(is(200), is(201)))", 1)
	gen := llm.NewMockProvider().QueueContent(reflectionJSON(t, "test-code", true,
		testgen.Fix{FilePath: thingsPath, NewContent: weakened},
	))
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(emptyBodyGap, usersFailure), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if ref.FailureSource != testgen.SourceAPIBug || ref.ShouldRetry {
		t.Errorf("Reflect() = %s/%v, want api-bug/false", ref.FailureSource, ref.ShouldRetry)
	}
	if len(ref.Fixes) != 0 {
		t.Errorf("len(Fixes) = %d, want 0", len(ref.Fixes))
	}
}

func TestReflect_ScrubsUnknownFilesAndPostProcesses(t *testing.T) {
	gen := llm.NewMockProvider().QueueContent(reflectionJSON(t, "test-code", false,
		testgen.Fix{FilePath: "src/test/java/Ghost.java", NewContent: "class Ghost {}"},
		testgen.Fix{FilePath: "UsersTest.java", NewContent: "```java\n" + usersSource + "```"},
	))
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(usersFailure), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(ref.Fixes) != 1 {
		t.Fatalf("len(Fixes) = %d, want 1", len(ref.Fixes))
	}
	if ref.Fixes[0].FilePath != usersPath {
		t.Errorf("FilePath = %q, want %q", ref.Fixes[0].FilePath, usersPath)
	}
	if strings.Contains(ref.Fixes[0].NewContent, "```") {
		t.Error("fix content not post-processed")
	}
	// test-code with surviving fixes retries even though the response said no.
	if !ref.ShouldRetry {
		t.Error("ShouldRetry = false, want true")
	}
}

func TestReflect_SelectsFailingClassOnly(t *testing.T) {
	gen := llm.NewMockProvider().QueueContent(reflectionJSON(t, "environment", true))
	r := New(gen, DefaultConfig(), nil)

	ref, err := r.Reflect(context.Background(), failingExec(usersFailure), suiteFiles())
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if ref.ShouldRetry {
		t.Error("environment should never retry")
	}
	prompt := gen.Calls()[0].Prompt
	if !strings.Contains(prompt, usersPath) || strings.Contains(prompt, thingsPath) {
		t.Error("prompt should include only the failing class")
	}
}

func TestSelectFiles_BuildFailureIncludesAll(t *testing.T) {
	build := []testgen.TestCaseResult{{Name: "build", Status: testgen.StatusBuildError}}
	if got := selectFiles(context.Background(), build, suiteFiles()); len(got) != 2 {
		t.Errorf("len(selectFiles()) = %d, want 2", len(got))
	}
	unknown := []testgen.TestCaseResult{{Name: "x", ClassName: "NopeTest", Status: testgen.StatusFailed}}
	if got := selectFiles(context.Background(), unknown, suiteFiles()); len(got) != 2 {
		t.Errorf("fallback len = %d, want 2", len(got))
	}
}

func TestIsValidationGap(t *testing.T) {
	tests := []struct {
		name string
		tc   testgen.TestCaseResult
		want bool
	}{
		{"rest assured message", emptyBodyGap, true},
		{"junit message", testgen.TestCaseResult{Name: "createUser_invalidEmail", Status: testgen.StatusFailed, Message: "expected: <400> but was: <201>"}, true},
		{"in trace", testgen.TestCaseResult{Name: "getThing_notFound", Status: testgen.StatusFailed, Trace: "Expected status code <404> but was <200>."}, true},
		{"anyOf matcher", testgen.TestCaseResult{Name: "createThing_emptyBody", Status: testgen.StatusFailed, Message: "1 expectation failed.\nExpected status code (is <400> or is <404> or is <409> or is <422>) but was <200>."}, true},
		{"is matcher", testgen.TestCaseResult{Name: "createThing_emptyBody", Status: testgen.StatusFailed, Message: "1 expectation failed.\nExpected status code is <400> but was <201>."}, true},
		{"matcher allowing 2xx", testgen.TestCaseResult{Name: "createThing_emptyBody", Status: testgen.StatusFailed, Message: "Expected status code (is <200> or is <400>) but was <201>."}, false},
		{"expected 2xx got 4xx", testgen.TestCaseResult{Name: "getThing_notFound", Status: testgen.StatusFailed, Message: "Expected status code <200> but was <404>."}, false},
		{"positive name", testgen.TestCaseResult{Name: "createThing_valid", Status: testgen.StatusFailed, Message: "Expected status code <400> but was <200>."}, false},
		{"got 5xx", testgen.TestCaseResult{Name: "createThing_emptyBody", Status: testgen.StatusFailed, Message: "Expected status code <400> but was <500>."}, false},
		{"build error", testgen.TestCaseResult{Name: "createThing_emptyBody", Status: testgen.StatusBuildError, Message: "Expected status code <400> but was <200>."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationGap(tt.tc); got != tt.want {
				t.Errorf("IsValidationGap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckFix(t *testing.T) {
	tests := []struct {
		name       string
		proposed   string
		violations int
	}{
		{"unchanged", thingsSource, 0},
		{"lowered to 2xx", strings.Replace(thingsSource, "anyOf(is(400), is(422))", "201", 1), 1},
		{"widened within 4xx", strings.Replace(thingsSource, "anyOf(is(400), is(422))", "anyOf(is(400), is(404), is(422))", 1), 0},
		{"negative test removed", strings.Replace(thingsSource, "createThing_emptyBody", "createThing_other", 1), 1},
		{"positive test changed", strings.Replace(thingsSource, "statusCode(201)", "statusCode(200)", 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := CheckFix(context.Background(), thingsSource, tt.proposed)
			if err != nil {
				t.Fatalf("CheckFix() error = %v", err)
			}
			if len(v) != tt.violations {
				t.Errorf("len(violations) = %d, want %d: %+v", len(v), tt.violations, v)
			}
		})
	}
}

func TestNormalizeRetry(t *testing.T) {
	oneFix := []testgen.Fix{{FilePath: "a", NewContent: "b"}}
	tests := []struct {
		source   testgen.FailureSource
		fixes    []testgen.Fix
		reported bool
		want     bool
	}{
		{testgen.SourceTestCode, oneFix, false, true},
		{testgen.SourceTestCode, nil, true, false},
		{testgen.SourceEnvironment, oneFix, true, false},
		{testgen.SourceAPIBug, oneFix, false, true},
		{testgen.SourceAPIBug, nil, true, false},
		{testgen.SourceUnknown, nil, false, true},
		{testgen.FailureSource("weird"), nil, false, true},
	}
	for _, tt := range tests {
		ref := &testgen.Reflection{FailureSource: tt.source, Fixes: tt.fixes, ShouldRetry: tt.reported}
		NormalizeRetry(ref, nil)
		if ref.ShouldRetry != tt.want {
			t.Errorf("NormalizeRetry(%s, %d fixes) = %v, want %v", tt.source, len(tt.fixes), ref.ShouldRetry, tt.want)
		}
	}
}
