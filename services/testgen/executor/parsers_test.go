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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const failingRun = `[INFO] -------------------------------------------------------
[INFO]  T E S T S
[INFO] -------------------------------------------------------
[INFO] Running com.acme.tests.ThingsTest
[ERROR] Tests run: 3, Failures: 1, Errors: 0, Skipped: 0, Time elapsed: 1.234 s <<< FAILURE! -- in com.acme.tests.ThingsTest
[ERROR] com.acme.tests.ThingsTest.createThing_emptyBody -- Time elapsed: 0.211 s <<< FAILURE!
java.lang.AssertionError:
1 expectation failed.
Expected status code <400> but was <200>.

	at com.acme.tests.ThingsTest.createThing_emptyBody(ThingsTest.java:45)

[INFO] Running com.acme.tests.UsersTest
[ERROR] Tests run: 2, Failures: 0, Errors: 1, Skipped: 1, Time elapsed: 0.5 s <<< FAILURE! -- in com.acme.tests.UsersTest
[ERROR] com.acme.tests.UsersTest.getUser_valid -- Time elapsed: 0.1 s <<< ERROR!
java.net.ConnectException: Connection refused
[INFO]
[INFO] Results:
[INFO]
[ERROR] Failures: 
[ERROR]   ThingsTest.createThing_emptyBody:45 1 expectation failed.
Expected status code <400> but was <200>.

[ERROR] Errors: 
[ERROR]   com.acme.tests.UsersTest.getUser_valid:30 » Connect Connection refused
[INFO]
[ERROR] Tests run: 5, Failures: 1, Errors: 1, Skipped: 1
[INFO]
[INFO] ------------------------------------------------------------------------
[INFO] BUILD FAILURE
[INFO] ------------------------------------------------------------------------
`

const passingRun = `[INFO] --- maven-compiler-plugin:3.11.0:testCompile (default-testCompile) @ things-api ---
[INFO] Running com.acme.tests.ThingsTest
[INFO] Tests run: 4, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.9 s -- in com.acme.tests.ThingsTest
[INFO]
[INFO] Results:
[INFO]
[INFO] Tests run: 4, Failures: 0, Errors: 0, Skipped: 0
[INFO]
[INFO] BUILD SUCCESS
`

const compileFailure = `[INFO] --- maven-compiler-plugin:3.11.0:testCompile (default-testCompile) @ things-api ---
[ERROR] COMPILATION ERROR : 
[INFO] -------------------------------------------------------------
[ERROR] /work/src/test/java/com/acme/tests/ThingsTest.java:[12,9] cannot find symbol
  symbol:   class Respons
[ERROR] /work/src/test/java/com/acme/tests/ThingsTest.java:[20,5] ';' expected
[INFO] 2 errors
[ERROR] Failed to execute goal org.apache.maven.plugins:maven-compiler-plugin:3.11.0:testCompile (default-testCompile) on project things-api: Compilation failure: Compilation failure: 
[ERROR] /work/src/test/java/com/acme/tests/ThingsTest.java:[12,9] cannot find symbol
[ERROR] -> [Help 1]
`

func TestParseTotals(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Totals
		ok     bool
	}{
		{"aggregate line wins", failingRun, Totals{Run: 5, Failures: 1, Errors: 1, Skipped: 1}, true},
		{"passing", passingRun, Totals{Run: 4}, true},
		{"per-class only", "[INFO] Tests run: 2, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 1 s\n[INFO] Tests run: 3, Failures: 1, Errors: 0, Skipped: 0, Time elapsed: 1 s\n", Totals{Run: 5, Failures: 1}, true},
		{"none", compileFailure, Totals{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTotals(tt.output)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseTotals() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseFailures(t *testing.T) {
	got := ParseFailures(failingRun)
	want := []Failure{
		{ClassName: "ThingsTest", Name: "createThing_emptyBody", Status: testgen.StatusFailed, Message: "1 expectation failed.\nExpected status code <400> but was <200>."},
		{ClassName: "UsersTest", Name: "getUser_valid", Status: testgen.StatusError, Message: "Connect Connection refused"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseFailures() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCompileErrors(t *testing.T) {
	errs, failed := ParseCompileErrors(compileFailure)
	if !failed {
		t.Fatal("ParseCompileErrors() failed = false, want true")
	}
	if len(errs) != 2 {
		t.Fatalf("len(errs) = %d, want 2 (deduplicated)", len(errs))
	}
	if errs[0].Line != 12 || errs[0].Message != "cannot find symbol" {
		t.Errorf("errs[0] = %+v", errs[0])
	}

	if _, failed := ParseCompileErrors(passingRun); failed {
		t.Error("compiler plugin banner misread as failure")
	}
}

const surefire2Run = `[INFO] Running com.acme.tests.ThingsTest
[ERROR] Tests run: 1, Failures: 1, Errors: 0, Skipped: 0, Time elapsed: 0.3 s <<< FAILURE! - in com.acme.tests.ThingsTest
[ERROR] deleteThing_missing  Time elapsed: 0.1 s  <<< FAILURE!
java.lang.AssertionError: Expected status code <404> but was <204>.
`

func TestParseTraces(t *testing.T) {
	traces := ParseTraces(failingRun)
	if !strings.Contains(traces["ThingsTest.createThing_emptyBody"], "Expected status code <400> but was <200>.") {
		t.Errorf("trace = %q", traces["ThingsTest.createThing_emptyBody"])
	}
	if traces["UsersTest.getUser_valid"] != "java.net.ConnectException: Connection refused" {
		t.Errorf("trace = %q", traces["UsersTest.getUser_valid"])
	}

	old := ParseTraces(surefire2Run)
	if old["deleteThing_missing"] != "java.lang.AssertionError: Expected status code <404> but was <204>." {
		t.Errorf("bare name trace = %q", old["deleteThing_missing"])
	}
}

func TestParseTraces_SameMethodInTwoClasses(t *testing.T) {
	out := `[ERROR] com.acme.tests.ThingsTest.list_invalidPage -- Time elapsed: 0.1 s <<< FAILURE!
java.lang.AssertionError: things
[ERROR] com.acme.tests.UsersTest.list_invalidPage -- Time elapsed: 0.1 s <<< FAILURE!
java.lang.AssertionError: users
`
	traces := ParseTraces(out)
	if traces["ThingsTest.list_invalidPage"] != "java.lang.AssertionError: things" {
		t.Errorf("ThingsTest trace = %q", traces["ThingsTest.list_invalidPage"])
	}
	if traces["UsersTest.list_invalidPage"] != "java.lang.AssertionError: users" {
		t.Errorf("UsersTest trace = %q", traces["UsersTest.list_invalidPage"])
	}
}

func TestBuildResult(t *testing.T) {
	t.Run("failures", func(t *testing.T) {
		res := buildResult(failingRun, 1)
		if res.Success || res.BuildFailed {
			t.Errorf("Success=%v BuildFailed=%v, want false/false", res.Success, res.BuildFailed)
		}
		if res.Total != 5 || res.Passed != 2 || res.Failed != 1 || res.Errored != 1 || res.Skipped != 1 {
			t.Errorf("counts = %d/%d/%d/%d/%d", res.Total, res.Passed, res.Failed, res.Errored, res.Skipped)
		}
		if len(res.Results) != 5 {
			t.Errorf("len(Results) = %d, want 5", len(res.Results))
		}
		if len(res.Failures()) != 2 {
			t.Errorf("len(Failures()) = %d, want 2", len(res.Failures()))
		}
		if !strings.Contains(res.Results[0].Trace, "Expected status code <400> but was <200>.") {
			t.Errorf("Results[0].Trace = %q", res.Results[0].Trace)
		}
	})

	t.Run("success", func(t *testing.T) {
		res := buildResult(passingRun, 0)
		if !res.Success || res.Passed != 4 {
			t.Errorf("Success=%v Passed=%d, want true/4", res.Success, res.Passed)
		}
	})

	t.Run("zero tests is not success", func(t *testing.T) {
		res := buildResult("[INFO] Tests run: 0, Failures: 0, Errors: 0, Skipped: 0\n", 0)
		if res.Success {
			t.Error("Success = true with zero tests")
		}
	})

	t.Run("compile failure", func(t *testing.T) {
		res := buildResult(compileFailure, 1)
		if !res.BuildFailed || res.Success {
			t.Fatalf("BuildFailed=%v Success=%v", res.BuildFailed, res.Success)
		}
		if len(res.Results) != 1 || res.Results[0].Status != testgen.StatusBuildError {
			t.Fatalf("Results = %+v, want one build-error", res.Results)
		}
		if !strings.Contains(res.Results[0].Message, "ThingsTest.java:12: cannot find symbol") {
			t.Errorf("Message = %q", res.Results[0].Message)
		}
	})

	t.Run("build failure without totals", func(t *testing.T) {
		out := "[ERROR] Failed to execute goal on project x: Could not resolve dependencies\n[ERROR] -> [Help 1]\n"
		res := buildResult(out, 1)
		if !res.BuildFailed {
			t.Fatal("BuildFailed = false")
		}
		if !strings.Contains(res.Results[0].Message, "Could not resolve dependencies") {
			t.Errorf("Message = %q", res.Results[0].Message)
		}
	})
}
