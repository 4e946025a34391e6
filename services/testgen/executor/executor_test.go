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
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

const fakeMaven = `#!/bin/sh
if [ "$2" = "surefire-report:report-only" ]; then
  mkdir -p target/reports && echo "<html></html>" > target/reports/surefire.html
  exit 0
fi
cat "$FIXTURE_FILE"
exit "$EXIT_CODE"
`

// newFakeExecutor builds an Executor whose build tool prints fixture and
// exits with exitCode.
func newFakeExecutor(t *testing.T, fixture, exitCode string, mutate func(*Config)) (*Executor, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a unix shell")
	}

	bin := t.TempDir()
	script := filepath.Join(bin, "mvn")
	if err := os.WriteFile(script, []byte(fakeMaven), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	fixtureFile := filepath.Join(bin, "output.txt")
	if err := os.WriteFile(fixtureFile, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Command = script
	cfg.Args = []string{"-B", "test"}
	cfg.GenerateReport = false
	cfg.Timeout = 10 * time.Second
	cfg.Env = []string{"FIXTURE_FILE=" + fixtureFile, "EXIT_CODE=" + exitCode}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil), t.TempDir()
}

func TestExecute_FailingSuiteIsNotAnError(t *testing.T) {
	e, dir := newFakeExecutor(t, failingRun, "1", nil)

	res, err := e.Execute(context.Background(), dir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if len(res.Failures()) != 2 {
		t.Errorf("len(Failures()) = %d, want 2", len(res.Failures()))
	}
	if res.OutputTail == "" {
		t.Error("OutputTail empty")
	}
}

func TestExecute_Success(t *testing.T) {
	e, dir := newFakeExecutor(t, passingRun, "0", nil)

	res, err := e.Execute(context.Background(), dir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.Total != 4 {
		t.Errorf("Success=%v Total=%d, want true/4", res.Success, res.Total)
	}
}

type replaceRedactor struct{ secret string }

func (r replaceRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, r.secret, "[REDACTED]")
}

func TestExecute_RedactsOutput(t *testing.T) {
	e, dir := newFakeExecutor(t, "connecting with token=s3cr3t-value\n"+passingRun, "0", nil)
	WithRedactor(replaceRedactor{secret: "s3cr3t-value"})(e)

	res, err := e.Execute(context.Background(), dir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(res.OutputTail, "s3cr3t-value") {
		t.Errorf("OutputTail leaked secret: %q", res.OutputTail)
	}
	if !strings.Contains(res.OutputTail, "token=[REDACTED]") {
		t.Errorf("OutputTail = %q, want redacted token", res.OutputTail)
	}
	if !res.Success || res.Total != 4 {
		t.Errorf("Success=%v Total=%d, want true/4", res.Success, res.Total)
	}
}

func TestExecute_Timeout(t *testing.T) {
	e, dir := newFakeExecutor(t, "", "0", func(c *Config) {
		c.Command = "sh"
		c.Args = []string{"-c", "sleep 30"}
		c.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	_, err := e.Execute(context.Background(), dir)
	if !errors.Is(err, ErrTestTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTestTimeout", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestExecute_OutputLimit(t *testing.T) {
	e, dir := newFakeExecutor(t, "", "0", func(c *Config) {
		c.Command = "sh"
		c.Args = []string{"-c", "while true; do echo '[INFO] flooding the console'; done"}
		c.MaxOutputBytes = 1024
	})

	res, err := e.Execute(context.Background(), dir)
	if !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("Execute() error = %v, want ErrOutputLimit", err)
	}
	if res == nil || !res.Truncated {
		t.Errorf("result = %+v, want truncated", res)
	}
}

func TestExecute_MissingCommand(t *testing.T) {
	e, dir := newFakeExecutor(t, "", "0", func(c *Config) {
		c.Command = filepath.Join(t.TempDir(), "no-such-mvn")
	})

	_, err := e.Execute(context.Background(), dir)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("Execute() error = %v, want ErrCommandFailed", err)
	}
}

type recordingUploader struct {
	mu      sync.Mutex
	objects []string
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, localPath, objectName string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.objects = append(u.objects, objectName)
	return "gs://bucket/" + objectName, nil
}

func TestExecute_Report(t *testing.T) {
	e, dir := newFakeExecutor(t, passingRun, "0", func(c *Config) {
		c.GenerateReport = true
	})
	up := &recordingUploader{}
	e.uploader = up

	res, err := e.Execute(context.Background(), dir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.ReportPath != filepath.Join(dir, "target", "reports", "surefire.html") {
		t.Errorf("ReportPath = %q", res.ReportPath)
	}
	if len(up.objects) != 1 || res.ReportURL != "gs://bucket/"+up.objects[0] {
		t.Errorf("ReportURL = %q, objects = %v", res.ReportURL, up.objects)
	}
}

func TestExecute_ReportFailureIsIgnored(t *testing.T) {
	e, dir := newFakeExecutor(t, passingRun, "0", func(c *Config) {
		c.GenerateReport = true
	})
	e.uploader = &recordingUploader{err: errors.New("bucket gone")}

	res, err := e.Execute(context.Background(), dir)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.ReportURL != "" {
		t.Errorf("Success=%v ReportURL=%q", res.Success, res.ReportURL)
	}
}

func TestLimitedWriter(t *testing.T) {
	var calls int
	var sink discard
	lw := &limitedWriter{w: &sink, limit: 5, onLimit: func() { calls++ }}

	if n, _ := lw.Write([]byte("abc")); n != 3 {
		t.Errorf("Write() n = %d, want 3", n)
	}
	if n, _ := lw.Write([]byte("defgh")); n != 5 {
		t.Errorf("Write() n = %d, want 5", n)
	}
	_, _ = lw.Write([]byte("ijk"))
	if sink.n != 5 || !lw.truncated || calls != 1 {
		t.Errorf("written=%d truncated=%v calls=%d", sink.n, lw.truncated, calls)
	}
}

type discard struct{ n int }

func (d *discard) Write(p []byte) (int, error) {
	d.n += len(p)
	return len(p), nil
}
