// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "selfheal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8089", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Defaults.MaxIterations)
	assert.True(t, cfg.Defaults.AutoExecute)
	assert.Equal(t, "mvn", cfg.Executor.Command)
}

func TestLoad_OverlaysFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
server:
  addr: ":9000"
orchestrator:
  max_concurrent_runs: 2
  run_timeout: 5m
store:
  backend: badger
  path: /tmp/selfheal-runs
  retention: 1h
llm:
  providers:
    - kind: openai
      model: gpt-4o
    - kind: mock
defaults:
  max_iterations: 5
  namespace: com.acme.tests
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrentRuns)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.RunTimeout)
	assert.Equal(t, StoreBadger, cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.Retention)
	assert.Equal(t, 1000, cfg.Store.MaxEntries, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Defaults.MaxIterations)
	assert.Equal(t, "com.acme.tests", cfg.Defaults.Namespace)
	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "gpt-4o", cfg.LLM.Providers[0].Model)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeConfig(t, "server: [unterminated"))
	require.Error(t, err)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SELFHEAL_ADDR", "")
	os.Unsetenv("SELFHEAL_ADDR")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SELFHEAL_ADDR=:7070\n"), 0o600))

	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv_Scalars(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, env(map[string]string{
		"SELFHEAL_ADDR":                ":1234",
		"SELFHEAL_OUTPUT_DIR":          "/srv/suites",
		"SELFHEAL_MAX_CONCURRENT_RUNS": "8",
		"SELFHEAL_RUN_TIMEOUT":         "90s",
		"SELFHEAL_MAX_ITERATIONS":      "not-a-number",
		"INFLUXDB_URL":                 "http://influx:8086",
		"INFLUXDB_TOKEN":               "tok",
	}))

	assert.Equal(t, ":1234", cfg.Server.Addr)
	assert.Equal(t, "/srv/suites", cfg.Defaults.OutputDir)
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrentRuns)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.RunTimeout)
	assert.Equal(t, 3, cfg.Defaults.MaxIterations, "invalid numbers are ignored")
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, "tok", cfg.Influx.Token)
}

func TestApplyEnv_KeysFillConfiguredProviders(t *testing.T) {
	cfg := Default()
	cfg.LLM.Providers = []llm.ProviderConfig{
		{Kind: "OpenAI", Model: "gpt-4o"},
		{Kind: "ollama"},
		{Kind: "gemini", APIKey: "from-file"},
	}
	ApplyEnv(cfg, env(map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"GEMINI_API_KEY":    "g-env",
		"ANTHROPIC_API_KEY": "sk-ant",
		"OLLAMA_URL":        "http://ollama:11434",
	}))

	require.Len(t, cfg.LLM.Providers, 3, "configured providers are not extended")
	assert.Equal(t, llm.KindOpenAI, cfg.LLM.Providers[0].Kind)
	assert.Equal(t, "sk-openai", cfg.LLM.Providers[0].APIKey)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.Providers[1].BaseURL)
	assert.Equal(t, "from-file", cfg.LLM.Providers[2].APIKey)
}

func TestApplyEnv_DerivesProvidersFromKeys(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, env(map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"ANTHROPIC_API_KEY": "sk-ant",
		"OLLAMA_URL":        "http://ollama:11434",
	}))

	kinds := make([]string, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		kinds = append(kinds, p.Kind)
	}
	assert.Equal(t, []string{llm.KindAnthropic, llm.KindOpenAI, llm.KindOllama}, kinds)
	assert.Equal(t, "sk-ant", cfg.LLM.Providers[0].APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, true},
		{"badger without path", func(c *Config) { c.Store.Backend = StoreBadger }, true},
		{"badger with path", func(c *Config) { c.Store.Backend = "Badger"; c.Store.Path = "/tmp/x" }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, true},
		{"unknown provider", func(c *Config) { c.LLM.Providers = []llm.ProviderConfig{{Kind: "bard"}} }, true},
		{"zero timeouts clamp", func(c *Config) { c.Server.ShutdownTimeout = 0; c.Orchestrator.RunTimeout = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Positive(t, cfg.Server.ShutdownTimeout)
			assert.Positive(t, cfg.Orchestrator.RunTimeout)
		})
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, Default().Store.Retention, cfg.Store.Retention)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":1\"\n"), 0o600))
	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `":1"`, "existing file is kept")
}
