// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the selfheal configuration file.
//
// Configuration is layered: built-in defaults, then the YAML file, then
// environment variables (optionally read from a .env file). API keys are
// only ever read from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/logging"
	"github.com/AleutianAI/AleutianSelfHeal/services/llm"
	"github.com/AleutianAI/AleutianSelfHeal/services/telemetry"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/executor"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/orchestrator"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

var (
	// ErrInvalidConfig indicates a configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// DefaultFileName is the config file looked up in the selfheal home directory.
const DefaultFileName = "selfheal.yaml"

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the complete selfheal configuration.
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Log          LogConfig              `yaml:"log"`
	Telemetry    telemetry.Config       `yaml:"telemetry"`
	Influx       telemetry.InfluxConfig `yaml:"influx"`
	LLM          LLMConfig              `yaml:"llm"`
	Orchestrator orchestrator.Config    `yaml:"orchestrator"`
	Executor     executor.Config        `yaml:"executor"`
	Store        StoreConfig            `yaml:"store"`
	Specs        SpecsConfig            `yaml:"specs"`
	Reports      ReportsConfig          `yaml:"reports"`

	// Defaults fills fields a run request leaves empty.
	Defaults testgen.RunConfig `yaml:"defaults"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	// Default: :8089
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StreamPollInterval is how often the run stream checks for new log entries.
	// Default: 500ms
	StreamPollInterval time.Duration `yaml:"stream_poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Logging converts to a logging.Config for the given service.
func (c LogConfig) Logging(service string) logging.Config {
	lvl, _ := logging.ParseLevel(c.Level)
	return logging.Config{
		Level:      lvl,
		LogDir:     c.Dir,
		Service:    service,
		JSON:       c.JSON,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// LLMConfig lists the generation providers in fallback order.
type LLMConfig struct {
	Providers         []llm.ProviderConfig `yaml:"providers"`
	CallTimeout       time.Duration        `yaml:"call_timeout"`
	MaxRetries        int                  `yaml:"max_retries"`
	RetryBackoff      time.Duration        `yaml:"retry_backoff"`
	RequestsPerSecond float64              `yaml:"requests_per_second"`
	Burst             int                  `yaml:"burst"`
}

// Chain converts to an llm.ChainConfig.
func (c LLMConfig) Chain() llm.ChainConfig {
	return llm.ChainConfig{
		CallTimeout:       c.CallTimeout,
		MaxRetries:        c.MaxRetries,
		RetryBackoff:      c.RetryBackoff,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// StoreConfig selects and configures the run store.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	// Default: memory
	Backend string `yaml:"backend"`

	// Path is the badger directory.
	Path string `yaml:"path"`

	// GCInterval is the badger value log GC interval.
	// Default: 5m
	GCInterval time.Duration `yaml:"gc_interval"`

	runstore.Config `yaml:",inline"`
}

// SpecsConfig locates normalized specs.
type SpecsConfig struct {
	// Dir is watched for *.yaml, *.yml and *.json spec files.
	Dir string `yaml:"dir"`
}

// ReportsConfig configures report upload. An empty bucket disables upload.
type ReportsConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	chain := llm.DefaultChainConfig()
	return &Config{
		Server: ServerConfig{
			Addr:               ":8089",
			ShutdownTimeout:    30 * time.Second,
			StreamPollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Telemetry: telemetry.DefaultConfig(),
		LLM: LLMConfig{
			CallTimeout:       chain.CallTimeout,
			MaxRetries:        chain.MaxRetries,
			RetryBackoff:      chain.RetryBackoff,
			RequestsPerSecond: chain.RequestsPerSecond,
			Burst:             chain.Burst,
		},
		Orchestrator: orchestrator.DefaultConfig(),
		Executor:     executor.DefaultConfig(),
		Store: StoreConfig{
			Backend:    StoreMemory,
			GCInterval: 5 * time.Minute,
			Config:     runstore.DefaultConfig(),
		},
		Specs:    SpecsConfig{Dir: "specs"},
		Defaults: testgen.DefaultRunConfig(),
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration.
//
// Description:
//
//	Loads a .env file from the working directory if one exists, starts
//	from Default, overlays the YAML file at path and applies environment
//	overrides. An empty path falls back to $SELFHEAL_CONFIG and then to
//	~/.selfheal/selfheal.yaml; a missing default file is not an error.
//
// Outputs:
//
//	*Config - Validated configuration
//	error - File, parse or validation errors
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("SELFHEAL_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns ~/.selfheal/selfheal.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".selfheal", DefaultFileName)
}

// WriteDefault writes the built-in configuration to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
//
// Description:
//
//	SELFHEAL_* variables override scalar settings. Provider API keys come
//	from OPENAI_API_KEY, GEMINI_API_KEY and ANTHROPIC_API_KEY; OLLAMA_URL
//	sets the base URL of ollama providers without one. When no provider is
//	configured, one is added for each key present, in the order
//	anthropic, openai, gemini, ollama.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SELFHEAL_ADDR", &cfg.Server.Addr)
	str("SELFHEAL_LOG_LEVEL", &cfg.Log.Level)
	str("SELFHEAL_LOG_DIR", &cfg.Log.Dir)
	str("SELFHEAL_SPECS_DIR", &cfg.Specs.Dir)
	str("SELFHEAL_OUTPUT_DIR", &cfg.Defaults.OutputDir)
	str("SELFHEAL_NAMESPACE", &cfg.Defaults.Namespace)
	str("SELFHEAL_STORE_BACKEND", &cfg.Store.Backend)
	str("SELFHEAL_STORE_PATH", &cfg.Store.Path)
	str("SELFHEAL_MVN", &cfg.Executor.Command)
	str("SELFHEAL_REPORT_BUCKET", &cfg.Reports.Bucket)
	str("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Reports.CredentialsFile)
	str("INFLUXDB_URL", &cfg.Influx.URL)
	str("INFLUXDB_TOKEN", &cfg.Influx.Token)
	str("INFLUXDB_ORG", &cfg.Influx.Org)
	str("INFLUXDB_BUCKET", &cfg.Influx.Bucket)

	if v, ok := lookup("SELFHEAL_MAX_CONCURRENT_RUNS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxConcurrentRuns = n
		}
	}
	if v, ok := lookup("SELFHEAL_MAX_ITERATIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxIterations = n
		}
	}
	if v, ok := lookup("SELFHEAL_RUN_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.RunTimeout = d
		}
	}
	if v, ok := lookup("SELFHEAL_LOG_JSON"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSON = b
		}
	}

	keys := map[string]string{}
	for kind, env := range map[string]string{
		llm.KindOpenAI:    "OPENAI_API_KEY",
		llm.KindGemini:    "GEMINI_API_KEY",
		llm.KindAnthropic: "ANTHROPIC_API_KEY",
	} {
		if v, ok := lookup(env); ok && v != "" {
			keys[kind] = v
		}
	}
	ollamaURL, _ := lookup("OLLAMA_URL")

	if len(cfg.LLM.Providers) == 0 {
		for _, kind := range []string{llm.KindAnthropic, llm.KindOpenAI, llm.KindGemini} {
			if _, ok := keys[kind]; ok {
				cfg.LLM.Providers = append(cfg.LLM.Providers, llm.ProviderConfig{Kind: kind})
			}
		}
		if ollamaURL != "" {
			cfg.LLM.Providers = append(cfg.LLM.Providers, llm.ProviderConfig{Kind: llm.KindOllama})
		}
	}

	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.APIKey == "" {
			p.APIKey = keys[p.Kind]
		}
		if p.Kind == llm.KindOllama && p.BaseURL == "" {
			p.BaseURL = ollamaURL
		}
	}
}

// Validate checks the configuration and clamps component settings.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig, nil if valid.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Default().Server.ShutdownTimeout
	}
	if c.Server.StreamPollInterval <= 0 {
		c.Server.StreamPollInterval = Default().Server.StreamPollInterval
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "":
		c.Store.Backend = StoreMemory
	case StoreMemory:
	case StoreBadger:
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the badger backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q is not memory or badger", c.Store.Backend))
	}

	for i, p := range c.LLM.Providers {
		switch p.Kind {
		case llm.KindOpenAI, llm.KindOllama, llm.KindGemini, llm.KindAnthropic, llm.KindMock:
		default:
			problems = append(problems, fmt.Sprintf("llm.providers[%d].kind %q is unknown", i, p.Kind))
		}
	}

	if err := c.Orchestrator.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Executor.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Store.Config.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	c.Defaults.ApplyDefaults()

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
