// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider kinds accepted by NewProviders.
const (
	KindOpenAI    = "openai"
	KindOllama    = "ollama"
	KindGemini    = "gemini"
	KindAnthropic = "anthropic"
	KindMock      = "mock"
)

// ProviderConfig describes one provider in configuration files.
type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// APIKey is sealed into a Secret by NewProviders.
	APIKey string `yaml:"-"`
}

// NewProviders builds providers in the configured order.
//
// Outputs:
//
//	[]Provider - One provider per config entry
//	error - ErrUnknownProvider or a provider construction error
func NewProviders(ctx context.Context, cfgs []ProviderConfig, logger *slog.Logger) ([]Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	providers := make([]Provider, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := newProvider(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", c.Kind, err)
		}
		logger.Info("Generation provider configured",
			slog.String("kind", c.Kind),
			slog.String("name", p.Name()),
			slog.String("model", c.Model),
			slog.Bool("api_key_present", c.APIKey != ""),
		)
		providers = append(providers, p)
	}
	return providers, nil
}

func newProvider(ctx context.Context, c ProviderConfig) (Provider, error) {
	switch c.Kind {
	case KindOpenAI:
		return NewOpenAIProvider(OpenAIConfig{Name: c.Name, APIKey: NewSecret(c.APIKey), BaseURL: c.BaseURL, Model: c.Model})
	case KindOllama:
		return NewOllamaProvider(OllamaConfig{Name: c.Name, BaseURL: c.BaseURL, Model: c.Model})
	case KindGemini:
		return NewGeminiProvider(ctx, GeminiConfig{Name: c.Name, APIKey: NewSecret(c.APIKey), Model: c.Model})
	case KindAnthropic:
		return NewAnthropicProvider(AnthropicConfig{Name: c.Name, APIKey: NewSecret(c.APIKey), BaseURL: c.BaseURL, Model: c.Model})
	case KindMock:
		m := NewMockProvider()
		if c.Name != "" {
			m.WithName(c.Name)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, c.Kind)
	}
}
