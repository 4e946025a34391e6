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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicVersion    = "2023-06-01"
	anthropicMessages   = "https://api.anthropic.com/v1/messages"
	anthropicMaxDefault = 4096
)

type messagesRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []messagesEntry `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature"`
}

type messagesEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	// Name is the provider id. Default: "anthropic"
	Name string

	// APIKey is required. It stays sealed between requests.
	APIKey *Secret

	// BaseURL overrides the messages endpoint.
	BaseURL string

	// Model is required.
	Model string
}

// AnthropicProvider generates text through the Messages REST API.
type AnthropicProvider struct {
	httpClient *http.Client
	key        *Secret
	endpoint   string
	name       string
	model      string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if !cfg.APIKey.Present() {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicMessages
	}
	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		key:        cfg.APIKey,
		endpoint:   cfg.BaseURL,
		name:       cfg.Name,
		model:      cfg.Model,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return p.name }

// Generate implements Generator.
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxDefault
	}
	body, err := json.Marshal(messagesRequest{
		Model:       p.model,
		System:      req.SystemPrompt,
		Messages:    []messagesEntry{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	key, err := p.key.Reveal()
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: "unparseable body"}
	}
	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode}
		if parsed.Error != nil {
			serr.Message = parsed.Error.Type + ": " + parsed.Error.Message
		}
		return nil, serr
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{
		Content:      sb.String(),
		ProviderID:   p.name,
		FinishReason: parsed.StopReason,
		Truncated:    parsed.StopReason == "max_tokens",
	}, nil
}
