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

	"google.golang.org/genai"
)

// GeminiConfig configures a Gemini provider.
type GeminiConfig struct {
	// Name is the provider id. Default: "gemini"
	Name string

	// APIKey is required.
	APIKey *Secret

	// Model defaults to gemini-2.5-flash.
	Model string
}

// GeminiProvider generates text through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	name   string
	model  string
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	key, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, name: cfg.Name, model: cfg.Model}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return p.name }

// Generate implements Generator.
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &Response{Content: resp.Text(), ProviderID: p.name}
	if len(resp.Candidates) > 0 {
		reason := resp.Candidates[0].FinishReason
		out.FinishReason = string(reason)
		out.Truncated = reason == genai.FinishReasonMaxTokens
	}
	return out, nil
}
