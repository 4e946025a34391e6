// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text generation capability used by every agent of
// the test generation pipeline.
//
// A Provider wraps one backend (OpenAI or a compatible server, Ollama,
// Gemini, Anthropic). A Chain tries providers in order with a per-call
// deadline, retries with exponential backoff, and a shared rate limit, and
// reports which provider served each response.
package llm

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// =============================================================================
// CONTRACT
// =============================================================================

// Request is one generation request.
type Request struct {
	// Prompt is the user message.
	Prompt string

	// SystemPrompt is the system instruction. May be empty.
	SystemPrompt string

	// Temperature controls sampling randomness.
	Temperature float32

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// Response is the generated text and the provider that produced it.
type Response struct {
	// Content is the generated text.
	Content string

	// ProviderID identifies the provider that served the request.
	ProviderID string

	// FinishReason is the provider-reported stop reason.
	FinishReason string

	// Truncated is set when the provider stopped on the token limit.
	Truncated bool
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Provider is a Generator backed by one named backend.
type Provider interface {
	Generator

	// Name returns the provider id reported in Response.ProviderID.
	Name() string
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoProviders indicates a chain was built without providers.
	ErrNoProviders = errors.New("no generation providers configured")

	// ErrAllProvidersFailed indicates every provider exhausted its retries.
	ErrAllProvidersFailed = errors.New("all generation providers failed")

	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("provider returned empty response")

	// ErrMissingAPIKey indicates a provider that needs a key has none.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrUnknownProvider indicates an unsupported provider kind.
	ErrUnknownProvider = errors.New("unknown provider kind")
)

// ProviderError records the failure of one provider in a chain.
type ProviderError struct {
	Provider string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return "provider " + e.Provider + ": " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// StatusError is a non-2xx reply from a provider's HTTP API.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := e.Provider + " status " + strconv.Itoa(e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func isTruncation(reason string) bool {
	switch strings.ToLower(reason) {
	case "length", "max_tokens", "max_output_tokens", "finish_reason_max_tokens":
		return true
	default:
		return false
	}
}
