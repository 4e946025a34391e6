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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func fastChainConfig() ChainConfig {
	return ChainConfig{
		CallTimeout:  time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		Burst:        10,
	}
}

// =============================================================================
// CHAIN
// =============================================================================

func TestNewChain_NoProviders(t *testing.T) {
	if _, err := NewChain(nil, DefaultChainConfig(), nil); !errors.Is(err, ErrNoProviders) {
		t.Errorf("NewChain(nil) error = %v, want ErrNoProviders", err)
	}
}

func TestChain_Generate(t *testing.T) {
	t.Run("first provider serves", func(t *testing.T) {
		primary := NewMockProvider().WithName("primary").QueueContent("hello")
		secondary := NewMockProvider().WithName("secondary")
		chain, err := NewChain([]Provider{primary, secondary}, fastChainConfig(), nil)
		if err != nil {
			t.Fatalf("NewChain() error = %v", err)
		}

		resp, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp.ProviderID != "primary" {
			t.Errorf("ProviderID = %q, want primary", resp.ProviderID)
		}
		if secondary.CallCount() != 0 {
			t.Errorf("secondary called %d times, want 0", secondary.CallCount())
		}
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		p := NewMockProvider().WithName("flaky").
			QueueError(errors.New("503")).
			QueueContent("ok")
		chain, _ := NewChain([]Provider{p}, fastChainConfig(), nil)

		resp, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp.Content != "ok" {
			t.Errorf("Content = %q, want ok", resp.Content)
		}
		if p.CallCount() != 2 {
			t.Errorf("CallCount() = %d, want 2", p.CallCount())
		}
	})

	t.Run("falls back after retries", func(t *testing.T) {
		broken := NewMockProvider().WithName("broken").
			QueueError(errors.New("boom")).
			QueueError(errors.New("boom"))
		backup := NewMockProvider().WithName("backup").QueueContent("from backup")
		chain, _ := NewChain([]Provider{broken, backup}, fastChainConfig(), nil)

		resp, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp.ProviderID != "backup" {
			t.Errorf("ProviderID = %q, want backup", resp.ProviderID)
		}
		if broken.CallCount() != 2 {
			t.Errorf("broken CallCount() = %d, want 2", broken.CallCount())
		}
	})

	t.Run("non-retryable error falls back at once", func(t *testing.T) {
		denied := NewMockProvider().WithName("denied").
			QueueError(fmt.Errorf("openai chat completion: %w", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"})).
			QueueContent("unreachable")
		backup := NewMockProvider().WithName("backup").QueueContent("from backup")
		chain, _ := NewChain([]Provider{denied, backup}, fastChainConfig(), nil)

		resp, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp.ProviderID != "backup" {
			t.Errorf("ProviderID = %q, want backup", resp.ProviderID)
		}
		if denied.CallCount() != 1 {
			t.Errorf("denied CallCount() = %d, want 1", denied.CallCount())
		}
	})

	t.Run("throttling is retried", func(t *testing.T) {
		p := NewMockProvider().WithName("busy").
			QueueError(&StatusError{Provider: "anthropic", StatusCode: 429}).
			QueueContent("ok")
		chain, _ := NewChain([]Provider{p}, fastChainConfig(), nil)

		if _, err := chain.Generate(context.Background(), &Request{Prompt: "hi"}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if p.CallCount() != 2 {
			t.Errorf("CallCount() = %d, want 2", p.CallCount())
		}
	})

	t.Run("empty content counts as failure", func(t *testing.T) {
		p := NewMockProvider().QueueContent("").QueueContent("")
		chain, _ := NewChain([]Provider{p}, fastChainConfig(), nil)

		_, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if !errors.Is(err, ErrAllProvidersFailed) {
			t.Fatalf("Generate() error = %v, want ErrAllProvidersFailed", err)
		}
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("Generate() error = %v, want wrapped ErrEmptyResponse", err)
		}
		var perr *ProviderError
		if !errors.As(err, &perr) || perr.Attempts != 2 {
			t.Errorf("ProviderError = %+v, want 2 attempts", perr)
		}
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		p := NewMockProvider().QueueContent("never")
		chain, _ := NewChain([]Provider{p}, fastChainConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := chain.Generate(ctx, &Request{Prompt: "hi"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Generate() error = %v, want context.Canceled", err)
		}
	})

	t.Run("truncation flagged from finish reason", func(t *testing.T) {
		p := NewMockProvider().WithResponseFunc(func(*Request) (*Response, error) {
			return &Response{Content: `{"a": [1`, FinishReason: "length"}, nil
		})
		chain, _ := NewChain([]Provider{p}, fastChainConfig(), nil)

		resp, err := chain.Generate(context.Background(), &Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !resp.Truncated {
			t.Error("Truncated = false, want true")
		}
		if resp.ProviderID != "mock" {
			t.Errorf("ProviderID = %q, want mock", resp.ProviderID)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"plain error", errors.New("connection reset"), 0, true},
		{"empty response", ErrEmptyResponse, 0, true},
		{"call timeout", context.DeadlineExceeded, 0, true},
		{"missing key", fmt.Errorf("anthropic: %w", ErrMissingAPIKey), 0, false},
		{"anthropic 400", &StatusError{Provider: "anthropic", StatusCode: 400}, 400, false},
		{"anthropic 529", &StatusError{Provider: "anthropic", StatusCode: 529}, 529, true},
		{"openai 401", fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 401}), 401, false},
		{"openai 403 request", &openai.RequestError{HTTPStatusCode: 403}, 403, false},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500}, 500, true},
		{"gemini 403", fmt.Errorf("gemini generate: %w", genai.APIError{Code: 403}), 403, false},
		{"gemini 429", genai.APIError{Code: 429}, 429, true},
		{"request timeout", &StatusError{StatusCode: 408}, 408, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.status {
				t.Errorf("StatusCode() = %d, want %d", got, tt.status)
			}
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChain_Providers(t *testing.T) {
	chain, _ := NewChain([]Provider{
		NewMockProvider().WithName("a"),
		NewMockProvider().WithName("b"),
	}, fastChainConfig(), nil)
	got := chain.Providers()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Providers() = %v, want [a b]", got)
	}
}

// =============================================================================
// ANTHROPIC
// =============================================================================

func TestAnthropicProvider_Generate(t *testing.T) {
	var gotKey string
	var gotReq messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"generated"}],"stop_reason":"max_tokens"}`))
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  NewSecret("sk-test"),
		BaseURL: server.URL,
		Model:   "claude-test",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	resp, err := p.Generate(context.Background(), &Request{Prompt: "p", SystemPrompt: "s", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotKey != "sk-test" {
		t.Errorf("x-api-key = %q, want sk-test", gotKey)
	}
	if gotReq.System != "s" || gotReq.MaxTokens != 100 || gotReq.Model != "claude-test" {
		t.Errorf("request = %+v", gotReq)
	}
	if resp.Content != "generated" || !resp.Truncated || resp.ProviderID != "anthropic" {
		t.Errorf("Generate() = %+v", resp)
	}
}

func TestAnthropicProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: NewSecret("k"), BaseURL: server.URL, Model: "m"})
	_, err := p.Generate(context.Background(), &Request{Prompt: "p"})
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Generate() error = %v, want StatusError 429", err)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable(429) = false, want true")
	}
}

func TestNewAnthropicProvider_MissingKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{Model: "m"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("error = %v, want ErrMissingAPIKey", err)
	}
}

// =============================================================================
// FACTORY & SECRET
// =============================================================================

func TestNewProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), []ProviderConfig{
		{Kind: KindMock, Name: "m1"},
		{Kind: KindMock},
	}, nil)
	if err != nil {
		t.Fatalf("NewProviders() error = %v", err)
	}
	if providers[0].Name() != "m1" || providers[1].Name() != "mock" {
		t.Errorf("names = %s, %s", providers[0].Name(), providers[1].Name())
	}

	if _, err := NewProviders(context.Background(), []ProviderConfig{{Kind: "carrier-pigeon"}}, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown kind error = %v, want ErrUnknownProvider", err)
	}
	if _, err := NewProviders(context.Background(), []ProviderConfig{{Kind: KindOpenAI}}, nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("openai without key error = %v, want ErrMissingAPIKey", err)
	}
}

func TestSecret(t *testing.T) {
	if NewSecret("") != nil {
		t.Error("NewSecret(\"\") should be nil")
	}
	var missing *Secret
	if _, err := missing.Reveal(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("nil Reveal() error = %v", err)
	}
	s := NewSecret("abc")
	got, err := s.Reveal()
	if err != nil || got != "abc" {
		t.Errorf("Reveal() = %q, %v", got, err)
	}
	again, _ := s.Reveal()
	if again != "abc" {
		t.Errorf("second Reveal() = %q", again)
	}
}
