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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CHAIN CONFIG
// =============================================================================

// ChainConfig configures a provider chain.
type ChainConfig struct {
	// CallTimeout bounds a single provider call.
	// Default: 3m
	CallTimeout time.Duration

	// MaxRetries is the number of retries per provider after the first attempt.
	// Default: 2
	MaxRetries int

	// RetryBackoff is the base delay, doubled on each retry.
	// Default: 1s
	RetryBackoff time.Duration

	// RequestsPerSecond limits calls across all providers. Zero disables.
	// Default: 2
	RequestsPerSecond float64

	// Burst is the limiter burst size.
	// Default: 4
	Burst int
}

// DefaultChainConfig returns a ChainConfig with sensible defaults.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		CallTimeout:       3 * time.Minute,
		MaxRetries:        2,
		RetryBackoff:      time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// Validate clamps out-of-range values.
func (c *ChainConfig) Validate() error {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 3 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	return nil
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain tries providers in order until one succeeds.
//
// Thread Safety: Safe for concurrent use.
type Chain struct {
	providers []Provider
	cfg       ChainConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewChain creates a provider chain.
//
// Inputs:
//
//	providers - Providers in priority order
//	cfg - Chain configuration
//	logger - Logger for structured logging
//
// Outputs:
//
//	*Chain - Configured chain
//	error - ErrNoProviders if providers is empty
func NewChain(providers []Provider, cfg ChainConfig, logger *slog.Logger) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	_ = cfg.Validate()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Chain{
		providers: providers,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		logger:    logger,
	}, nil
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Generate implements Generator.
//
// Description:
//
//	Each provider gets 1+MaxRetries attempts, each bounded by CallTimeout,
//	with exponential backoff between attempts. An error IsRetryable rejects
//	ends the provider's attempts early. When a provider is exhausted the
//	next one is tried. Context cancellation stops immediately.
//
// Outputs:
//
//	*Response - Response with ProviderID set to the serving provider
//	error - ErrAllProvidersFailed joined with each ProviderError, or ctx.Err()
func (c *Chain) Generate(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	var errs []error
	for _, p := range c.providers {
		resp, attempts, err := c.tryProvider(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("Provider exhausted, falling back",
			slog.String("provider", p.Name()),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		errs = append(errs, &ProviderError{Provider: p.Name(), Attempts: attempts, Cause: err})
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

func (c *Chain) tryProvider(ctx context.Context, p Provider, req *Request) (*Response, int, error) {
	var lastErr error
	attempt := 0
	for attempt = 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, attempt, err
		}

		resp, err := c.call(ctx, p, req)
		if err == nil {
			return resp, attempt + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}
		if !IsRetryable(err) {
			c.logger.Debug("Generation error is not retryable",
				slog.String("provider", p.Name()),
				slog.Int("status", StatusCode(err)),
				slog.String("error", err.Error()),
			)
			return nil, attempt + 1, err
		}
		c.logger.Debug("Generation attempt failed",
			slog.String("provider", p.Name()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return nil, attempt, lastErr
}

func (c *Chain) call(ctx context.Context, p Provider, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	callCtx, span := startGenerateSpan(callCtx, p.Name(), req)
	defer span.End()

	start := time.Now()
	resp, err := p.Generate(callCtx, req)
	if err == nil && (resp == nil || resp.Content == "") {
		err = ErrEmptyResponse
	}
	recordCall(ctx, p.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.ProviderID == "" {
		resp.ProviderID = p.Name()
	}
	if !resp.Truncated {
		resp.Truncated = isTruncation(resp.FinishReason)
	}
	setGenerateSpanResult(span, resp)
	return resp, nil
}
