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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("selfheal.llm")
	meter  = otel.Meter("selfheal.llm")
)

var (
	callLatency metric.Float64Histogram
	callTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callLatency, err = meter.Float64Histogram(
			"llm_generate_duration_seconds",
			metric.WithDescription("Duration of generation calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"llm_generate_total",
			metric.WithDescription("Total number of generation calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startGenerateSpan(ctx context.Context, provider string, req *Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "llm.Generate",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.Int("llm.prompt_len", len(req.Prompt)),
			attribute.Int("llm.max_tokens", req.MaxTokens),
		),
	)
}

func setGenerateSpanResult(span trace.Span, resp *Response) {
	span.SetAttributes(
		attribute.Int("llm.response_len", len(resp.Content)),
		attribute.String("llm.finish_reason", resp.FinishReason),
		attribute.Bool("llm.truncated", resp.Truncated),
	)
}

func recordCall(ctx context.Context, provider string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", err == nil),
	)
	callLatency.Record(ctx, d.Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
}
