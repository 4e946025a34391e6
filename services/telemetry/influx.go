// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// InfluxConfig locates the InfluxDB bucket for iteration points.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"-"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether enough is configured to write points.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

// InfluxRecorder writes one point per completed iteration.
//
// Thread Safety: Safe for concurrent use.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	now      func() time.Time
}

// NewInfluxRecorder creates a recorder with a blocking write API.
func NewInfluxRecorder(cfg InfluxConfig) (*InfluxRecorder, error) {
	if !cfg.Enabled() {
		return nil, errors.New("influx url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		now:      time.Now,
	}, nil
}

// RecordIteration writes the iteration as a "selfheal_iterations" point.
func (r *InfluxRecorder) RecordIteration(ctx context.Context, runID string, it testgen.Iteration) error {
	p := influxdb2.NewPointWithMeasurement("selfheal_iterations").
		AddTag("run_id", runID).
		AddTag("iteration", fmt.Sprintf("%d", it.Number)).
		AddField("fixes_applied", it.FixesApplied).
		AddField("fixes_rejected", len(it.RejectedFixes)).
		SetTime(r.now())

	if ex := it.Execution; ex != nil {
		p = p.AddField("success", ex.Success).
			AddField("build_failed", ex.BuildFailed).
			AddField("total", ex.Total).
			AddField("passed", ex.Passed).
			AddField("failed", ex.Failed).
			AddField("errored", ex.Errored).
			AddField("skipped", ex.Skipped).
			AddField("duration_ms", ex.Duration.Milliseconds())
	}
	if ref := it.Reflection; ref != nil {
		p = p.AddTag("failure_source", string(ref.FailureSource)).
			AddField("should_retry", ref.ShouldRetry)
	}

	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write iteration point: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *InfluxRecorder) Close() {
	r.client.Close()
}
