// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the orchestrator over HTTP.
//
// Runs are started with POST /v1/runs and observed by polling
// GET /v1/runs/:id or by following GET /v1/runs/:id/stream, a websocket
// that pushes new log entries until the run is terminal.
package api

import (
	"time"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// ServiceVersion is the API version reported by /v1/health.
const ServiceVersion = "0.1.0"

// StartRunRequest is the body of POST /v1/runs.
//
// Fields left unset take the server's configured defaults.
type StartRunRequest struct {
	SpecID        string   `json:"specId" binding:"required,max=256"`
	MaxIterations *int     `json:"maxIterations,omitempty" binding:"omitempty,gte=1,lte=10"`
	OutputDir     string   `json:"outputDir,omitempty"`
	Namespace     string   `json:"namespace,omitempty"`
	AutoExecute   *bool    `json:"autoExecute,omitempty"`
	Operations    []string `json:"operations,omitempty" binding:"omitempty,dive,required"`
	BaseURL       string   `json:"baseUrl,omitempty" binding:"omitempty,url"`
}

// RunConfig merges the request onto defaults.
func (r *StartRunRequest) RunConfig(defaults testgen.RunConfig) testgen.RunConfig {
	cfg := defaults
	cfg.SpecID = r.SpecID
	if r.MaxIterations != nil {
		cfg.MaxIterations = *r.MaxIterations
	}
	if r.OutputDir != "" {
		cfg.OutputDir = r.OutputDir
	}
	if r.Namespace != "" {
		cfg.Namespace = r.Namespace
	}
	if r.AutoExecute != nil {
		cfg.AutoExecute = *r.AutoExecute
	}
	if len(r.Operations) > 0 {
		cfg.Operations = append([]string(nil), r.Operations...)
	}
	if r.BaseURL != "" {
		cfg.BaseURL = r.BaseURL
	}
	return cfg
}

// StartRunResponse is returned with 202 Accepted.
type StartRunResponse struct {
	RunID     string `json:"runId"`
	StatusURL string `json:"statusUrl"`
	StreamURL string `json:"streamUrl"`
}

// ListRunsResponse is the body of GET /v1/runs.
type ListRunsResponse struct {
	Runs  []*testgen.RunStatus `json:"runs"`
	Count int                  `json:"count"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	ActiveRuns int       `json:"activeRuns"`
	Time       time.Time `json:"time"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Stream message types.
const (
	MessageLog    = "log"
	MessageStatus = "status"
	MessageDone   = "done"
	MessageError  = "error"
)

// StreamMessage is one websocket frame of a run stream.
type StreamMessage struct {
	Type  string             `json:"type"`
	Entry *testgen.LogEntry  `json:"entry,omitempty"`
	Phase testgen.Phase      `json:"phase,omitempty"`
	Iter  int                `json:"currentIteration,omitempty"`
	Run   *testgen.RunStatus `json:"run,omitempty"`
	Error string             `json:"error,omitempty"`
}
