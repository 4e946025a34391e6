// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

// MaxListLimit caps GET /v1/runs.
const MaxListLimit = 500

// RunService starts and observes runs.
type RunService interface {
	StartRun(ctx context.Context, cfg testgen.RunConfig) (string, error)
	GetStatus(ctx context.Context, runID string) (*testgen.RunStatus, error)
	ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*testgen.RunStatus, error)
	Active() int
}

// Handlers contains the HTTP handlers for runs.
type Handlers struct {
	svc          RunService
	defaults     testgen.RunConfig
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time
}

// NewHandlers creates handlers for svc. Fields missing from a start request
// are taken from defaults.
func NewHandlers(svc RunService, defaults testgen.RunConfig, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		svc:          svc,
		defaults:     defaults,
		logger:       logger.With(slog.String("component", "api")),
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
	}
}

// WithPollInterval sets how often a run stream checks for changes.
func (h *Handlers) WithPollInterval(d time.Duration) *Handlers {
	if d > 0 {
		h.pollInterval = d
	}
	return h
}

// HandleStartRun handles POST /v1/runs.
//
// Response:
//
//	202 Accepted: StartRunResponse
//	400 Bad Request: Malformed body or invalid run configuration
//	404 Not Found: Unknown spec
//	422 Unprocessable Entity: The operation filter selects nothing
//	503 Service Unavailable: Shutting down
func (h *Handlers) HandleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	runID, err := h.svc.StartRun(c.Request.Context(), req.RunConfig(h.defaults))
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "START_FAILED"

		switch {
		case errors.Is(err, testgen.ErrInvalidRunConfig):
			statusCode, errCode = http.StatusBadRequest, "INVALID_RUN_CONFIG"
		case errors.Is(err, testgen.ErrSpecNotFound):
			statusCode, errCode = http.StatusNotFound, "SPEC_NOT_FOUND"
		case errors.Is(err, testgen.ErrNoOperations):
			statusCode, errCode = http.StatusUnprocessableEntity, "NO_OPERATIONS"
		case errors.Is(err, testgen.ErrShuttingDown):
			statusCode, errCode = http.StatusServiceUnavailable, "SHUTTING_DOWN"
		}

		h.logger.Warn("Start run rejected",
			slog.String("spec_id", req.SpecID),
			slog.String("code", errCode),
			slog.String("error", err.Error()),
		)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	c.Header("Location", "/v1/runs/"+runID)
	c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:     runID,
		StatusURL: "/v1/runs/" + runID,
		StreamURL: "/v1/runs/" + runID + "/stream",
	})
}

// HandleGetRun handles GET /v1/runs/:id.
//
// Response:
//
//	200 OK: testgen.RunStatus
//	404 Not Found: Unknown or evicted run
func (h *Handlers) HandleGetRun(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleListRuns handles GET /v1/runs?limit=&phase=&spec=.
//
// Response:
//
//	200 OK: ListRunsResponse, newest first
//	400 Bad Request: Invalid limit or phase
func (h *Handlers) HandleListRuns(c *gin.Context) {
	opts := runstore.ListOptions{Limit: 50, SpecID: c.Query("spec")}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be between 1 and " + strconv.Itoa(MaxListLimit),
				Code:  "INVALID_LIMIT",
			})
			return
		}
		opts.Limit = n
	}
	if v := c.Query("phase"); v != "" {
		phase := testgen.Phase(v)
		if !slices.Contains(testgen.AllPhases(), phase) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "unknown phase " + strconv.Quote(v),
				Code:  "INVALID_PHASE",
			})
			return
		}
		opts.Phase = phase
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("List runs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	if runs == nil {
		runs = []*testgen.RunStatus{}
	}
	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    ServiceVersion,
		ActiveRuns: h.svc.Active(),
		Time:       h.now().UTC(),
	})
}

func (h *Handlers) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, testgen.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RUN_NOT_FOUND"})
		return
	}
	h.logger.Error("Run lookup failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LOOKUP_FAILED"})
}
