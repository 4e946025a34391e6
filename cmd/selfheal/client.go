// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/ux"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/api"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/runstore"
)

// apiClient calls a selfheal server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetStatus implements statusGetter.
func (c *apiClient) GetStatus(ctx context.Context, runID string) (*testgen.RunStatus, error) {
	var status testgen.RunStatus
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListRuns fetches runs newest first.
func (c *apiClient) ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*testgen.RunStatus, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Phase != "" {
		q.Set("phase", string(opts.Phase))
	}
	if opts.SpecID != "" {
		q.Set("spec", opts.SpecID)
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp api.ListRunsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			if resp.StatusCode == http.StatusNotFound && apiErr.Code == "RUN_NOT_FOUND" {
				return fmt.Errorf("%w: %s", testgen.ErrRunNotFound, apiErr.Error)
			}
			return fmt.Errorf("%s: %s (%s)", resp.Status, apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("request %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := newAPIClient(serverURL).GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), status)
	}
	ux.NewPrinter(cmd.OutOrStdout()).RenderRun(status)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	runs, err := newAPIClient(serverURL).ListRuns(cmd.Context(), runstore.ListOptions{
		Limit:  listLimit,
		Phase:  testgen.Phase(listPhase),
		SpecID: listSpec,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	ux.NewPrinter(cmd.OutOrStdout()).RenderRunList(runs)
	return nil
}
