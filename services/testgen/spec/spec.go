// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package spec defines the normalized API description consumed by the
// planner and the stores that serve it.
//
// Ingesting OpenAPI/Swagger documents is done elsewhere; this package only
// reads already-normalized specs from memory or from a watched directory of
// YAML/JSON files.
package spec

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// NormalizedSpec is an API description reduced to what test planning needs.
type NormalizedSpec struct {
	ID         string      `json:"id" yaml:"id"`
	Title      string      `json:"title" yaml:"title"`
	Version    string      `json:"version,omitempty" yaml:"version"`
	BaseURL    string      `json:"baseUrl" yaml:"base_url"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Operation is one HTTP method on one path.
type Operation struct {
	OperationID string             `json:"operationId" yaml:"operation_id"`
	Method      string             `json:"method" yaml:"method"`
	Path        string             `json:"path" yaml:"path"`
	Summary     string             `json:"summary,omitempty" yaml:"summary"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags"`
	Parameters  []Parameter        `json:"parameters,omitempty" yaml:"parameters"`
	RequestBody *Schema            `json:"requestBody,omitempty" yaml:"request_body"`
	Responses   map[string]*Schema `json:"responses,omitempty" yaml:"responses"`
}

// Key returns "METHOD /path".
func (o *Operation) Key() string {
	return strings.ToUpper(o.Method) + " " + o.Path
}

// ID returns the operation id, or the key if the id is empty.
func (o *Operation) ID() string {
	if o.OperationID != "" {
		return o.OperationID
	}
	return o.Key()
}

// SuccessStatus returns the lowest declared 2xx status, or a method default.
func (o *Operation) SuccessStatus() int {
	codes := make([]string, 0, len(o.Responses))
	for code := range o.Responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, c := range codes {
		if len(c) == 3 && c[0] == '2' {
			return int(c[0]-'0')*100 + int(c[1]-'0')*10 + int(c[2]-'0')
		}
	}
	switch strings.ToUpper(o.Method) {
	case "POST":
		return 201
	case "DELETE":
		return 204
	default:
		return 200
	}
}

// Parameter is a path, query or header parameter.
type Parameter struct {
	Name     string  `json:"name" yaml:"name"`
	In       string  `json:"in" yaml:"in"`
	Required bool    `json:"required,omitempty" yaml:"required"`
	Schema   *Schema `json:"schema,omitempty" yaml:"schema"`
}

// Schema is a reduced JSON schema.
type Schema struct {
	Type       string             `json:"type,omitempty" yaml:"type"`
	Format     string             `json:"format,omitempty" yaml:"format"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties"`
	Items      *Schema            `json:"items,omitempty" yaml:"items"`
	Required   []string           `json:"required,omitempty" yaml:"required"`
	Enum       []any              `json:"enum,omitempty" yaml:"enum"`
	Example    any                `json:"example,omitempty" yaml:"example"`
	MinLength  *int               `json:"minLength,omitempty" yaml:"min_length"`
	MaxLength  *int               `json:"maxLength,omitempty" yaml:"max_length"`
	Minimum    *float64           `json:"minimum,omitempty" yaml:"minimum"`
	Maximum    *float64           `json:"maximum,omitempty" yaml:"maximum"`
}

// Select returns the operations that pass the run filter, in spec order.
func (s *NormalizedSpec) Select(cfg *testgen.RunConfig) []Operation {
	var out []Operation
	for _, op := range s.Operations {
		if cfg.MatchesOperation(op.OperationID, op.Method, op.Path) {
			out = append(out, op)
		}
	}
	return out
}

// Store serves normalized specs by id.
type Store interface {
	// FindByID returns the spec or an error wrapping testgen.ErrSpecNotFound.
	FindByID(ctx context.Context, id string) (*NormalizedSpec, error)
}
