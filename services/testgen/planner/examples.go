// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
)

const maxExampleDepth = 4

// exampleTime is fixed so best-effort plans are reproducible.
var exampleTime = time.Date(2024, time.January, 15, 10, 30, 0, 0, time.UTC)

// ExampleFor returns a schema-typed example value.
//
// Description:
//
//	A declared example is used when it is valid for the schema's format.
//	Otherwise the value is derived from the format (through the strfmt
//	registry), the enum, length and range bounds, or the property name.
//
// Inputs:
//
//	name - Property name, used for hints when the schema has no format
//	s - The schema; nil yields nil
func ExampleFor(name string, s *spec.Schema) any {
	return exampleFor(name, s, 0)
}

func exampleFor(name string, s *spec.Schema, depth int) any {
	if s == nil || depth > maxExampleDepth {
		return nil
	}
	if s.Example != nil && exampleValid(s) {
		return s.Example
	}
	if len(s.Enum) > 0 {
		return s.Enum[0]
	}

	switch s.Type {
	case "object", "":
		if len(s.Properties) == 0 {
			if s.Type == "" {
				return stringExample(name, s)
			}
			return map[string]any{}
		}
		obj := make(map[string]any, len(s.Properties))
		for _, prop := range sortedKeys(s.Properties) {
			obj[prop] = exampleFor(prop, s.Properties[prop], depth+1)
		}
		return obj
	case "array":
		item := exampleFor(name, s.Items, depth+1)
		if item == nil {
			return []any{}
		}
		return []any{item}
	case "integer":
		n := 1
		if s.Minimum != nil && float64(n) < *s.Minimum {
			n = int(*s.Minimum)
		}
		if s.Maximum != nil && float64(n) > *s.Maximum {
			n = int(*s.Maximum)
		}
		return n
	case "number":
		f := 9.99
		if s.Minimum != nil && f < *s.Minimum {
			f = *s.Minimum
		}
		if s.Maximum != nil && f > *s.Maximum {
			f = *s.Maximum
		}
		return f
	case "boolean":
		return true
	default:
		return stringExample(name, s)
	}
}

func stringExample(name string, s *spec.Schema) string {
	format := s.Format
	if format == "" {
		format = formatHint(name)
	}
	if v, ok := formatExample(format); ok {
		return v
	}

	v := "sample-" + strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		v = "sample"
	}
	if s.MinLength != nil && len(v) < *s.MinLength {
		v += strings.Repeat("x", *s.MinLength-len(v))
	}
	if s.MaxLength != nil && *s.MaxLength > 0 && len(v) > *s.MaxLength {
		v = v[:*s.MaxLength]
	}
	return v
}

func formatExample(format string) (string, bool) {
	switch format {
	case "email":
		return strfmt.Email("qa.user@example.com").String(), true
	case "uuid":
		return strfmt.UUID("3fa85f64-5717-4562-b3fc-2c963f66afa6").String(), true
	case "date":
		return strfmt.Date(exampleTime).String(), true
	case "date-time":
		return strfmt.DateTime(exampleTime).String(), true
	case "uri", "url":
		return strfmt.URI("https://example.com/resource").String(), true
	case "hostname":
		return strfmt.Hostname("api.example.com").String(), true
	case "ipv4":
		return strfmt.IPv4("192.0.2.10").String(), true
	case "ipv6":
		return strfmt.IPv6("2001:db8::10").String(), true
	case "password":
		return strfmt.Password("S3cure!Passw0rd").String(), true
	default:
		return "", false
	}
}

// exampleValid checks a declared string example against its format.
func exampleValid(s *spec.Schema) bool {
	str, ok := s.Example.(string)
	if !ok || s.Format == "" || !strfmt.Default.ContainsName(s.Format) {
		return true
	}
	return strfmt.Default.Validates(s.Format, str)
}

func formatHint(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "email"):
		return "email"
	case strings.HasSuffix(n, "url") || strings.HasSuffix(n, "uri"):
		return "uri"
	case strings.HasSuffix(n, "date"):
		return "date"
	case (strings.HasSuffix(n, "_at") || strings.HasSuffix(n, "time")):
		return "date-time"
	default:
		return ""
	}
}

func sortedKeys(m map[string]*spec.Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// describeSchema renders a compact one-line schema summary for prompts.
func describeSchema(s *spec.Schema, depth int) string {
	if s == nil {
		return "none"
	}
	if depth > maxExampleDepth {
		return "..."
	}
	switch s.Type {
	case "object", "":
		if len(s.Properties) == 0 {
			if s.Type == "" {
				return "any"
			}
			return "object"
		}
		required := make(map[string]bool, len(s.Required))
		for _, r := range s.Required {
			required[r] = true
		}
		parts := make([]string, 0, len(s.Properties))
		for _, k := range sortedKeys(s.Properties) {
			mark := ""
			if required[k] {
				mark = "*"
			}
			parts = append(parts, fmt.Sprintf("%s%s: %s", k, mark, describeSchema(s.Properties[k], depth+1)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case "array":
		return "[" + describeSchema(s.Items, depth+1) + "]"
	default:
		t := s.Type
		if s.Format != "" {
			t += "(" + s.Format + ")"
		}
		if len(s.Enum) > 0 {
			t += fmt.Sprintf(" enum%v", s.Enum)
		}
		return t
	}
}
