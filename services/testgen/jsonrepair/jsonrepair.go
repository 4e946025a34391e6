// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrepair extracts JSON objects from free-form model output.
//
// Model responses wrap JSON in prose or code fences and are sometimes cut
// off mid-object when they hit the token limit. Extract tries, in order:
//
//  1. the trimmed text with a leading/trailing code fence removed
//  2. the substring from the first '{' to the last '}'
//  3. everything from the first '{', with an unterminated string closed
//     and every still-open '[' and '{' closed in reverse order of opening
//
// Callers decide what a failure means; the reflector substitutes a safe
// fallback, the planner builds a plan without the model.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable indicates no extraction strategy produced valid JSON.
var ErrUnparseable = errors.New("no valid JSON object in text")

// Stage identifies which strategy produced the JSON.
type Stage int

const (
	// StageNone means nothing parsed.
	StageNone Stage = iota

	// StageDirect means the fence-stripped text parsed as is.
	StageDirect

	// StageSubstring means the first-'{'-to-last-'}' span parsed.
	StageSubstring

	// StageRepaired means truncation repair was needed.
	StageRepaired
)

// String returns the stage name for logs and metrics.
func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageSubstring:
		return "substring"
	case StageRepaired:
		return "repaired"
	default:
		return "none"
	}
}

// Extract returns the first candidate that is valid JSON.
//
// Inputs:
//
//	raw - Model output
//
// Outputs:
//
//	string - Valid JSON text
//	Stage - The strategy that produced it
//	error - ErrUnparseable if every strategy failed
func Extract(raw string) (string, Stage, error) {
	text := StripFences(raw)
	if text == "" {
		return "", StageNone, ErrUnparseable
	}

	if json.Valid([]byte(text)) {
		return text, StageDirect, nil
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "", StageNone, ErrUnparseable
	}

	if end := strings.LastIndex(text, "}"); end > start {
		span := text[start : end+1]
		if json.Valid([]byte(span)) {
			return span, StageSubstring, nil
		}
	}

	repaired := Repair(text[start:])
	if json.Valid([]byte(repaired)) {
		return repaired, StageRepaired, nil
	}
	return "", StageNone, ErrUnparseable
}

// Unmarshal extracts JSON from raw and decodes it into v.
//
// Outputs:
//
//	Stage - The strategy that produced the JSON
//	error - ErrUnparseable, or a decode error if the JSON does not fit v
func Unmarshal(raw string, v any) (Stage, error) {
	text, stage, err := Extract(raw)
	if err != nil {
		return StageNone, err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return stage, fmt.Errorf("decode %s JSON: %w", stage, err)
	}
	return stage, nil
}

// StripFences trims text and removes a leading fence line (``` or ```json)
// and a trailing ``` if present.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl != -1 {
			text = text[nl+1:]
		} else {
			text = strings.TrimLeft(text[3:], "abcdefghijklmnopqrstuvwxyz")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Repair closes a truncated JSON document.
//
// Description:
//
//	Scans s tracking whether the cursor is inside a quoted string (honoring
//	backslash escapes) and which brackets are open. If the scan ends inside a
//	string a closing quote is appended. A trailing comma or a dangling object
//	key is dropped, then the open brackets are closed innermost first.
//
// Inputs:
//
//	s - JSON text starting at the first '{'
//
// Outputs:
//
//	string - The repaired text; not guaranteed to be valid JSON
func Repair(s string) string {
	var (
		open     []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			open = append(open, c)
		case '}', ']':
			if n := len(open); n > 0 && open[n-1] == opener(c) {
				open = open[:n-1]
			}
		}
	}

	var b strings.Builder
	b.Grow(len(s) + len(open) + 1)
	body := s
	if inString {
		if escaped {
			body = body[:len(body)-1]
		}
		body += `"`
	}
	body = trimDangling(body)
	b.WriteString(body)
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteByte(closer(open[i]))
	}
	return b.String()
}

// trimDangling removes a trailing comma, or a trailing `"key":` with no value.
func trimDangling(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(s, ",") {
		return strings.TrimRight(s[:len(s)-1], " \t\r\n")
	}
	if !strings.HasSuffix(s, ":") {
		return s
	}
	s = strings.TrimRight(s[:len(s)-1], " \t\r\n")
	if !strings.HasSuffix(s, `"`) {
		return s
	}
	// Walk back to the opening quote of the key.
	i := len(s) - 2
	for i >= 0 {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			break
		}
		i--
	}
	if i < 0 {
		return s
	}
	s = strings.TrimRight(s[:i], " \t\r\n")
	return strings.TrimSuffix(s, ",")
}

func opener(c byte) byte {
	if c == '}' {
		return '{'
	}
	return '['
}

func closer(c byte) byte {
	if c == '{' {
		return '}'
	}
	return ']'
}
