// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redact scrubs secrets from text captured from test runs.
//
// Build output can echo request headers, connection strings and environment
// values. Everything the executor captures passes through a Redactor before
// it reaches run status, logs or a generation prompt.
//
// The rules are compiled from an embedded YAML file:
//
//	r, err := redact.New()
//	clean := r.Redact(output)
package redact

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// ErrInvalidRules indicates a rule file that cannot be loaded.
var ErrInvalidRules = errors.New("invalid redaction rules")

// ConfidenceLevel is how likely a rule match is a real secret.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// UnmarshalYAML rejects unknown levels.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	level := ConfidenceLevel(s)
	switch level {
	case High, Medium, Low:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", s)
	}
}

// Rule is one secret pattern.
type Rule struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Group       int             `yaml:"group"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	Priority    int             `yaml:"priority"`

	compiled *regexp.Regexp
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Finding is one secret located by Scan. The secret itself is not kept.
type Finding struct {
	Line       int             `json:"line"`
	RuleID     string          `json:"ruleId"`
	Confidence ConfidenceLevel `json:"confidence"`
}

// Redactor replaces secrets with "[REDACTED:<rule id>]".
//
// Thread Safety: Safe for concurrent use after construction.
type Redactor struct {
	rules []Rule
}

// New loads the embedded rules.
func New() (*Redactor, error) {
	return FromYAML(defaultPatterns)
}

// FromYAML loads rules from a YAML document.
//
// Description:
//
//	Compiles every pattern and orders rules by descending priority, keeping
//	file order among equal priorities.
//
// Outputs:
//
//	*Redactor - Ready to use
//	error - Wraps ErrInvalidRules for malformed YAML, bad regexes or a
//	        group beyond the pattern's capture groups
func FromYAML(data []byte) (*Redactor, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRules, r.ID, err)
		}
		if r.Group < 0 || r.Group > re.NumSubexp() {
			return nil, fmt.Errorf("%w: rule %s: group %d out of range", ErrInvalidRules, r.ID, r.Group)
		}
		r.compiled = re
	}
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
	return &Redactor{rules: f.Rules}, nil
}

// Rules returns the rule ids in application order.
func (r *Redactor) Rules() []string {
	ids := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

// Redact returns s with every match replaced. A nil Redactor returns s.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, rule := range r.rules {
		s = rule.replace(s)
	}
	return s
}

// Scan reports the secrets in content line by line without changing it.
func (r *Redactor) Scan(content string) []Finding {
	var findings []Finding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, rule := range r.rules {
			if rule.compiled.MatchString(line) {
				findings = append(findings, Finding{
					Line:       lineNum + 1,
					RuleID:     rule.ID,
					Confidence: rule.Confidence,
				})
			}
		}
	}
	return findings
}

func (rule *Rule) replace(s string) string {
	matches := rule.compiled.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	mask := "[REDACTED:" + rule.ID + "]"
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		start, end := m[2*rule.Group], m[2*rule.Group+1]
		if start < 0 || start < last || strings.HasPrefix(s[start:end], "[REDACTED:") {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(mask)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
