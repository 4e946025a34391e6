// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testgen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// RUN CONFIG
// =============================================================================

const (
	// DefaultMaxIterations is used when RunConfig.MaxIterations is zero.
	DefaultMaxIterations = 3

	// MaxAllowedIterations bounds RunConfig.MaxIterations.
	MaxAllowedIterations = 10

	// DefaultNamespace is the Java package used when none is given.
	DefaultNamespace = "com.aleutian.apitests"
)

// RunConfig is the immutable input to a run.
type RunConfig struct {
	// SpecID identifies the normalized spec in the spec store.
	SpecID string `json:"specId" yaml:"spec_id" validate:"required,max=256"`

	// MaxIterations bounds the number of executor invocations.
	MaxIterations int `json:"maxIterations" yaml:"max_iterations" validate:"gte=1,lte=10"`

	// OutputDir is the directory the suite is persisted under. The suite
	// itself is written to OutputDir/<runId>.
	OutputDir string `json:"outputDir" yaml:"output_dir" validate:"required"`

	// Namespace is the Java package of the generated classes.
	Namespace string `json:"namespace" yaml:"namespace" validate:"required,javapkg"`

	// AutoExecute runs the suite after persisting it.
	AutoExecute bool `json:"autoExecute" yaml:"auto_execute"`

	// Operations selects operations by operationId or "METHOD /path".
	// Empty selects every operation.
	Operations []string `json:"operations,omitempty" yaml:"operations" validate:"dive,required"`

	// BaseURL overrides the server URL of the spec.
	BaseURL string `json:"baseUrl,omitempty" yaml:"base_url" validate:"omitempty,url"`
}

// DefaultRunConfig returns a RunConfig with sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxIterations: DefaultMaxIterations,
		OutputDir:     "generated-suites",
		Namespace:     DefaultNamespace,
		AutoExecute:   true,
	}
}

// ApplyDefaults fills zero-valued optional fields.
func (c *RunConfig) ApplyDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.OutputDir == "" {
		c.OutputDir = "generated-suites"
	}
}

// Validate checks the configuration.
//
// Outputs:
//
//	error - Wraps ErrInvalidRunConfig with the failing fields, nil if valid.
func (c *RunConfig) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRunConfig, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRunConfig, err)
}

// MatchesOperation reports whether an operation passes the filter.
func (c *RunConfig) MatchesOperation(operationID, method, path string) bool {
	if len(c.Operations) == 0 {
		return true
	}
	key := strings.ToUpper(method) + " " + path
	for _, sel := range c.Operations {
		sel = strings.TrimSpace(sel)
		if sel == operationID {
			return true
		}
		if strings.EqualFold(sel, key) {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATOR
// =============================================================================

var (
	validate     *validator.Validate
	validateOnce sync.Once

	javaPackagePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)*$`)
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("javapkg", func(fl validator.FieldLevel) bool {
			return javaPackagePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}
