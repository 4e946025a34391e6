// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command selfheal generates API test suites from normalized specs and
// repairs them until they pass or the remaining failures are attributed to
// the API.
//
// Usage:
//
//	selfheal serve                          # HTTP API on :8089
//	selfheal run things --output ./suites   # one run in-process
//	selfheal status <run-id>                # query a running server
//	selfheal list --phase completed
//
// Example requests against a server:
//
//	curl -X POST http://localhost:8089/v1/runs \
//	  -H "Content-Type: application/json" \
//	  -d '{"specId": "things", "maxIterations": 3}'
//
//	curl http://localhost:8089/v1/runs/<run-id>
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				ux.NewPrinter(os.Stderr).Error(ee.err.Error())
			}
			os.Exit(ee.code)
		}
		ux.NewPrinter(os.Stderr).Error(fmt.Sprint(err))
		os.Exit(1)
	}
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}
