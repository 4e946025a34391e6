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
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
)

// DefaultBaseURL is used when neither the run nor the spec names one.
const DefaultBaseURL = "http://localhost:8080"

// BestEffortPlan builds a plan from the operations alone.
//
// Description:
//
//	Each operation gets a positive item with a schema-derived body. A
//	negative empty-body item is added when the operation takes a body and
//	a not-found item when the path carries a parameter. Dependencies are
//	inferred from the paths.
//
// Outputs:
//
//	*testgen.TestPlan - Plan with BestEffort set.
func BestEffortPlan(title, baseURL string, ops []spec.Operation) *testgen.TestPlan {
	plan := &testgen.TestPlan{
		Title:      title,
		BaseURL:    baseURL,
		BestEffort: true,
		Reasoning:  "Derived from the API description without a generated plan.",
	}
	for i := range ops {
		plan.Items = append(plan.Items, itemsFor(&ops[i])...)
	}
	plan.Dependencies = InferDependencies(ops)
	return plan
}

func itemsFor(op *spec.Operation) []testgen.PlanItem {
	method := strings.ToUpper(op.Method)
	hasBody := op.RequestBody != nil
	desc := op.Summary
	if desc == "" {
		desc = op.Key()
	}

	positive := testgen.PlanItem{
		OperationID:        op.ID(),
		Method:             method,
		Path:               op.Path,
		Description:        desc + " succeeds with valid input",
		Category:           testgen.CategoryPositive,
		ExpectedStatusCode: op.SuccessStatus(),
		Priority:           1,
		RequiresBody:       hasBody,
		Assertions:         []string{fmt.Sprintf("status code is %d", op.SuccessStatus())},
	}
	if hasBody {
		if body, err := json.Marshal(ExampleFor("", op.RequestBody)); err == nil {
			positive.SuggestedBody = body
		}
	}
	items := []testgen.PlanItem{positive}

	if hasBody {
		items = append(items, testgen.PlanItem{
			OperationID:        op.ID(),
			Method:             method,
			Path:               op.Path,
			Description:        desc + " rejects an empty body",
			Category:           testgen.CategoryNegative,
			ExpectedStatusCode: 400,
			Priority:           2,
			RequiresBody:       true,
			SuggestedBody:      json.RawMessage(`{}`),
			Assertions:         []string{"status code is 4xx"},
		})
	}
	if strings.Contains(op.Path, "{") {
		items = append(items, testgen.PlanItem{
			OperationID:        op.ID(),
			Method:             method,
			Path:               op.Path,
			Description:        desc + " returns not found for an unknown id",
			Category:           testgen.CategoryEdgeCase,
			ExpectedStatusCode: 404,
			Priority:           3,
			RequiresBody:       hasBody,
			Assertions:         []string{"status code is 4xx"},
		})
	}
	return items
}

// InferDependencies links each create operation to the operations on the
// item path below it, e.g. POST /things to GET /things/{id}.
func InferDependencies(ops []spec.Operation) []testgen.OperationDependency {
	var deps []testgen.OperationDependency
	for i := range ops {
		src := &ops[i]
		if !strings.EqualFold(src.Method, "POST") {
			continue
		}
		collection := strings.TrimSuffix(src.Path, "/")
		for j := range ops {
			dst := &ops[j]
			if i == j {
				continue
			}
			rest, ok := strings.CutPrefix(dst.Path, collection+"/")
			if !ok || !strings.HasPrefix(rest, "{") {
				continue
			}
			param := strings.TrimSuffix(strings.TrimPrefix(strings.SplitN(rest, "/", 2)[0], "{"), "}")
			deps = append(deps, testgen.OperationDependency{
				SourceOperation: src.ID(),
				TargetOperation: dst.ID(),
				DataFlow:        fmt.Sprintf("id from the %s response is used as path parameter %q", src.ID(), param),
			})
		}
	}
	return deps
}

// mergeDependencies appends inferred edges the plan does not already carry.
func mergeDependencies(have, inferred []testgen.OperationDependency) []testgen.OperationDependency {
	seen := make(map[string]bool, len(have))
	out := make([]testgen.OperationDependency, 0, len(have)+len(inferred))
	for _, d := range slices.Concat(have, inferred) {
		if d.SourceOperation == "" || d.TargetOperation == "" {
			continue
		}
		k := d.SourceOperation + "->" + d.TargetOperation
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}
