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

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/spec"
)

const systemPrompt = `You are a senior QA engineer designing REST API test plans.
Respond with a single JSON object and nothing else. No markdown, no prose.`

const planContract = `Return JSON with exactly this shape:
{
  "title": string,
  "baseUrl": string,
  "items": [{
    "operationId": string,
    "method": string,
    "path": string,
    "description": string,
    "category": "positive" | "negative" | "edge-case" | "destructive",
    "expectedStatusCode": number,
    "priority": number (1 = highest),
    "prerequisites": [operationId],
    "assertions": [string],
    "requiresBody": boolean,
    "suggestedBody": object | null
  }],
  "dependencies": [{"sourceOperation": operationId, "targetOperation": operationId, "dataFlow": string}],
  "reasoning": string
}

Rules:
- Cover every operation listed below at least once with a positive item.
- Add negative and edge-case items where input validation applies.
- suggestedBody values must be realistic and match the schema types and formats.
  Do not use placeholder literals such as "string" or 0.
- Add a dependency wherever one operation's response feeds another's request,
  for example a create operation supplying the id for a read-by-id operation.
- Use only the operationId values listed below.`

// buildPrompt renders the planning prompt for the selected operations.
func buildPrompt(title, baseURL string, ops []spec.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "API: %s\nBase URL: %s\n\n", title, baseURL)
	b.WriteString(planContract)
	b.WriteString("\n\nOperations:\n")
	for i := range ops {
		writeOperation(&b, &ops[i])
	}
	return b.String()
}

func writeOperation(b *strings.Builder, op *spec.Operation) {
	fmt.Fprintf(b, "- operationId: %s\n  %s %s\n", op.ID(), strings.ToUpper(op.Method), op.Path)
	if op.Summary != "" {
		fmt.Fprintf(b, "  summary: %s\n", op.Summary)
	}
	if len(op.Tags) > 0 {
		fmt.Fprintf(b, "  tags: %s\n", strings.Join(op.Tags, ", "))
	}
	for _, p := range op.Parameters {
		req := ""
		if p.Required {
			req = " required"
		}
		fmt.Fprintf(b, "  param %s (%s%s): %s\n", p.Name, p.In, req, describeSchema(p.Schema, 0))
	}
	if op.RequestBody != nil {
		fmt.Fprintf(b, "  body: %s\n", describeSchema(op.RequestBody, 0))
	}
	codes := make([]string, 0, len(op.Responses))
	for code := range op.Responses {
		codes = append(codes, code)
	}
	if len(codes) > 0 {
		sort.Strings(codes)
		fmt.Fprintf(b, "  responses: %s\n", strings.Join(codes, ", "))
	}
}
