// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package writer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const systemPrompt = `You are an expert Java test engineer writing REST Assured tests with JUnit 5.
Respond with one complete Java source file and nothing else.`

// CodeStyleContract is the code-style contract shared by generation and
// repair prompts.
const CodeStyleContract = `Code style contract:
1. Imports: use
   import io.restassured.response.Response;
   import org.junit.jupiter.api.*;
   import static io.restassured.RestAssured.given;
   import static org.hamcrest.Matchers.*;
2. The class must extend BaseTest. BaseTest already configures the base URI,
   content type and logging. Never call baseUri(...) or set RestAssured.baseURI.
3. Annotate the class with @TestMethodOrder(MethodOrderer.OrderAnnotation.class)
   and give each test method @Test and @Order(n) following the plan priority.
4. Name test methods <operationId>_<scenario>, e.g. createUser_emptyBody.
5. Request bodies are single-line Java string literals or Map objects.
   Never split a string literal across lines.
6. Only positive tests may assert response body field values.
7. Negative and edge-case tests assert only the status code, using the widest
   acceptable disjunction, e.g. statusCode(anyOf(is(400), is(404), is(409), is(422))).
   The API's validation behavior is unknown and must not cause false failures.
8. Pass data between dependent tests through static fields, and use
   Assumptions.assumeTrue(...) when a prerequisite value is missing.`

type promptItem struct {
	OperationID        string          `json:"operationId"`
	Method             string          `json:"method"`
	Path               string          `json:"path"`
	Description        string          `json:"description"`
	Category           string          `json:"category"`
	ExpectedStatusCode int             `json:"expectedStatusCode"`
	Priority           int             `json:"priority"`
	Prerequisites      []string        `json:"prerequisites,omitempty"`
	Assertions         []string        `json:"assertions,omitempty"`
	SuggestedBody      json.RawMessage `json:"suggestedBody,omitempty"`
}

// buildPrompt renders the generation prompt for one group.
func buildPrompt(namespace string, g Group, deps []testgen.OperationDependency) string {
	items := make([]promptItem, 0, len(g.Items))
	ops := make(map[string]bool, len(g.Items))
	for _, it := range g.Items {
		ops[it.OperationID] = true
		items = append(items, promptItem{
			OperationID:        it.OperationID,
			Method:             it.Method,
			Path:               it.Path,
			Description:        it.Description,
			Category:           string(it.Category),
			ExpectedStatusCode: it.ExpectedStatusCode,
			Priority:           it.Priority,
			Prerequisites:      it.Prerequisites,
			Assertions:         it.Assertions,
			SuggestedBody:      it.SuggestedBody,
		})
	}
	itemsJSON, _ := json.MarshalIndent(items, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Write the test class %s in package %s.\n\n", g.Class, namespace)
	b.WriteString(CodeStyleContract)
	b.WriteString("\n\nPlanned scenarios:\n")
	b.Write(itemsJSON)

	var related []string
	for _, d := range deps {
		if ops[d.SourceOperation] || ops[d.TargetOperation] {
			related = append(related, fmt.Sprintf("- %s -> %s: %s", d.SourceOperation, d.TargetOperation, d.DataFlow))
		}
	}
	if len(related) > 0 {
		b.WriteString("\n\nDependencies:\n")
		b.WriteString(strings.Join(related, "\n"))
	}
	return b.String()
}
