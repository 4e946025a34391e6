// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package javasrc extracts structure from generated Java test sources.
//
// Parsing uses tree-sitter so that malformed sources still yield the
// declarations that are intact. Only the shapes the pipeline needs are
// extracted: the public class name, method names, and the HTTP status
// codes each method asserts.
package javasrc

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// maxDepth bounds recursion on pathological trees.
const maxDepth = 500

// Method is one method declaration and the status codes it asserts.
type Method struct {
	Name     string
	Class    string
	Line     int
	Statuses []int
}

// File is the extracted structure of one source file.
type File struct {
	Package string
	Class   string
	Methods []Method

	// HasErrors is set when tree-sitter recovered from syntax errors.
	HasErrors bool
}

// Method returns the first method with the given name.
func (f *File) Method(name string) (Method, bool) {
	for _, m := range f.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Parse extracts the structure of a Java source file.
//
// Description:
//
//	Walks the syntax tree for the package, the top-level class (public
//	preferred) and every method declaration, including those of nested
//	classes. For each method the status codes from statusCode(...) calls
//	and from assertions that mention a status code are collected in
//	source order.
//
// Inputs:
//
//	ctx - Context for cancellation of the parse
//	src - Java source
//
// Outputs:
//
//	*File - Extracted structure. Never nil on success.
//	error - Non-nil only if parsing was canceled.
func Parse(ctx context.Context, src string) (*File, error) {
	content := []byte(src)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	f := &File{HasErrors: root.HasError()}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			f.Package = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(child.Content(content), "package"), ";"))
		case "class_declaration":
			name := fieldContent(child, "name", content)
			if f.Class == "" || isPublic(child, content) {
				f.Class = name
			}
		}
	}

	collectMethods(root, content, "", &f.Methods, 0)
	return f, nil
}

func collectMethods(node *sitter.Node, content []byte, class string, out *[]Method, depth int) {
	if node == nil || depth > maxDepth {
		return
	}
	switch node.Type() {
	case "class_declaration":
		class = fieldContent(node, "name", content)
	case "method_declaration":
		m := Method{
			Name:  fieldContent(node, "name", content),
			Class: class,
			Line:  int(node.StartPoint().Row) + 1,
		}
		if body := node.ChildByFieldName("body"); body != nil {
			collectStatuses(body, content, &m.Statuses, 0)
		}
		*out = append(*out, m)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectMethods(node.NamedChild(i), content, class, out, depth+1)
	}
}

// statusAssertions are assertion helpers whose arguments carry a status
// code when they mention one.
var statusAssertions = map[string]bool{
	"assertEquals": true,
	"assertThat":   true,
	"assertTrue":   true,
}

func collectStatuses(node *sitter.Node, content []byte, out *[]int, depth int) {
	if node == nil || depth > maxDepth {
		return
	}
	if node.Type() == "method_invocation" {
		name := fieldContent(node, "name", content)
		args := node.ChildByFieldName("arguments")
		switch {
		case name == "statusCode":
			collectIntegers(args, content, out, 0)
			return
		case statusAssertions[name] && mentionsStatus(args, content):
			collectIntegers(args, content, out, 0)
			return
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectStatuses(node.NamedChild(i), content, out, depth+1)
	}
}

func collectIntegers(node *sitter.Node, content []byte, out *[]int, depth int) {
	if node == nil || depth > maxDepth {
		return
	}
	if node.Type() == "decimal_integer_literal" {
		if n, err := strconv.Atoi(node.Content(content)); err == nil && n >= 100 && n <= 599 {
			*out = append(*out, n)
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectIntegers(node.NamedChild(i), content, out, depth+1)
	}
}

func mentionsStatus(node *sitter.Node, content []byte) bool {
	if node == nil {
		return false
	}
	text := strings.ToLower(node.Content(content))
	return strings.Contains(text, "statuscode") || strings.Contains(text, "getstatus")
}

func fieldContent(node *sitter.Node, field string, content []byte) string {
	if n := node.ChildByFieldName(field); n != nil {
		return n.Content(content)
	}
	return ""
}

func isPublic(node *sitter.Node, content []byte) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "modifiers" {
			return strings.Contains(child.Content(content), "public")
		}
	}
	return false
}

// =============================================================================
// NAMING
// =============================================================================

var negativeName = regexp.MustCompile(`(?i)(negative|invalid|missing|empty|blank|malformed|bad|wrong|unauthori[sz]ed|forbidden|not_?found|nonexist|unknown|reject|without|exceed|too_?(long|short|large|many|big)|overflow|boundary|edge|null|duplicate|conflict)`)

// IsNegativeName reports whether a test method name follows the
// negative or edge-case naming convention, e.g. createThing_emptyBody.
func IsNegativeName(name string) bool {
	return negativeName.MatchString(name)
}

var classDecl = regexp.MustCompile(`(?m)^\s*(?:public\s+)?(?:final\s+|abstract\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// ClassName returns the top-level class name of src, or "" if none.
//
// Falls back to a declaration scan when the parse yields no class.
func ClassName(ctx context.Context, src string) string {
	if f, err := Parse(ctx, src); err == nil && f.Class != "" {
		return f.Class
	}
	if m := classDecl.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return ""
}
