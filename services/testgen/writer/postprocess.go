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
	"regexp"
	"strings"
)

// PostProcess patches common generation defects in a Java test source.
//
// Description:
//
//	Applied to every generated or repaired source before it is persisted.
//	The steps run in a fixed order:
//	  1. Strip enclosing code fences and any prose around them.
//	  2. Qualify OrderAnnotation used without MethodOrderer.
//	  3. Strip baseUri(...) overrides; BaseTest carries the base URI.
//	  4. Collapse string literals broken across lines into one line.
//	  5. Inject imports for known symbols unless already imported,
//	     directly or through a wildcard.
//	Normalization runs before import injection so that a symbol it
//	introduces is imported in the same pass.
//
// Outputs:
//
//	string - The processed source, ending in one newline.
//
// Thread Safety: Safe for concurrent use. PostProcess is idempotent:
// PostProcess(PostProcess(s)) == PostProcess(s).
func PostProcess(src string) string {
	s := strings.ReplaceAll(src, "\r\n", "\n")
	s = stripFences(s)
	s = normalizeOrderAnnotation(s)
	s = stripBaseURI(s)
	s = collapseBrokenLiterals(s)
	s = injectImports(s)
	return strings.TrimRight(s, " \t\n") + "\n"
}

// =============================================================================
// FENCES
// =============================================================================

// fenceLine matches a line holding only a fence marker, with an optional
// info string on the opening one.
var fenceLine = regexp.MustCompile("^[ \t]*```[\\w+#.-]*[ \t]*$")

// stripFences returns the body of the first fenced block. Sources without
// a marker line are returned unchanged apart from trimming.
func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	open := -1
	for i, line := range lines {
		if fenceLine.MatchString(line) {
			open = i
			break
		}
	}
	if open < 0 {
		return strings.TrimSpace(s)
	}
	end := len(lines)
	for j := open + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == "```" {
			end = j
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[open+1:end], "\n"))
}

// =============================================================================
// ORDER ANNOTATION
// =============================================================================

var bareOrderAnnotation = regexp.MustCompile(`@TestMethodOrder\(\s*OrderAnnotation\.class\s*\)`)

func normalizeOrderAnnotation(s string) string {
	return bareOrderAnnotation.ReplaceAllString(s, "@TestMethodOrder(MethodOrderer.OrderAnnotation.class)")
}

// =============================================================================
// BASE URI
// =============================================================================

const callArg = `(?:[^()\n]|\([^()\n]*\))*`

var (
	baseURILine     = regexp.MustCompile(`(?m)^[ \t]*\.baseUri\(` + callArg + `\)[ \t]*\n`)
	baseURIInline   = regexp.MustCompile(`\.baseUri\(` + callArg + `\)`)
	baseURIAssignLn = regexp.MustCompile(`(?m)^[ \t]*RestAssured\.baseURI\s*=[^;\n]*;[ \t]*\n`)
)

func stripBaseURI(s string) string {
	s = baseURILine.ReplaceAllString(s, "")
	s = baseURIInline.ReplaceAllString(s, "")
	return baseURIAssignLn.ReplaceAllString(s, "")
}

// =============================================================================
// BROKEN LITERALS
// =============================================================================

// maxLiteralLines bounds the forward scan for a literal's closing line.
const maxLiteralLines = 40

// collapseBrokenLiterals joins a string argument that was split across
// lines, e.g.
//
//	.body("{
//	    "name": "x"
//	}")
//
// into .body("{ \"name\": \"x\" }").
func collapseBrokenLiterals(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inTextBlock := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.Count(line, `"""`)%2 == 1 {
			inTextBlock = !inTextBlock
			out = append(out, line)
			continue
		}
		if inTextBlock || strings.Contains(line, `"""`) {
			out = append(out, line)
			continue
		}

		open := unterminatedArg(line)
		if open < 0 {
			out = append(out, line)
			continue
		}
		end, q := -1, -1
		for j := i + 1; j < len(lines) && j <= i+maxLiteralLines; j++ {
			if q = closingQuote(lines[j]); q >= 0 {
				end = j
				break
			}
		}
		if end < 0 {
			out = append(out, line)
			continue
		}

		var parts []string
		if head := strings.TrimSpace(line[open+1:]); head != "" {
			parts = append(parts, escapeQuotes(head))
		}
		for j := i + 1; j < end; j++ {
			if p := strings.TrimSpace(lines[j]); p != "" {
				parts = append(parts, escapeQuotes(p))
			}
		}
		if tail := strings.TrimSpace(lines[end][:q]); tail != "" {
			parts = append(parts, escapeQuotes(tail))
		}
		out = append(out, line[:open+1]+strings.Join(parts, " ")+lines[end][q:])
		i = end
	}
	return strings.Join(out, "\n")
}

// unterminatedArg returns the index of the opening quote of a string
// argument left open at the end of the line, or -1.
func unterminatedArg(line string) int {
	inString := false
	open := -1
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString && c == '\\':
			i++
		case inString && c == '"':
			inString = false
		case inString:
		case c == '\'':
			// Skip char literals such as '"' and '\"'.
			if end := strings.IndexByte(line[i+1:], '\''); end >= 0 && end <= 2 {
				i += end + 1
			}
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return -1
		case c == '"':
			inString = true
			open = i
		}
	}
	if !inString {
		return -1
	}
	prev := strings.TrimRight(line[:open], " \t")
	if prev == "" {
		return -1
	}
	switch prev[len(prev)-1] {
	case '(', ',', '+':
		return open
	}
	return -1
}

// closingQuote returns the index of the first unescaped quote that ends
// the call argument, or -1.
func closingQuote(line string) int {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			if closesCall(line[i+1:]) {
				return i
			}
		}
	}
	return -1
}

// closesCall reports whether rest, read as the code after a string
// argument, reaches the call's closing parenthesis at the same depth.
// Only ')' or ',' may follow the quote.
func closesCall(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" || (rest[0] != ')' && rest[0] != ',') {
		return false
	}
	depth := 0
	inString := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case inString && c == '\\':
			i++
		case inString && c == '"':
			inString = false
		case inString:
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				return true
			}
			depth--
		}
	}
	return false
}

func escapeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if c == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// =============================================================================
// IMPORTS
// =============================================================================

type importRule struct {
	usage *regexp.Regexp

	// name is the fully qualified type, or type.member for static imports.
	name   string
	static bool

	// alsoCoveredBy lists static wildcard owners that also export the member.
	alsoCoveredBy []string
}

func typeRule(pattern, name string) importRule {
	return importRule{usage: regexp.MustCompile(`(?m)` + pattern), name: name}
}

func staticRule(member, owner string, alsoCoveredBy ...string) importRule {
	return importRule{
		usage:         regexp.MustCompile(`(?m)(?:^|[^.\w])` + member + `\(`),
		name:          owner + "." + member,
		static:        true,
		alsoCoveredBy: alsoCoveredBy,
	}
}

const (
	hamcrestMatchers = "org.hamcrest.Matchers"
	hamcrestCore     = "org.hamcrest.CoreMatchers"
	junitAssertions  = "org.junit.jupiter.api.Assertions"
)

var importRules = []importRule{
	typeRule(`@Test\b`, "org.junit.jupiter.api.Test"),
	typeRule(`@Order\(`, "org.junit.jupiter.api.Order"),
	typeRule(`@TestMethodOrder\b`, "org.junit.jupiter.api.TestMethodOrder"),
	typeRule(`\bMethodOrderer\.`, "org.junit.jupiter.api.MethodOrderer"),
	typeRule(`@BeforeAll\b`, "org.junit.jupiter.api.BeforeAll"),
	typeRule(`@BeforeEach\b`, "org.junit.jupiter.api.BeforeEach"),
	typeRule(`@DisplayName\b`, "org.junit.jupiter.api.DisplayName"),
	typeRule(`(?:^|[^.\w])Assumptions\.`, "org.junit.jupiter.api.Assumptions"),
	typeRule(`(?:^|[^.\w"])Response\s+\w+\s*[=;]`, "io.restassured.response.Response"),
	typeRule(`(?:^|[^.\w])ContentType\.`, "io.restassured.http.ContentType"),
	typeRule(`(?:^|[^.\w])Map<`, "java.util.Map"),
	typeRule(`(?:^|[^.\w])HashMap<`, "java.util.HashMap"),
	typeRule(`(?:^|[^.\w])List<`, "java.util.List"),
	staticRule("given", "io.restassured.RestAssured"),
	staticRule("anyOf", hamcrestMatchers, hamcrestCore),
	staticRule("is", hamcrestMatchers, hamcrestCore),
	staticRule("equalTo", hamcrestMatchers, hamcrestCore),
	staticRule("notNullValue", hamcrestMatchers, hamcrestCore),
	staticRule("nullValue", hamcrestMatchers, hamcrestCore),
	staticRule("containsString", hamcrestMatchers, hamcrestCore),
	staticRule("hasItem", hamcrestMatchers, hamcrestCore),
	staticRule("not", hamcrestMatchers, hamcrestCore),
	staticRule("hasKey", hamcrestMatchers),
	staticRule("hasSize", hamcrestMatchers),
	staticRule("greaterThan", hamcrestMatchers),
	staticRule("greaterThanOrEqualTo", hamcrestMatchers),
	staticRule("lessThan", hamcrestMatchers),
	staticRule("oneOf", hamcrestMatchers),
	staticRule("assertEquals", junitAssertions),
	staticRule("assertTrue", junitAssertions),
	staticRule("assertNotNull", junitAssertions),
	staticRule("assumeTrue", "org.junit.jupiter.api.Assumptions"),
}

var importLine = regexp.MustCompile(`^import\s+(static\s+)?([\w.]+(?:\.\*)?)\s*;`)

type importSet struct {
	plain  map[string]bool
	static map[string]bool

	// staticMembers holds the simple names imported statically.
	staticMembers map[string]bool
}

func (s *importSet) covers(r importRule) bool {
	owner, member := splitLast(r.name)
	if !r.static {
		return s.plain[r.name] || s.plain[owner+".*"]
	}
	if s.static[r.name] || s.static[owner+".*"] || s.staticMembers[member] {
		return true
	}
	for _, alt := range r.alsoCoveredBy {
		if s.static[alt+".*"] {
			return true
		}
	}
	return false
}

func injectImports(s string) string {
	lines := strings.Split(s, "\n")
	have := importSet{plain: map[string]bool{}, static: map[string]bool{}, staticMembers: map[string]bool{}}
	lastImport, pkgLine := -1, -1
	var code strings.Builder

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := importLine.FindStringSubmatch(trimmed); m != nil {
			lastImport = i
			if m[1] != "" {
				have.static[m[2]] = true
				if _, member := splitLast(m[2]); member != "*" {
					have.staticMembers[member] = true
				}
			} else {
				have.plain[m[2]] = true
			}
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			pkgLine = i
			continue
		}
		code.WriteString(line)
		code.WriteByte('\n')
	}

	body := code.String()
	var plain, static []string
	for _, r := range importRules {
		if have.covers(r) || !r.usage.MatchString(body) {
			continue
		}
		if r.static {
			static = append(static, "import static "+r.name+";")
		} else {
			plain = append(plain, "import "+r.name+";")
		}
	}
	if len(plain)+len(static) == 0 {
		return s
	}

	block := append(plain, static...)
	switch {
	case lastImport >= 0:
		return joinAt(lines, lastImport+1, block)
	case pkgLine >= 0:
		return joinAt(lines, pkgLine+1, append([]string{""}, block...))
	default:
		return joinAt(lines, 0, append(block, ""))
	}
}

func joinAt(lines []string, at int, insert []string) string {
	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:at]...)
	out = append(out, insert...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n")
}

func splitLast(name string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
