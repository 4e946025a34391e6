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
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// Group is the plan items that share a first path segment.
type Group struct {
	// Segment is the first path segment, e.g. "users" for /users/{id}.
	Segment string

	// Class is the test class requested for the group, e.g. UsersTest.
	Class string

	Items []testgen.PlanItem
}

// GroupItems buckets plan items by first path segment, preserving the
// order in which segments first appear.
func GroupItems(items []testgen.PlanItem) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, it := range items {
		seg := firstSegment(it.Path)
		i, ok := index[seg]
		if !ok {
			i = len(groups)
			index[seg] = i
			groups = append(groups, Group{Segment: seg, Class: ClassFor(seg)})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

func firstSegment(p string) string {
	for _, s := range strings.Split(p, "/") {
		if s != "" && !strings.HasPrefix(s, "{") {
			return s
		}
	}
	return "root"
}

// ClassFor converts a path segment into a test class name:
// "order-items" becomes "OrderItemsTest".
func ClassFor(segment string) string {
	var b strings.Builder
	upper := true
	for _, r := range segment {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteString("Api")
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		b.WriteString("Root")
	}
	return b.String() + "Test"
}
