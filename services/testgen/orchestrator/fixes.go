// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/writer"
)

// applyFixes post-processes and writes each fix. A fix that fails to write
// is logged on the run and skipped.
func (o *Orchestrator) applyFixes(r *run, fixes []testgen.Fix) []testgen.AppliedFix {
	applied := make([]testgen.AppliedFix, 0, len(fixes))
	for _, fix := range fixes {
		content := writer.Normalize(fix.NewContent, r.cfg.Namespace)
		previous, err := r.files.WriteFile(fix.FilePath, content)
		if err != nil {
			o.logger.Warn("Skipping fix that failed to write",
				slog.String("run_id", r.id),
				slog.String("path", fix.FilePath),
				slog.String("error", err.Error()),
			)
			o.event(r, fmt.Sprintf("skipped fix for %s: %v", fix.FilePath, err))
			continue
		}
		if !r.suite.SetContent(fix.FilePath, content) {
			r.suite.Files = append(r.suite.Files, testgen.GeneratedFile{Path: fix.FilePath, Content: content})
		}

		ins, del := lineDiffStat(previous, content)
		applied = append(applied, testgen.AppliedFix{Path: fix.FilePath, Insertions: ins, Deletions: del})
		o.event(r, fmt.Sprintf("applied fix to %s (+%d -%d)", fix.FilePath, ins, del))
	}
	return applied
}

// lineDiffStat counts inserted and deleted lines between two texts.
func lineDiffStat(before, after string) (insertions, deletions int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			insertions += n
		case diffmatchpatch.DiffDelete:
			deletions += n
		}
	}
	return insertions, deletions
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
