// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

// OutcomeIcon maps a run outcome to a status icon.
func OutcomeIcon(o testgen.Outcome) Icon {
	switch o {
	case testgen.OutcomePassed:
		return IconSuccess
	case testgen.OutcomeDegraded, testgen.OutcomeAPIBug, testgen.OutcomeNotExecuted:
		return IconWarning
	case testgen.OutcomeError:
		return IconError
	default:
		return IconPending
	}
}

// Progress is the one-line description of a run in flight.
func Progress(s *testgen.RunStatus) string {
	msg := fmt.Sprintf("%s: %s", s.RunID, s.Phase)
	if s.CurrentIteration > 0 {
		msg += fmt.Sprintf(" %s iteration %d/%d", IconBullet, s.CurrentIteration, s.MaxIterations)
	}
	if n := len(s.Log); n > 0 {
		msg += " " + string(IconArrow) + " " + s.Log[n-1].Message
	}
	return msg
}

// RenderRun prints the full status of a run.
func (p *Printer) RenderRun(s *testgen.RunStatus) {
	p.Title("Run " + s.RunID)
	p.KeyValue("spec", s.SpecID)
	p.KeyValue("phase", string(s.Phase))
	if s.Outcome != "" {
		p.KeyValue("outcome", p.icon(OutcomeIcon(s.Outcome))+" "+string(s.Outcome))
	}
	p.KeyValue("iterations", fmt.Sprintf("%d/%d", len(s.Iterations), s.MaxIterations))
	if s.SuitePath != "" {
		p.KeyValue("suite", s.SuitePath)
	}
	if len(s.ProviderIDs) > 0 {
		p.KeyValue("providers", strings.Join(s.ProviderIDs, ", "))
	}
	p.KeyValue("started", s.StartedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		p.KeyValue("duration", s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String())
	}

	for _, it := range s.Iterations {
		p.renderIteration(it)
	}

	if r := s.FinalResult; r != nil {
		p.KeyValue("tests", fmt.Sprintf("%d total, %d passed, %d failed, %d errors, %d skipped %s",
			r.Total, r.Passed, r.Failed, r.Errored, r.Skipped, ProgressBar(r.Passed, r.Total, 20)))
		if r.ReportURL != "" {
			p.KeyValue("report", r.ReportURL)
		} else if r.ReportPath != "" {
			p.KeyValue("report", r.ReportPath)
		}
	}
	if s.Error != "" {
		p.ErrorBox("Error", s.Error)
	}
}

func (p *Printer) renderIteration(it testgen.Iteration) {
	var b strings.Builder
	if e := it.Execution; e != nil {
		switch {
		case e.BuildFailed:
			b.WriteString("build failed")
		default:
			fmt.Fprintf(&b, "%d/%d passed", e.Passed, e.Total)
		}
	}
	if ref := it.Reflection; ref != nil {
		fmt.Fprintf(&b, ", source %s", ref.FailureSource)
		if len(ref.BenignFailures) > 0 {
			fmt.Fprintf(&b, ", %d validation gaps", len(ref.BenignFailures))
		}
	}
	if it.FixesApplied > 0 {
		fmt.Fprintf(&b, ", %d fixes", it.FixesApplied)
	}
	if len(it.RejectedFixes) > 0 {
		fmt.Fprintf(&b, ", %d rejected", len(it.RejectedFixes))
	}
	p.KeyValue(fmt.Sprintf("#%d", it.Number), b.String())
	for _, f := range it.AppliedFixes {
		p.Muted(fmt.Sprintf("    %s %s (+%d -%d)", IconBullet, f.Path, f.Insertions, f.Deletions))
	}
}

// RenderRunList prints one line per run.
func (p *Printer) RenderRunList(runs []*testgen.RunStatus) {
	if len(runs) == 0 {
		p.Muted("no runs")
		return
	}
	for _, s := range runs {
		outcome := string(s.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		line := fmt.Sprintf("%-36s %-12s %-12s %-24s %s",
			s.RunID, s.Phase, outcome, s.SpecID, s.StartedAt.Format(time.RFC3339))
		if p.plain {
			fmt.Fprintln(p.out, line)
			continue
		}
		fmt.Fprintf(p.out, "%s %s\n", p.icon(OutcomeIcon(s.Outcome)), line)
	}
}
