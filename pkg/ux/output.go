// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders selfheal command line output.
//
// Output is styled with lipgloss when writing to a terminal and falls back
// to plain "LEVEL: message" lines otherwise, so piped output stays greppable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes styled or plain output.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	out   io.Writer
	plain bool
}

// NewPrinter creates a Printer. Styling is enabled only when out is a
// terminal and NO_COLOR is unset.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, plain: !IsTerminal(out) || os.Getenv("NO_COLOR") != ""}
}

// NewPlainPrinter creates a Printer that never styles output.
func NewPlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out, plain: true}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.plain {
		fmt.Fprintf(p.out, "== %s ==\n", text)
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success line
func (p *Printer) Success(text string) {
	p.line("OK", IconSuccess, Styles.Success, text)
}

// Warning prints a warning line
func (p *Printer) Warning(text string) {
	p.line("WARN", IconWarning, Styles.Warning, text)
}

// Error prints an error line
func (p *Printer) Error(text string) {
	p.line("ERROR", IconError, Styles.Error, text)
}

// Info prints an informational line
func (p *Printer) Info(text string) {
	p.line("INFO", IconArrow, Styles.Subtitle, text)
}

// Muted prints de-emphasized text
func (p *Printer) Muted(text string) {
	if p.plain {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintln(p.out, Styles.Muted.Render(text))
}

// KeyValue prints an aligned "key: value" pair.
func (p *Printer) KeyValue(key, value string) {
	label := fmt.Sprintf("%-12s", key+":")
	if p.plain {
		fmt.Fprintf(p.out, "%s %s\n", label, value)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render(label), value)
}

// Box prints content in a bordered box
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, title, content)
}

// ErrorBox prints content in a red bordered box
func (p *Printer) ErrorBox(title, content string) {
	p.box(Styles.ErrorBox, title, content)
}

func (p *Printer) box(style lipgloss.Style, title, content string) {
	if p.plain {
		fmt.Fprintf(p.out, "-- %s --\n%s\n", title, strings.TrimRight(content, "\n"))
		return
	}
	body := Styles.Bold.Render(title) + "\n" + content
	fmt.Fprintln(p.out, style.Render(body))
}

func (p *Printer) icon(i Icon) string {
	if p.plain {
		return string(i)
	}
	return i.Render()
}

func (p *Printer) line(level string, icon Icon, style lipgloss.Style, text string) {
	if p.plain {
		fmt.Fprintf(p.out, "%s: %s\n", level, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", icon.Render(), style.Render(text))
}

// ProgressBar renders a fixed-width progress bar.
func ProgressBar(current, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	if current > total {
		current = total
	}
	filled := current * width / total
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
