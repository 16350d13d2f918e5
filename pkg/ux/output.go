// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders CLI output.
//
// A Printer writes either styled text for terminals or plain tab-separated
// lines suitable for scripts. The level is chosen once from the output
// file; it can be forced with ParseLevel.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorPrimary = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSlate   = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// StyleSet holds the styles used by a rich Printer.
type StyleSet struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
	Cell    lipgloss.Style
	Header  lipgloss.Style
}

// Styles is the default style set.
var Styles = StyleSet{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	Cell:   lipgloss.NewStyle().PaddingRight(2),
	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).PaddingRight(2),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Level selects rich or plain output.
type Level string

const (
	// LevelRich uses colors, icons and boxes.
	LevelRich Level = "rich"

	// LevelPlain writes tab-separated lines with no styling.
	LevelPlain Level = "plain"
)

// ParseLevel maps a flag value to a Level. Unknown values and "auto"
// return ok=false so the caller can fall back to DetectLevel.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "rich", "color":
		return LevelRich, true
	case "plain", "machine", "quiet":
		return LevelPlain, true
	default:
		return "", false
	}
}

// DetectLevel returns LevelRich when f is a terminal.
func DetectLevel(f *os.File) Level {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return LevelRich
	}
	return LevelPlain
}

// Printer writes CLI output at one Level.
type Printer struct {
	w     io.Writer
	level Level
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, level Level) *Printer {
	if level == "" {
		level = LevelPlain
	}
	return &Printer{w: w, level: level}
}

// Level returns the printer's level.
func (p *Printer) Level() Level { return p.level }

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if p.level == LevelPlain {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.line(IconSuccess, Styles.Success, "OK", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.line(IconWarning, Styles.Warning, "WARN", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.line(IconError, Styles.Error, "ERROR", text)
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.level == LevelPlain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints content under a title in a rounded box.
func (p *Printer) Box(title, content string) {
	if p.level == LevelPlain {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Table prints rows under header. Rich output aligns columns; plain
// output separates cells with tabs.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.level == LevelPlain {
		fmt.Fprintln(p.w, strings.Join(header, "\t"))
		for _, r := range rows {
			fmt.Fprintln(p.w, strings.Join(r, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = Styles.Header.Width(widths[i] + 2).Render(h)
	}
	fmt.Fprintln(p.w, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	for _, r := range rows {
		cells = cells[:0]
		for i, cell := range r {
			if i >= len(widths) {
				break
			}
			cells = append(cells, Styles.Cell.Width(widths[i]+2).Render(cell))
		}
		fmt.Fprintln(p.w, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
}

// Status prints a cohort status transition with a matching icon.
func (p *Printer) Status(cohort, status string) {
	if p.level == LevelPlain {
		fmt.Fprintf(p.w, "STATUS\t%s\t%s\n", cohort, status)
		return
	}
	icon, style := IconPending, Styles.Muted
	switch status {
	case "done":
		icon, style = IconSuccess, Styles.Success
	case "error":
		icon, style = IconError, Styles.Error
	}
	fmt.Fprintf(p.w, "%s %s %s\n", style.Render(string(icon)), Styles.Bold.Render(cohort), style.Render(status))
}

func (p *Printer) line(icon Icon, style lipgloss.Style, tag, text string) {
	if p.level == LevelPlain {
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}
