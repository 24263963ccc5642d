// Package render turns a lint result into text or JSON.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lintreports/internal/lint"
	"github.com/kingrea/lintreports/internal/report"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrUnknownFormat is returned for anything other than text or json.
var ErrUnknownFormat = errors.New("render: unknown format")

// Write renders res to w in the named format.
func Write(w io.Writer, format string, res *lint.Result) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return Text(w, res)
	case FormatJSON:
		return JSON(w, res)
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}

// JSON writes the result as an indented document.
func JSON(w io.Writer, res *lint.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("render: encode json: %w", err)
	}
	return nil
}

// palette holds styles bound to one output. A writer that is not a terminal
// gets plain text.
type palette struct {
	title   lipgloss.Style
	section lipgloss.Style
	agent   lipgloss.Style
	muted   lipgloss.Style
	errorS  lipgloss.Style
	warn    lipgloss.Style
	info    lipgloss.Style
	ok      lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		section: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC")),
		agent:   r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#888888")),
		errorS:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		warn:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801")),
		info:    r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
		ok:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50")),
	}
}

// Text writes a sectioned, human-readable summary.
func Text(w io.Writer, res *lint.Result) error {
	p := newPalette(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", p.title.Render("lintreports"), res.Dir)

	p.header(&b, "Reports", len(res.Reports))
	for _, r := range res.Reports {
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n", p.agent.Render(r.AgentID), positionLabel(r), statusLabel(r), p.muted.Render(r.Path))
		for _, warn := range r.Warnings {
			line := ""
			if warn.Line > 0 {
				line = fmt.Sprintf(" (line %d)", warn.Line)
			}
			fmt.Fprintf(&b, "    %s %s: %s%s\n", p.warn.Render("warning"), warn.Code, warn.Message, line)
		}
	}

	p.header(&b, "Input errors", len(res.InputErrors))
	for _, e := range res.InputErrors {
		fmt.Fprintf(&b, "  %s %s: %s\n", p.errorS.Render("error"), e.Path, e.Message)
	}

	p.header(&b, "Cycles", len(res.Cycles))
	for _, c := range res.Cycles {
		members := append(append([]string(nil), c.Members...), c.Members[0])
		fmt.Fprintf(&b, "  %s %s\n", p.errorS.Render("error"), strings.Join(members, " -> "))
	}

	p.header(&b, "Dangling references", len(res.DanglingReferences))
	for _, d := range res.DanglingReferences {
		extra := ""
		if len(d.Candidates) > 0 {
			extra = fmt.Sprintf(" (ambiguous: %s)", strings.Join(d.Candidates, ", "))
		}
		fmt.Fprintf(&b, "  %s %s -> %s [%s]%s\n", p.info.Render("info"), d.From, d.To, d.Direction, extra)
	}

	p.header(&b, "Ordering violations", len(res.OrderingViolations))
	for _, v := range res.OrderingViolations {
		fmt.Fprintf(&b, "  %s %s (#%d) hands off to %s (#%d)\n", p.warn.Render("warning"), v.From, v.FromPosition, v.To, v.ToPosition)
	}

	p.header(&b, "Duplicate positions", len(res.DuplicatePositions))
	for _, d := range res.DuplicatePositions {
		fmt.Fprintf(&b, "  %s #%d claimed by %s\n", p.warn.Render("warning"), d.Position, strings.Join(d.Agents, ", "))
	}

	p.header(&b, "Workflow totals", len(res.TotalMismatches))
	for _, m := range res.TotalMismatches {
		fmt.Fprintf(&b, "  %s of %d: %s\n", p.warn.Render("warning"), m.DeclaredTotal, strings.Join(m.Agents, ", "))
	}

	p.header(&b, "Namespace violations", len(res.NamespaceViolations))
	for _, v := range res.NamespaceViolations {
		fmt.Fprintf(&b, "  %s %s in %s: %s\n", p.warn.Render("warning"), v.Key, v.AgentID, v.Reason)
	}

	p.header(&b, "Memory key conflicts", len(res.KeyConflicts))
	for _, c := range res.KeyConflicts {
		fmt.Fprintf(&b, "  %s %s (similarity %.3f)\n", p.warn.Render("warning"), c.Key, c.Similarity)
		for _, d := range c.Declarations {
			fmt.Fprintf(&b, "    %s: %s\n", d.AgentID, d.Description)
		}
	}

	p.header(&b, "Rule findings", len(res.RuleFindings))
	for _, f := range res.RuleFindings {
		fmt.Fprintf(&b, "  %s %s %s: %s\n", p.severity(string(f.Severity)), f.RuleID, f.AgentID, f.Message)
	}

	if len(res.Order) > 0 {
		p.header(&b, "Pipeline order", len(res.Order))
		for i, id := range res.Order {
			fmt.Fprintf(&b, "  %2d. %s\n", i+1, id)
		}
	}

	s := res.Summary
	verdict := p.ok.Render("ok")
	switch {
	case s.Errors > 0:
		verdict = p.errorS.Render("failed")
	case s.Warnings > 0:
		verdict = p.warn.Render("warnings")
	}
	fmt.Fprintf(&b, "\n%s: %d reports, %d errors, %d warnings, %d info\n", verdict, s.Reports, s.Errors, s.Warnings, s.Info)

	_, err := io.WriteString(w, b.String())
	return err
}

func (p palette) header(b *strings.Builder, name string, count int) {
	fmt.Fprintf(b, "\n%s %s\n", p.section.Render(name), p.muted.Render(fmt.Sprintf("(%d)", count)))
}

func (p palette) severity(name string) string {
	switch name {
	case "error":
		return p.errorS.Render(name)
	case "warning":
		return p.warn.Render(name)
	}
	return p.info.Render(name)
}

func positionLabel(r *report.AgentReport) string {
	switch {
	case !r.HasPosition():
		return "#?"
	case r.DeclaredTotal > 0:
		return fmt.Sprintf("#%d/%d", r.Position, r.DeclaredTotal)
	}
	return fmt.Sprintf("#%d", r.Position)
}

func statusLabel(r *report.AgentReport) string {
	if r.Status == "" {
		return "-"
	}
	return r.Status
}
