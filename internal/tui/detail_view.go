package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lintreports/internal/lint"
	"github.com/kingrea/lintreports/internal/report"
)

var (
	labelStyleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	sectionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// finding is one line about an agent, drawn from any section of the result.
type finding struct {
	severity string
	text     string
}

type detailView struct {
	report   *report.AgentReport
	findings []finding
	viewport viewport.Model
}

func newDetailView(r *report.AgentReport, findings []finding, width, height int) *detailView {
	vp := viewport.New(width, height)
	v := &detailView{report: r, findings: findings, viewport: vp}
	v.viewport.SetContent(v.content())
	return v
}

func (v *detailView) setSize(width, height int) {
	v.viewport.Width = width
	v.viewport.Height = height
}

func (v *detailView) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return cmd
}

func (v *detailView) View() string {
	return v.viewport.View()
}

func (v *detailView) content() string {
	r := v.report
	var b strings.Builder
	b.WriteString(sectionStyle.Render(r.AgentID))
	b.WriteString("\n")
	field := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "%s %s\n", detailTextStyle.Render(name+":"), value)
	}
	field("File", r.Path)
	field("ID source", string(r.IDSource))
	position := "-"
	if r.HasPosition() {
		position = fmt.Sprintf("%d", r.Position)
		if r.DeclaredTotal > 0 {
			position = fmt.Sprintf("%d of %d", r.Position, r.DeclaredTotal)
		}
	}
	field("Position", position)
	field("Status", r.Status)
	field("Domain", r.Domain)
	field("Previous", strings.Join(r.PreviousAgents, ", "))
	field("Next", strings.Join(r.NextAgents, ", "))

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Memory keys (%d)", len(r.MemoryKeys))))
	b.WriteString("\n")
	for _, mk := range r.MemoryKeys {
		fmt.Fprintf(&b, "  %s %s\n", mk.Key, detailTextStyle.Render(mk.Description))
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Findings (%d)", len(r.Warnings)+len(v.findings))))
	b.WriteString("\n")
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  %s %s: %s\n", severityLabel("warning"), w.Code, w.Message)
	}
	for _, f := range v.findings {
		fmt.Fprintf(&b, "  %s %s\n", severityLabel(f.severity), f.text)
	}

	if body := strings.TrimSpace(string(r.Body)); body != "" {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Body"))
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func severityLabel(severity string) string {
	switch severity {
	case "error":
		return labelStyleError.Render(severity)
	case "warning":
		return labelStyleWarning.Render(severity)
	case "info":
		return labelStyleInfo.Render(severity)
	}
	return labelStyleDefault.Render(severity)
}

// indexFindings files every result entry under each agent it concerns.
func indexFindings(res *lint.Result) map[string][]finding {
	out := map[string][]finding{}
	add := func(agent, severity, format string, args ...any) {
		out[agent] = append(out[agent], finding{severity: severity, text: fmt.Sprintf(format, args...)})
	}
	for _, c := range res.Cycles {
		for _, id := range c.Members {
			add(id, "error", "hand-off cycle: %s", strings.Join(c.Members, " -> "))
		}
	}
	for _, f := range res.RuleFindings {
		add(f.AgentID, string(f.Severity), "%s: %s", f.RuleID, f.Message)
	}
	for _, v := range res.OrderingViolations {
		msg := "%s (#%d) hands off to %s (#%d)"
		add(v.From, "warning", msg, v.From, v.FromPosition, v.To, v.ToPosition)
		add(v.To, "warning", msg, v.From, v.FromPosition, v.To, v.ToPosition)
	}
	for _, d := range res.DuplicatePositions {
		for _, id := range d.Agents {
			add(id, "warning", "position #%d shared with %s", d.Position, strings.Join(d.Agents, ", "))
		}
	}
	for _, m := range res.TotalMismatches {
		for _, id := range m.Agents {
			add(id, "warning", "declares a pipeline of %d agents; other reports disagree", m.DeclaredTotal)
		}
	}
	for _, v := range res.NamespaceViolations {
		add(v.AgentID, "warning", "memory key %s: %s", v.Key, v.Reason)
	}
	for _, c := range res.KeyConflicts {
		for _, d := range c.Declarations {
			add(d.AgentID, "warning", "memory key %s is described differently elsewhere (similarity %.3f)", c.Key, c.Similarity)
		}
	}
	for _, d := range res.DanglingReferences {
		add(d.From, "info", "%s agent %q not found", d.Direction, d.To)
	}
	for id := range out {
		sort.SliceStable(out[id], func(i, j int) bool {
			return severityRank(out[id][i].severity) < severityRank(out[id][j].severity)
		})
	}
	return out
}

func severityRank(severity string) int {
	switch severity {
	case "error":
		return 0
	case "warning":
		return 1
	}
	return 2
}
