// Package rules loads project-specific lint rules from a directory. Rules are
// either declarative YAML files or Go scripts interpreted at runtime.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lintreports/internal/report"
)

// Severity ranks a rule finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity maps user input onto a Severity. Empty input means warning.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SeverityWarning, "warn":
		return SeverityWarning, nil
	case SeverityError:
		return SeverityError, nil
	case SeverityInfo:
		return SeverityInfo, nil
	}
	return "", fmt.Errorf("rules: unknown severity %q", raw)
}

// Finding is one rule complaint about one report.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	AgentID  string   `json:"agentId"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// Rule checks a single report.
type Rule interface {
	ID() string
	Severity() Severity
	Check(r *report.AgentReport) ([]string, error)
}

// Set is an ordered collection of loaded rules.
type Set struct {
	rules []Rule
}

// NewSet builds a set from rules, sorted by ID.
func NewSet(rules ...Rule) *Set {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	return &Set{rules: sorted}
}

// Len reports how many rules are loaded.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// IDs lists the loaded rule identifiers.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		ids = append(ids, r.ID())
	}
	return ids
}

// Apply runs every rule against every report. A rule that fails at runtime
// produces an error-severity finding instead of aborting the run.
func (s *Set) Apply(reports []*report.AgentReport) []Finding {
	out := []Finding{}
	if s == nil {
		return out
	}
	for _, r := range reports {
		for _, rule := range s.rules {
			messages, err := rule.Check(r)
			if err != nil {
				out = append(out, Finding{
					RuleID:   rule.ID(),
					Severity: SeverityError,
					AgentID:  r.AgentID,
					Path:     r.Path,
					Message:  fmt.Sprintf("rule failed: %v", err),
				})
				continue
			}
			for _, msg := range messages {
				msg = strings.TrimSpace(msg)
				if msg == "" {
					continue
				}
				out = append(out, Finding{
					RuleID:   rule.ID(),
					Severity: rule.Severity(),
					AgentID:  r.AgentID,
					Path:     r.Path,
					Message:  msg,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// reportMap exposes a report to interpreted rules using plain Go values.
func reportMap(r *report.AgentReport) map[string]any {
	descriptions := make(map[string]string, len(r.MemoryKeys))
	for _, mk := range r.MemoryKeys {
		descriptions[mk.Key] = mk.Description
	}
	warnings := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		warnings = append(warnings, string(w.Code))
	}
	return map[string]any{
		"path":                  r.Path,
		"agentId":               r.AgentID,
		"slug":                  r.Slug,
		"idSource":              string(r.IDSource),
		"position":              r.Position,
		"declaredTotal":         r.DeclaredTotal,
		"previousAgents":        append([]string{}, r.PreviousAgents...),
		"nextAgents":            append([]string{}, r.NextAgents...),
		"status":                r.Status,
		"domain":                r.Domain,
		"memoryKeys":            r.MemoryKeyNames(),
		"memoryKeyDescriptions": descriptions,
		"warnings":              warnings,
		"body":                  string(r.Body),
	}
}
