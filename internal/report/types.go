// Package report defines the AgentReport shape shared by every research
// pipeline document and the parser that recovers it from loose Markdown.
package report

import "strings"

// StatusComplete is the only status value the pipeline convention defines.
const StatusComplete = "Complete"

// DefaultMaxPosition is the largest workflow position any report has claimed.
const DefaultMaxPosition = 46

// IDSource records where an agent identifier was recovered from.
type IDSource string

const (
	IDSourceFrontMatter IDSource = "frontmatter"
	IDSourceHeader      IDSource = "header"
	IDSourceFilename    IDSource = "filename"
)

// WarningCode classifies recoverable deviations from the report convention.
type WarningCode string

const (
	WarnMissingAgentID       WarningCode = "missing-agent-id"
	WarnMissingPosition      WarningCode = "missing-position"
	WarnInvalidPosition      WarningCode = "invalid-position"
	WarnMissingPrevious      WarningCode = "missing-previous-agents"
	WarnMissingNext          WarningCode = "missing-next-agents"
	WarnMissingStatus        WarningCode = "missing-status"
	WarnUnknownStatus        WarningCode = "unknown-status"
	WarnMissingMemoryKeys    WarningCode = "missing-memory-keys"
	WarnDuplicateMemoryKey   WarningCode = "duplicate-memory-key"
	WarnMalformedFrontMatter WarningCode = "malformed-frontmatter"
	WarnDuplicateAgentID     WarningCode = "duplicate-agent-id"
)

// Warning is a ParseWarning: the document is usable but deviates from the
// convention.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
	Line    int         `json:"line,omitempty"`
}

// MemoryKey is one entry of a report's "Memory Keys Created" footer.
type MemoryKey struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Line        int    `json:"line,omitempty"`
}

// AgentReport is the hand-off record recovered from one pipeline document.
type AgentReport struct {
	Path           string      `json:"path"`
	AgentID        string      `json:"agentId"`
	Slug           string      `json:"slug"`
	IDSource       IDSource    `json:"idSource"`
	Position       int         `json:"position,omitempty"`
	DeclaredTotal  int         `json:"declaredTotal,omitempty"`
	PreviousAgents []string    `json:"previousAgents"`
	NextAgents     []string    `json:"nextAgents"`
	Status         string      `json:"status,omitempty"`
	Domain         string      `json:"domain,omitempty"`
	MemoryKeys     []MemoryKey `json:"memoryKeys"`
	Warnings       []Warning   `json:"warnings,omitempty"`
	Body           []byte      `json:"-"`
}

// HasPosition reports whether a usable workflow position was recovered.
func (r *AgentReport) HasPosition() bool {
	return r != nil && r.Position > 0
}

// Aliases returns every identifier other reports may use to refer to r.
func (r *AgentReport) Aliases() []string {
	if r == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	add(r.AgentID)
	add(r.Slug)
	stem := NormalizeRef(fileStem(r.Path))
	add(stem)
	add(StripOrdinal(stem))
	return out
}

// Warn appends a warning to the report.
func (r *AgentReport) Warn(code WarningCode, line int, message string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Line: line, Message: message})
}

// HasWarning reports whether a warning with the code was recorded.
func (r *AgentReport) HasWarning(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// MemoryKeyNames returns the memory keys in declaration order.
func (r *AgentReport) MemoryKeyNames() []string {
	out := make([]string, 0, len(r.MemoryKeys))
	for _, mk := range r.MemoryKeys {
		out = append(out, mk.Key)
	}
	return out
}
