package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lintreports/internal/report"
)

// Definition is the declarative form of a rule.
//
//	id: require-domain
//	description: every report names its domain
//	severity: error
//	require: [domain, memoryKeys]
//	status_in: [Complete]
//	max_position: 43
//	key_prefix: research/
type Definition struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Severity    string   `yaml:"severity"`
	Require     []string `yaml:"require"`
	StatusIn    []string `yaml:"status_in"`
	MaxPosition int      `yaml:"max_position"`
	KeyPrefix   string   `yaml:"key_prefix"`
}

// requirable maps field names accepted by `require` to a presence check.
var requirable = map[string]func(*report.AgentReport) bool{
	"agentId":        func(r *report.AgentReport) bool { return r.IDSource != report.IDSourceFilename },
	"position":       func(r *report.AgentReport) bool { return r.HasPosition() },
	"declaredTotal":  func(r *report.AgentReport) bool { return r.DeclaredTotal > 0 },
	"previousAgents": func(r *report.AgentReport) bool { return len(r.PreviousAgents) > 0 },
	"nextAgents":     func(r *report.AgentReport) bool { return len(r.NextAgents) > 0 },
	"status":         func(r *report.AgentReport) bool { return r.Status != "" },
	"domain":         func(r *report.AgentReport) bool { return r.Domain != "" },
	"memoryKeys":     func(r *report.AgentReport) bool { return len(r.MemoryKeys) > 0 },
}

// Validate ensures the definition can be turned into a rule.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("rules: definition id is required")
	}
	if _, err := ParseSeverity(d.Severity); err != nil {
		return err
	}
	for _, field := range d.Require {
		if _, ok := requirable[strings.TrimSpace(field)]; !ok {
			return fmt.Errorf("rules: %s: unknown required field %q", d.ID, field)
		}
	}
	if d.MaxPosition < 0 {
		return fmt.Errorf("rules: %s: max_position must be positive", d.ID)
	}
	if len(d.Require) == 0 && len(d.StatusIn) == 0 && d.MaxPosition == 0 && strings.TrimSpace(d.KeyPrefix) == "" {
		return fmt.Errorf("rules: %s: definition has no checks", d.ID)
	}
	return nil
}

type definitionRule struct {
	def      Definition
	severity Severity
}

// NewDefinitionRule validates def and wraps it as a Rule.
func NewDefinitionRule(def Definition) (Rule, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	sev, _ := ParseSeverity(def.Severity)
	def.ID = strings.TrimSpace(def.ID)
	def.KeyPrefix = strings.TrimSpace(def.KeyPrefix)
	return &definitionRule{def: def, severity: sev}, nil
}

func (r *definitionRule) ID() string         { return r.def.ID }
func (r *definitionRule) Severity() Severity { return r.severity }

func (r *definitionRule) Check(rep *report.AgentReport) ([]string, error) {
	var out []string
	for _, field := range r.def.Require {
		field = strings.TrimSpace(field)
		if !requirable[field](rep) {
			out = append(out, fmt.Sprintf("%s is required", field))
		}
	}
	if len(r.def.StatusIn) > 0 && rep.Status != "" {
		allowed := false
		for _, s := range r.def.StatusIn {
			if strings.EqualFold(strings.TrimSpace(s), rep.Status) {
				allowed = true
				break
			}
		}
		if !allowed {
			out = append(out, fmt.Sprintf("status %q is not one of %s", rep.Status, strings.Join(r.def.StatusIn, ", ")))
		}
	}
	if r.def.MaxPosition > 0 && rep.Position > r.def.MaxPosition {
		out = append(out, fmt.Sprintf("position %d exceeds %d", rep.Position, r.def.MaxPosition))
	}
	if r.def.KeyPrefix != "" {
		for _, mk := range rep.MemoryKeys {
			if !strings.HasPrefix(mk.Key, r.def.KeyPrefix) {
				out = append(out, fmt.Sprintf("memory key %q does not start with %q", mk.Key, r.def.KeyPrefix))
			}
		}
	}
	return out, nil
}

// ParseDefinitionYAML decodes a YAML payload holding one definition or a list
// of them.
func ParseDefinitionYAML(data []byte) ([]Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("rules: definition payload is empty")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("rules: decode definition: %w", err)
	}
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	var defs []Definition
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("rules: decode definition list: %w", err)
		}
	default:
		var def Definition
		if err := root.Decode(&def); err != nil {
			return nil, fmt.Errorf("rules: decode definition: %w", err)
		}
		defs = []Definition{def}
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// LoadDefinitionDir scans dir for *.yaml rules. A missing directory means no
// rules.
func LoadDefinitionDir(dir string) ([]Rule, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("rules: read %s: %w", trimmed, err)
	}
	var out []Rule
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("rules: read %s: %w", path, err)
		}
		defs, err := ParseDefinitionYAML(data)
		if err != nil {
			return nil, fmt.Errorf("rules: %s: %w", path, err)
		}
		for _, def := range defs {
			rule, err := NewDefinitionRule(def)
			if err != nil {
				return nil, fmt.Errorf("rules: %s: %w", path, err)
			}
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// LoadDir loads YAML and Go rules from dir and rejects duplicate IDs.
func LoadDir(dir string) (*Set, error) {
	yamlRules, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	scriptRules, err := LoadScriptDir(dir)
	if err != nil {
		return nil, err
	}
	all := append(yamlRules, scriptRules...)
	seen := map[string]bool{}
	for _, rule := range all {
		if seen[rule.ID()] {
			return nil, fmt.Errorf("rules: duplicate rule id %q in %s", rule.ID(), dir)
		}
		seen[rule.ID()] = true
	}
	return NewSet(all...), nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
