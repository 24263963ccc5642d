package report

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("report: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("report: malformed frontmatter")
)

// frontMatter mirrors the optional YAML header some pipeline documents carry.
// Every field is optional; the Markdown header patterns fill whatever is absent.
type frontMatter struct {
	AgentID        string        `yaml:"agent_id"`
	Agent          string        `yaml:"agent"`
	Position       positionValue `yaml:"position"`
	Total          int           `yaml:"total"`
	PreviousAgents refList       `yaml:"previous_agents"`
	NextAgents     refList       `yaml:"next_agents"`
	Status         string        `yaml:"status"`
	Domain         string        `yaml:"domain"`
	MemoryKeys     memoryKeyList `yaml:"memory_keys"`
}

// splitFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences. Line offsets let body warnings keep file-level
// line numbers.
func splitFrontMatter(content []byte) (meta []byte, body []byte, bodyLine int, err error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return nil, content, 1, ErrMissingFrontMatter
	}
	rest := content[4:]
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return nil, rest[4:], 3, nil
	}
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return bytes.TrimSuffix(rest, []byte("\n---")), nil, 0, nil
		}
		return nil, content, 1, ErrMalformedFrontMatter
	}
	meta = parts[0]
	bodyLine = bytes.Count(meta, []byte("\n")) + 4
	return meta, parts[1], bodyLine, nil
}

func parseFrontMatter(meta []byte) (frontMatter, error) {
	var fm frontMatter
	if len(bytes.TrimSpace(meta)) == 0 {
		return fm, nil
	}
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return frontMatter{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return fm, nil
}

// positionValue accepts `position: 5` as well as `position: "5 of 46"`.
type positionValue struct {
	Position int
	Total    int
	Set      bool
	Raw      string
}

func (p *positionValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("position must be a scalar (line %d)", node.Line)
	}
	p.Set = true
	p.Raw = node.Value
	p.Position, p.Total = parsePosition(node.Value)
	return nil
}

// refList accepts either a single scalar (possibly comma separated) or a
// sequence of scalars.
type refList struct {
	Values []string
	Set    bool
}

func (l *refList) UnmarshalYAML(node *yaml.Node) error {
	l.Set = true
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			l.Values = []string{}
			return nil
		}
		l.Values = SplitRefs(node.Value)
	case yaml.SequenceNode:
		l.Values = make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("agent reference must be a scalar (line %d)", item.Line)
			}
			l.Values = append(l.Values, SplitRefs(item.Value)...)
		}
	default:
		return fmt.Errorf("agent references must be a string or list (line %d)", node.Line)
	}
	return nil
}

// memoryKeyList accepts a mapping of key -> description, a sequence of
// {key, description} objects, or a sequence of bare keys. Mapping order is
// preserved.
type memoryKeyList struct {
	Keys []MemoryKey
	Set  bool
}

func (l *memoryKeyList) UnmarshalYAML(node *yaml.Node) error {
	l.Set = true
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			l.Keys = append(l.Keys, MemoryKey{Key: strings.TrimSpace(k.Value), Description: nodeText(v), Line: k.Line})
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				l.Keys = append(l.Keys, MemoryKey{Key: strings.TrimSpace(item.Value), Line: item.Line})
			case yaml.MappingNode:
				var entry struct {
					Key         string `yaml:"key"`
					Description string `yaml:"description"`
				}
				if err := item.Decode(&entry); err != nil {
					return err
				}
				l.Keys = append(l.Keys, MemoryKey{Key: strings.TrimSpace(entry.Key), Description: strings.TrimSpace(entry.Description), Line: item.Line})
			default:
				return fmt.Errorf("memory key entry must be a string or mapping (line %d)", item.Line)
			}
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		l.Keys = append(l.Keys, MemoryKey{Key: strings.TrimSpace(node.Value), Line: node.Line})
	default:
		return fmt.Errorf("memory_keys must be a mapping or list (line %d)", node.Line)
	}
	return nil
}

func nodeText(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return strings.TrimSpace(node.Value)
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func parsePosition(raw string) (position int, total int) {
	value := strings.TrimSpace(stripMarkup(raw))
	if m := ordinalHashRE.FindStringSubmatch(value); m != nil {
		position, _ = strconv.Atoi(m[1])
		if t := totalRE.FindStringSubmatch(value[strings.Index(value, m[0])+len(m[0]):]); t != nil {
			total, _ = strconv.Atoi(t[1])
		}
		return position, total
	}
	if m := fractionRE.FindStringSubmatch(value); m != nil {
		position, _ = strconv.Atoi(m[1])
		total, _ = strconv.Atoi(m[2])
		return position, total
	}
	if m := firstIntRE.FindStringSubmatch(value); m != nil {
		position, _ = strconv.Atoi(m[1])
	}
	return position, total
}
