// Package memkeys checks memory-key names against the research namespace
// convention and flags keys that different reports describe differently.
package memkeys

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/kingrea/lintreports/internal/report"
)

const (
	DefaultRoot        = "research"
	DefaultMinSegments = 3
	DefaultThreshold   = 0.8
)

var segmentRE = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Options tunes the checker. Zero values fall back to the defaults.
type Options struct {
	Root        string
	MinSegments int
	// Threshold is the similarity below which two descriptions of the same
	// key are considered divergent.
	Threshold float64
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Root) == "" {
		o.Root = DefaultRoot
	}
	if o.MinSegments <= 0 {
		o.MinSegments = DefaultMinSegments
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// NamespaceViolation is a key that does not follow <root>/<phase>/<slug>.
type NamespaceViolation struct {
	AgentID string `json:"agentId"`
	Path    string `json:"path"`
	Key     string `json:"key"`
	Reason  string `json:"reason"`
}

// Declaration is one report's description of a key.
type Declaration struct {
	AgentID     string `json:"agentId"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// KeyConflict is advisory: the same key is described in ways that differ more
// than the similarity threshold allows.
type KeyConflict struct {
	Key          string        `json:"key"`
	Similarity   float64       `json:"similarity"`
	Declarations []Declaration `json:"declarations"`
}

// Checker validates memory keys across reports.
type Checker struct {
	opts Options
}

// New builds a checker.
func New(opts Options) *Checker {
	return &Checker{opts: opts.withDefaults()}
}

// Validate returns the reason a key breaks the namespace convention, or ""
// when it conforms.
func (c *Checker) Validate(key string) string {
	if key == "" {
		return "key is empty"
	}
	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return "key contains whitespace"
	}
	segments := strings.Split(key, "/")
	if segments[0] != c.opts.Root {
		return fmt.Sprintf("key must start with %q", c.opts.Root+"/")
	}
	if len(segments) < c.opts.MinSegments {
		return fmt.Sprintf("key needs at least %d segments (%s/<phase>/<slug>)", c.opts.MinSegments, c.opts.Root)
	}
	for _, seg := range segments[1:] {
		if seg == "" {
			return "key contains an empty segment"
		}
		if !segmentRE.MatchString(seg) {
			return fmt.Sprintf("segment %q must be lowercase letters, digits, '.', '_' or '-'", seg)
		}
	}
	return ""
}

// Namespace checks every key declared by reports.
func (c *Checker) Namespace(reports []*report.AgentReport) []NamespaceViolation {
	out := []NamespaceViolation{}
	for _, r := range reports {
		for _, mk := range r.MemoryKeys {
			if reason := c.Validate(mk.Key); reason != "" {
				out = append(out, NamespaceViolation{AgentID: r.AgentID, Path: r.Path, Key: mk.Key, Reason: reason})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Conflicts groups keys by exact name and compares every pair of non-empty
// descriptions. A key is reported once, with the lowest pairwise similarity
// and every declaration that took part.
func (c *Checker) Conflicts(reports []*report.AgentReport) []KeyConflict {
	byKey := map[string][]Declaration{}
	for _, r := range reports {
		for _, mk := range r.MemoryKeys {
			byKey[mk.Key] = append(byKey[mk.Key], Declaration{AgentID: r.AgentID, Path: r.Path, Description: mk.Description})
		}
	}
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := []KeyConflict{}
	for _, key := range keys {
		decls := byKey[key]
		if len(decls) < 2 {
			continue
		}
		sort.SliceStable(decls, func(i, j int) bool { return decls[i].Path < decls[j].Path })
		lowest := 1.0
		for i := 0; i < len(decls); i++ {
			for j := i + 1; j < len(decls); j++ {
				a, b := normalizeWords(decls[i].Description), normalizeWords(decls[j].Description)
				if len(a) == 0 || len(b) == 0 {
					continue
				}
				if s := Similarity(a, b); s < lowest {
					lowest = s
				}
			}
		}
		if lowest < c.opts.Threshold {
			out = append(out, KeyConflict{Key: key, Similarity: round(lowest), Declarations: decls})
		}
	}
	return out
}

// Similarity is 1 - (word edit distance / longer length). Identical word
// sequences score 1.
func Similarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(longest)
}

func editDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// normalizeWords lowercases and strips punctuation so formatting differences
// do not count as divergence.
func normalizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func round(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
