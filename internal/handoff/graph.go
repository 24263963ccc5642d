// Package handoff builds the agent hand-off graph declared by a set of
// reports and checks it for dangling references, cycles and ordering
// problems.
package handoff

import (
	"sort"

	"github.com/kingrea/lintreports/internal/report"
)

// Direction names which pointer a reference came from.
type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

// Node captures one report plus its resolved hand-off edges.
type Node struct {
	ID     string
	Report *report.AgentReport
	// Dependencies are the agents that hand off to this one.
	Dependencies []string
	// Dependents are the agents this one hands off to.
	Dependents []string
}

// Edge is a resolved hand-off from one agent to the next.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DanglingReference is a pointer to an agent that no parsed report declares.
// Candidates is set when the reference matched more than one report.
type DanglingReference struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Direction  Direction `json:"direction"`
	Candidates []string  `json:"candidates,omitempty"`
}

// Graph is the directed hand-off graph over a set of reports.
type Graph struct {
	nodes      map[string]*Node
	orderedIDs []string
	aliases    map[string][]string
	edges      []Edge
	dangling   []DanglingReference
}

// New resolves every previous/next pointer in reports. Reports are expected
// to carry unique agent IDs; later duplicates are ignored.
func New(reports []*report.AgentReport) *Graph {
	g := &Graph{
		nodes:   make(map[string]*Node, len(reports)),
		aliases: map[string][]string{},
	}
	for _, r := range reports {
		if r == nil || r.AgentID == "" {
			continue
		}
		if _, dup := g.nodes[r.AgentID]; dup {
			continue
		}
		g.nodes[r.AgentID] = &Node{ID: r.AgentID, Report: r}
		g.orderedIDs = append(g.orderedIDs, r.AgentID)
	}
	sort.Strings(g.orderedIDs)
	for _, id := range g.orderedIDs {
		for _, alias := range g.nodes[id].Report.Aliases() {
			g.aliases[alias] = appendUnique(g.aliases[alias], id)
		}
	}

	seen := map[Edge]bool{}
	addEdge := func(from, to string) {
		e := Edge{From: from, To: to}
		if seen[e] {
			return
		}
		seen[e] = true
		g.edges = append(g.edges, e)
		g.nodes[from].Dependents = append(g.nodes[from].Dependents, to)
		g.nodes[to].Dependencies = append(g.nodes[to].Dependencies, from)
	}
	danglingSeen := map[DanglingReference]bool{}
	for _, id := range g.orderedIDs {
		r := g.nodes[id].Report
		for _, ref := range r.NextAgents {
			target, candidates := g.resolve(ref)
			if target == "" {
				g.addDangling(danglingSeen, DanglingReference{From: id, To: ref, Direction: DirectionNext, Candidates: candidates})
				continue
			}
			addEdge(id, target)
		}
		for _, ref := range r.PreviousAgents {
			source, candidates := g.resolve(ref)
			if source == "" {
				g.addDangling(danglingSeen, DanglingReference{From: id, To: ref, Direction: DirectionPrevious, Candidates: candidates})
				continue
			}
			addEdge(source, id)
		}
	}
	for _, node := range g.nodes {
		sort.Strings(node.Dependencies)
		sort.Strings(node.Dependents)
	}
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i].From != g.edges[j].From {
			return g.edges[i].From < g.edges[j].From
		}
		return g.edges[i].To < g.edges[j].To
	})
	sort.Slice(g.dangling, func(i, j int) bool {
		a, b := g.dangling[i], g.dangling[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.To < b.To
	})
	return g
}

func (g *Graph) addDangling(seen map[DanglingReference]bool, ref DanglingReference) {
	key := DanglingReference{From: ref.From, To: ref.To, Direction: ref.Direction}
	if seen[key] {
		return
	}
	seen[key] = true
	g.dangling = append(g.dangling, ref)
}

// resolve maps a reference onto an agent ID. An exact ID match wins; then the
// alias table is consulted with and without a leading ordinal. Ambiguous
// aliases do not resolve and return their candidates.
func (g *Graph) resolve(ref string) (string, []string) {
	if _, ok := g.nodes[ref]; ok {
		return ref, nil
	}
	for _, key := range []string{ref, report.StripOrdinal(ref)} {
		ids := g.aliases[key]
		switch len(ids) {
		case 0:
			continue
		case 1:
			return ids[0], nil
		default:
			return "", append([]string(nil), ids...)
		}
	}
	return "", nil
}

// Nodes returns the nodes sorted by agent ID.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.orderedIDs))
	for _, id := range g.orderedIDs {
		out = append(out, g.nodes[id])
	}
	return out
}

// Node retrieves a node by agent ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Edges returns the resolved, deduplicated edges sorted by (from, to).
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Dangling returns every reference that did not resolve to a parsed report.
func (g *Graph) Dangling() []DanglingReference {
	out := make([]DanglingReference, len(g.dangling))
	copy(out, g.dangling)
	return out
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
