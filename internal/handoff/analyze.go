package handoff

import (
	"sort"
)

// Cycle is a strongly connected set of agents that hand off to each other.
type Cycle struct {
	Members []string `json:"members"`
}

// OrderingViolation is a hand-off whose declared positions do not increase.
type OrderingViolation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	FromPosition int    `json:"fromPosition"`
	ToPosition   int    `json:"toPosition"`
}

// DuplicatePosition lists agents that claim the same workflow position.
type DuplicatePosition struct {
	Position int      `json:"position"`
	Agents   []string `json:"agents"`
}

// TotalMismatch groups agents by the pipeline length they declared. It is
// only produced when reports disagree.
type TotalMismatch struct {
	DeclaredTotal int      `json:"declaredTotal"`
	Agents        []string `json:"agents"`
}

// Analysis is the structural verdict over a graph.
type Analysis struct {
	Dangling           []DanglingReference
	Cycles             []Cycle
	OrderingViolations []OrderingViolation
	DuplicatePositions []DuplicatePosition
	TotalMismatches    []TotalMismatch
	// Order is a topological order of every agent; nil when the graph has a
	// cycle.
	Order []string
}

// Analyze runs every structural check over the graph.
func (g *Graph) Analyze() Analysis {
	cycles := g.Cycles()
	inCycle := map[string]int{}
	for i, c := range cycles {
		for _, id := range c.Members {
			inCycle[id] = i + 1
		}
	}
	a := Analysis{
		Dangling:           g.Dangling(),
		Cycles:             cycles,
		OrderingViolations: g.orderingViolations(inCycle),
		DuplicatePositions: g.duplicatePositions(),
		TotalMismatches:    g.totalMismatches(),
	}
	if len(cycles) == 0 {
		a.Order = g.TopologicalOrder()
	}
	return a
}

// Cycles returns the strongly connected components with more than one member
// plus agents that hand off to themselves. Members are sorted, as is the list.
func (g *Graph) Cycles() []Cycle {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	cycles := []Cycle{}

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, next := range g.nodes[id].Dependents {
			if _, visited := indices[next]; !visited {
				strongConnect(next)
				lowlink[id] = min(lowlink[id], lowlink[next])
			} else if onStack[next] {
				lowlink[id] = min(lowlink[id], indices[next])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}
		var members []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			members = append(members, top)
			if top == id {
				break
			}
		}
		if len(members) > 1 || g.selfLoop(id) {
			sort.Strings(members)
			cycles = append(cycles, Cycle{Members: members})
		}
	}

	for _, id := range g.orderedIDs {
		if _, visited := indices[id]; !visited {
			strongConnect(id)
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Members[0] < cycles[j].Members[0]
	})
	return cycles
}

func (g *Graph) selfLoop(id string) bool {
	for _, next := range g.nodes[id].Dependents {
		if next == id {
			return true
		}
	}
	return false
}

// orderingViolations checks that positions strictly increase along every
// edge outside a cycle. Edges touching an agent without a position are
// skipped.
func (g *Graph) orderingViolations(inCycle map[string]int) []OrderingViolation {
	out := []OrderingViolation{}
	for _, e := range g.edges {
		if c := inCycle[e.From]; c != 0 && c == inCycle[e.To] {
			continue
		}
		from, to := g.nodes[e.From].Report, g.nodes[e.To].Report
		if !from.HasPosition() || !to.HasPosition() {
			continue
		}
		if from.Position < to.Position {
			continue
		}
		out = append(out, OrderingViolation{
			From:         e.From,
			To:           e.To,
			FromPosition: from.Position,
			ToPosition:   to.Position,
		})
	}
	return out
}

func (g *Graph) duplicatePositions() []DuplicatePosition {
	byPosition := map[int][]string{}
	for _, id := range g.orderedIDs {
		r := g.nodes[id].Report
		if r.HasPosition() {
			byPosition[r.Position] = append(byPosition[r.Position], id)
		}
	}
	out := []DuplicatePosition{}
	for position, agents := range byPosition {
		if len(agents) > 1 {
			out = append(out, DuplicatePosition{Position: position, Agents: agents})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// totalMismatches flags disagreement about the pipeline length. Nothing is
// reported when at most one total is declared; which total is right is not
// decided here.
func (g *Graph) totalMismatches() []TotalMismatch {
	byTotal := map[int][]string{}
	for _, id := range g.orderedIDs {
		if total := g.nodes[id].Report.DeclaredTotal; total > 0 {
			byTotal[total] = append(byTotal[total], id)
		}
	}
	out := []TotalMismatch{}
	if len(byTotal) < 2 {
		return out
	}
	for total, agents := range byTotal {
		out = append(out, TotalMismatch{DeclaredTotal: total, Agents: agents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeclaredTotal < out[j].DeclaredTotal })
	return out
}

// TopologicalOrder returns agents so that every agent appears after the ones
// handing off to it. Among ready agents the lowest position goes first
// (unknown positions last), then the lowest ID. Agents caught in a cycle are
// omitted.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.orderedIDs {
		indegree[id] = len(g.nodes[id].Dependencies)
	}
	var ready []string
	for _, id := range g.orderedIDs {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.before(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range g.nodes[id].Dependents {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}

func (g *Graph) before(a, b string) bool {
	pa, pb := g.nodes[a].Report.Position, g.nodes[b].Report.Position
	switch {
	case pa > 0 && pb > 0 && pa != pb:
		return pa < pb
	case pa > 0 && pb == 0:
		return true
	case pa == 0 && pb > 0:
		return false
	}
	return a < b
}
