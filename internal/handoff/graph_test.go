package handoff

import (
	"reflect"
	"testing"

	"github.com/kingrea/lintreports/internal/report"
)

func agent(id string, position int, previous, next []string) *report.AgentReport {
	return &report.AgentReport{
		Path:           id + ".md",
		AgentID:        id,
		Slug:           report.StripOrdinal(id),
		Position:       position,
		PreviousAgents: previous,
		NextAgents:     next,
	}
}

func TestTwoFileScenarioReportsFourDanglingReferences(t *testing.T) {
	g := New([]*report.AgentReport{
		agent("00-step-back-analyzer", 1, nil, []string{"ambiguity-clarifier", "self-ask-decomposer"}),
		agent("04-construct-definer", 5, []string{"03-research-planner"}, []string{"05-dissertation-architect"}),
	})
	a := g.Analyze()
	want := []DanglingReference{
		{From: "00-step-back-analyzer", To: "ambiguity-clarifier", Direction: DirectionNext},
		{From: "00-step-back-analyzer", To: "self-ask-decomposer", Direction: DirectionNext},
		{From: "04-construct-definer", To: "05-dissertation-architect", Direction: DirectionNext},
		{From: "04-construct-definer", To: "03-research-planner", Direction: DirectionPrevious},
	}
	if !reflect.DeepEqual(a.Dangling, want) {
		t.Fatalf("dangling = %+v\nwant %+v", a.Dangling, want)
	}
	if len(a.Cycles) != 0 {
		t.Fatalf("expected no cycles, got %+v", a.Cycles)
	}
	if !reflect.DeepEqual(a.Order, []string{"00-step-back-analyzer", "04-construct-definer"}) {
		t.Fatalf("order = %v", a.Order)
	}
}

func TestMutualHandOffIsExactlyOneCycle(t *testing.T) {
	g := New([]*report.AgentReport{
		agent("a", 1, []string{"b"}, []string{"b"}),
		agent("b", 2, []string{"a"}, []string{"a"}),
	})
	a := g.Analyze()
	if len(a.Cycles) != 1 || !reflect.DeepEqual(a.Cycles[0].Members, []string{"a", "b"}) {
		t.Fatalf("cycles = %+v", a.Cycles)
	}
	if len(a.OrderingViolations) != 0 {
		t.Fatalf("edges inside a cycle are not ordering violations: %+v", a.OrderingViolations)
	}
	if a.Order != nil {
		t.Fatalf("cyclic graph should have no order, got %v", a.Order)
	}
	if len(g.Edges()) != 2 {
		t.Fatalf("edges should be deduplicated, got %+v", g.Edges())
	}
}

func TestSelfLoopIsACycle(t *testing.T) {
	g := New([]*report.AgentReport{agent("solo", 1, nil, []string{"solo"})})
	cycles := g.Cycles()
	if len(cycles) != 1 || !reflect.DeepEqual(cycles[0].Members, []string{"solo"}) {
		t.Fatalf("cycles = %+v", cycles)
	}
}

func TestReferencesResolveThroughSlugs(t *testing.T) {
	g := New([]*report.AgentReport{
		agent("00-step-back-analyzer", 1, nil, []string{"ambiguity-clarifier"}),
		agent("01-ambiguity-clarifier", 2, []string{"step-back-analyzer"}, nil),
	})
	if d := g.Dangling(); len(d) != 0 {
		t.Fatalf("expected slug references to resolve, got %+v", d)
	}
	edges := g.Edges()
	if len(edges) != 1 || edges[0] != (Edge{From: "00-step-back-analyzer", To: "01-ambiguity-clarifier"}) {
		t.Fatalf("edges = %+v", edges)
	}
	node, ok := g.Node("01-ambiguity-clarifier")
	if !ok || !reflect.DeepEqual(node.Dependencies, []string{"00-step-back-analyzer"}) {
		t.Fatalf("dependencies = %+v", node)
	}
}

func TestAmbiguousSlugIsDanglingWithCandidates(t *testing.T) {
	g := New([]*report.AgentReport{
		agent("01-reviewer", 1, nil, nil),
		agent("09-reviewer", 9, nil, nil),
		agent("10-editor", 10, []string{"reviewer"}, nil),
	})
	d := g.Dangling()
	if len(d) != 1 || !reflect.DeepEqual(d[0].Candidates, []string{"01-reviewer", "09-reviewer"}) {
		t.Fatalf("dangling = %+v", d)
	}
}

func TestOrderingViolationsAndDuplicatePositions(t *testing.T) {
	g := New([]*report.AgentReport{
		agent("early", 7, nil, []string{"late"}),
		agent("late", 3, nil, nil),
		agent("twin", 3, nil, nil),
		agent("unplaced", 0, []string{"late"}, nil),
	})
	a := g.Analyze()
	want := []OrderingViolation{{From: "early", To: "late", FromPosition: 7, ToPosition: 3}}
	if !reflect.DeepEqual(a.OrderingViolations, want) {
		t.Fatalf("ordering = %+v", a.OrderingViolations)
	}
	wantDup := []DuplicatePosition{{Position: 3, Agents: []string{"late", "twin"}}}
	if !reflect.DeepEqual(a.DuplicatePositions, wantDup) {
		t.Fatalf("duplicates = %+v", a.DuplicatePositions)
	}
	if !reflect.DeepEqual(a.Order, []string{"twin", "early", "late", "unplaced"}) {
		t.Fatalf("order = %v", a.Order)
	}
}

func TestTotalMismatchesOnlyWhenTotalsDisagree(t *testing.T) {
	one := agent("one", 1, nil, nil)
	one.DeclaredTotal = 46
	two := agent("two", 2, nil, nil)
	two.DeclaredTotal = 43
	three := agent("three", 3, nil, nil)
	three.DeclaredTotal = 46

	a := New([]*report.AgentReport{one, two, three}).Analyze()
	want := []TotalMismatch{
		{DeclaredTotal: 43, Agents: []string{"two"}},
		{DeclaredTotal: 46, Agents: []string{"one", "three"}},
	}
	if !reflect.DeepEqual(a.TotalMismatches, want) {
		t.Fatalf("totals = %+v", a.TotalMismatches)
	}

	agreed := New([]*report.AgentReport{one, three}).Analyze()
	if len(agreed.TotalMismatches) != 0 {
		t.Fatalf("agreeing totals flagged: %+v", agreed.TotalMismatches)
	}
}

func TestEmptyGraph(t *testing.T) {
	a := New(nil).Analyze()
	if len(a.Dangling) != 0 || len(a.Cycles) != 0 || len(a.Order) != 0 {
		t.Fatalf("empty analysis = %+v", a)
	}
}
