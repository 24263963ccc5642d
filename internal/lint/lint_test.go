package lint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kingrea/lintreports/internal/rules"
)

const stepBack = `# Step-Back Analysis

**Status**: ✅ Complete
**Domain**: AWS cloud security
**Agent**: 00-step-back-analyzer
**Workflow Position**: Agent #1 of 46
**Previous Agent**: None (first agent)
**Next Agents**: ambiguity-clarifier, self-ask-decomposer

## Memory Keys Created

- ` + "`research/meta/principles`" + `: Seven guiding principles for the paper
`

const constructDefiner = `# Construct Definitions

**Status:** COMPLETE
**Agent:** 04-construct-definer
**Workflow Position:** 5/43
**Previous Agent(s):** 03-research-planner
**Next Agent(s):**
- 05-dissertation-architect

### Memory Keys
- research/constructs/definitions: Twelve constructs
`

func writeReports(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func cycleReport(id, position, peer string) string {
	return "**Status**: Complete\n**Agent**: " + id + "\n**Workflow Position**: " + position +
		"\n**Previous Agent**: " + peer + "\n**Next Agent**: " + peer +
		"\n\n## Memory Keys\n- research/loop/" + id + ": loop state\n"
}

func TestRunTwoReportScenario(t *testing.T) {
	dir := writeReports(t, map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"04-construct-definer.md":  constructDefiner,
	})
	res, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(res.Reports))
	}
	if len(res.DanglingReferences) != 4 {
		t.Fatalf("expected 4 dangling references, got %+v", res.DanglingReferences)
	}
	if len(res.Cycles) != 0 {
		t.Fatalf("expected no cycles, got %+v", res.Cycles)
	}
	if len(res.TotalMismatches) != 2 {
		t.Fatalf("expected declared totals 43 and 46 to be flagged, got %+v", res.TotalMismatches)
	}
	if res.Summary.Errors != 0 || res.Summary.Info != 4 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if code := res.ExitCode(false); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if code := res.ExitCode(true); code != 1 {
		t.Fatalf("strict exit code %d, want 1 for total mismatch warnings", code)
	}
	want := []string{"00-step-back-analyzer", "04-construct-definer"}
	if !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("order %v want %v", res.Order, want)
	}
}

func TestRunDetectsCycle(t *testing.T) {
	dir := writeReports(t, map[string]string{
		"a.md": cycleReport("agent-a", "1", "agent-b"),
		"b.md": cycleReport("agent-b", "2", "agent-a"),
	})
	res, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Cycles) != 1 || !reflect.DeepEqual(res.Cycles[0].Members, []string{"agent-a", "agent-b"}) {
		t.Fatalf("expected one cycle {agent-a, agent-b}, got %+v", res.Cycles)
	}
	if len(res.Order) != 0 {
		t.Fatalf("order should be empty with a cycle, got %v", res.Order)
	}
	if res.ExitCode(false) != 1 {
		t.Fatalf("cycle must fail the run")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := writeReports(t, map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"04-construct-definer.md":  constructDefiner,
		"a.md":                     cycleReport("agent-a", "1", "agent-b"),
		"b.md":                     cycleReport("agent-b", "2", "agent-a"),
	})
	encode := func() string {
		res, err := Run(context.Background(), dir, Options{Workers: 3})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		data, err := json.Marshal(res)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(data)
	}
	first := encode()
	for i := 0; i < 5; i++ {
		if got := encode(); got != first {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, got)
		}
	}
}

func TestRunToleratesPartialCorpora(t *testing.T) {
	all := map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"04-construct-definer.md":  constructDefiner,
		"a.md":                     cycleReport("agent-a", "1", "agent-b"),
	}
	for name := range all {
		subset := map[string]string{}
		for other, content := range all {
			if other != name {
				subset[other] = content
			}
		}
		res, err := Run(context.Background(), writeReports(t, subset), Options{})
		if err != nil {
			t.Fatalf("without %s: %v", name, err)
		}
		if len(res.Reports) != len(subset) {
			t.Fatalf("without %s: %d reports", name, len(res.Reports))
		}
	}
	res, err := Run(context.Background(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("empty dir: %v", err)
	}
	if res.ExitCode(true) != 0 {
		t.Fatalf("empty directory should be clean: %+v", res.Summary)
	}
}

func TestRunReportsInputErrors(t *testing.T) {
	dir := writeReports(t, map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"broken.md":                "\xff\xfe not utf-8",
	})
	res, err := Run(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.InputErrors) != 1 || res.InputErrors[0].Path != "broken.md" {
		t.Fatalf("expected broken.md input error, got %+v", res.InputErrors)
	}
	if len(res.Reports) != 1 || res.ExitCode(false) != 1 {
		t.Fatalf("unreadable file should be an error but not abort: %+v", res.Summary)
	}
}

func TestRunAppliesRules(t *testing.T) {
	dir := writeReports(t, map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"04-construct-definer.md":  constructDefiner,
	})
	rulesDir := filepath.Join(t.TempDir(), "rules")
	if err := os.MkdirAll(rulesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	def := "id: require-domain\nseverity: error\nrequire: [domain]\n"
	if err := os.WriteFile(filepath.Join(rulesDir, "domain.yaml"), []byte(def), 0o644); err != nil {
		t.Fatalf("write rule: %v", err)
	}
	res, err := Run(context.Background(), dir, Options{RulesDir: rulesDir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.RuleFindings) != 1 {
		t.Fatalf("expected one finding, got %+v", res.RuleFindings)
	}
	f := res.RuleFindings[0]
	if f.AgentID != "04-construct-definer" || f.Severity != rules.SeverityError {
		t.Fatalf("unexpected finding %+v", f)
	}
	if res.ExitCode(false) != 1 {
		t.Fatalf("error rule finding must fail the run")
	}
}

func TestRunRejectsBrokenRules(t *testing.T) {
	rulesDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rulesDir, "bad.yaml"), []byte("id: x\nseverity: loud\n"), 0o644); err != nil {
		t.Fatalf("write rule: %v", err)
	}
	if _, err := Run(context.Background(), t.TempDir(), Options{RulesDir: rulesDir}); err == nil {
		t.Fatalf("expected invalid severity to abort the run")
	}
}

func TestRunMissingDirectory(t *testing.T) {
	if _, err := Run(context.Background(), filepath.Join(t.TempDir(), "absent"), Options{}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
