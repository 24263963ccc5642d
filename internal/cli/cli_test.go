package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

const stepBack = "# Step-Back Analysis\n\n**Status**: ✅ Complete\n**Agent**: 00-step-back-analyzer\n" +
	"**Workflow Position**: Agent #1 of 46\n**Previous Agent**: None (first agent)\n" +
	"**Next Agents**: ambiguity-clarifier, self-ask-decomposer\n\n## Memory Keys Created\n\n" +
	"- `research/meta/principles`: Seven guiding principles\n"

const constructDefiner = "# Construct Definitions\n\n**Status:** COMPLETE\n**Agent:** 04-construct-definer\n" +
	"**Workflow Position:** 5/43\n**Previous Agent(s):** 03-research-planner\n**Next Agent(s):**\n" +
	"- 05-dissertation-architect\n\n### Memory Keys\n- research/constructs/definitions: Twelve constructs\n"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func reportsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"00-step-back-analyzer.md": stepBack,
		"04-construct-definer.md":  constructDefiner,
	})
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return runContext(t, context.Background(), args...)
}

func runContext(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestLintText(t *testing.T) {
	code, out, errOut := run(t, reportsDir(t))
	if code != ExitOK {
		t.Fatalf("exit %d, stderr %s", code, errOut)
	}
	for _, want := range []string{"Reports (2)", "Dangling references (4)", "Cycles (0)", "00-step-back-analyzer -> ambiguity-clarifier"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLintJSON(t *testing.T) {
	code, out, _ := run(t, reportsDir(t), "--format", "json")
	if code != ExitOK {
		t.Fatalf("exit %d", code)
	}
	var doc struct {
		DanglingReferences []json.RawMessage `json:"danglingReferences"`
		Cycles             []json.RawMessage `json:"cycles"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(doc.DanglingReferences) != 4 || len(doc.Cycles) != 0 {
		t.Fatalf("unexpected document:\n%s", out)
	}
}

func TestStrictFailsOnWarnings(t *testing.T) {
	dir := reportsDir(t)
	if code, _, _ := run(t, dir, "--strict"); code != ExitFindings {
		t.Fatalf("strict exit %d, want %d", code, ExitFindings)
	}
	writeFiles(t, dir, map[string]string{".lintreports.yaml": "strict: true\n"})
	if code, _, _ := run(t, dir); code != ExitFindings {
		t.Fatalf("strict from config: exit %d", code)
	}
}

func TestCycleFails(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.md": "**Agent**: agent-a\n**Status**: Complete\n**Next Agent**: agent-b\n",
		"b.md": "**Agent**: agent-b\n**Status**: Complete\n**Next Agent**: agent-a\n",
	})
	code, out, _ := run(t, dir)
	if code != ExitFindings {
		t.Fatalf("exit %d, want %d", code, ExitFindings)
	}
	if !strings.Contains(out, "agent-a -> agent-b -> agent-a") {
		t.Fatalf("cycle missing:\n%s", out)
	}
}

func TestInvocationErrors(t *testing.T) {
	dir := reportsDir(t)
	badConfig := filepath.Join(t.TempDir(), "bad.yaml")
	writeFiles(t, filepath.Dir(badConfig), map[string]string{"bad.yaml": "format: xml\n"})
	rules := t.TempDir()
	writeFiles(t, rules, map[string]string{"r.yaml": "id: r\nseverity: loud\n"})
	file := filepath.Join(dir, "00-step-back-analyzer.md")

	cases := map[string][]string{
		"no args":      {},
		"two args":     {dir, dir},
		"missing dir":  {filepath.Join(dir, "absent")},
		"file not dir": {file},
		"unknown flag": {dir, "--bogus"},
		"bad config":   {dir, "--config", badConfig},
		"bad format":   {dir, "--format", "yaml"},
		"bad workers":  {dir, "--workers", "-1"},
		"broken rules": {dir, "--rules-dir", rules},
	}
	for name, args := range cases {
		code, _, errOut := run(t, args...)
		if code != ExitInvocation {
			t.Fatalf("%s: exit %d want %d (stderr %q)", name, code, ExitInvocation, errOut)
		}
		if !strings.HasPrefix(errOut, "lintreports: ") {
			t.Fatalf("%s: stderr %q", name, errOut)
		}
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("LINTREPORTS_FORMAT", "json")
	_, out, _ := run(t, reportsDir(t))
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected json output from environment, got:\n%s", out)
	}
}

func TestLogAndMetricsFiles(t *testing.T) {
	dir := reportsDir(t)
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "lint.log")
	metricsPath := filepath.Join(outDir, "lint.prom")
	code, _, errOut := run(t, dir, "--log-file", logPath, "--metrics-file", metricsPath, "--verbose")
	if code != ExitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut, "INFO") {
		t.Fatalf("verbose should mirror the log to stderr, got %q", errOut)
	}
	logData, err := os.ReadFile(logPath)
	if err != nil || !strings.Contains(string(logData), "linted") {
		t.Fatalf("log file: %v %q", err, logData)
	}
	metricsData, err := os.ReadFile(metricsPath)
	if err != nil || !strings.Contains(string(metricsData), "lintreports_reports_parsed 2") {
		t.Fatalf("metrics file: %v %q", err, metricsData)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	code, out, _ := run(t, "init", dir)
	if code != ExitOK || !strings.HasPrefix(out, "wrote ") {
		t.Fatalf("first init: exit %d, %q", code, out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".lintreports.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	code, out, _ = run(t, "init", dir)
	if code != ExitOK || !strings.Contains(out, "already exists") {
		t.Fatalf("second init: exit %d, %q", code, out)
	}
	if code, _, _ := run(t, "init", dir, dir); code != ExitInvocation {
		t.Fatalf("init with two args: exit %d", code)
	}
	if code, _, _ := run(t, dir); code != ExitOK {
		t.Fatalf("generated config should load cleanly, exit %d", code)
	}
}

func TestPublishFile(t *testing.T) {
	dir := reportsDir(t)
	code, out, errOut := run(t, "publish", dir, "--backend", "file", "--path", "state/memory.json")
	if code != ExitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "published 2 keys to file") {
		t.Fatalf("unexpected output %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "state", "memory.json"))
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !strings.Contains(string(data), "research/constructs/definitions") {
		t.Fatalf("store missing key:\n%s", data)
	}
}

func TestPublishRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	code, _, errOut := run(t, "publish", reportsDir(t), "--backend", "redis", "--url", "redis://"+mr.Addr(), "--prefix", "lint:")
	if code != ExitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	raw, err := mr.Get("lint:research/meta/principles")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(raw, `"agentId":"00-step-back-analyzer"`) {
		t.Fatalf("unexpected value %s", raw)
	}
}

func TestPublishRequiresURL(t *testing.T) {
	if code, _, _ := run(t, "publish", reportsDir(t), "--backend", "redis"); code != ExitInvocation {
		t.Fatalf("redis without url: exit %d", code)
	}
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	code, out, errOut := runContext(t, ctx, "watch", reportsDir(t), "--debounce", "50ms")
	if code != ExitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "--- ") || !strings.Contains(out, "Dangling references (4)") {
		t.Fatalf("watch did not lint:\n%s", out)
	}
	if n := strings.Count(out, "Reports (2)"); n != 1 {
		t.Fatalf("expected one run before any change, got %d", n)
	}
}

func TestWatchFailsOnBrokenRules(t *testing.T) {
	rules := t.TempDir()
	writeFiles(t, rules, map[string]string{"r.yaml": "id: r\nseverity: loud\n"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, out, _ := runContext(t, ctx, "watch", reportsDir(t), "--rules-dir", rules)
	if code != ExitInvocation || out != "" {
		t.Fatalf("exit %d, stdout %q", code, out)
	}
}
