package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/report"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadParsesMarkdownSortedByPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "04-construct-definer.md", "**Agent**: 04-construct-definer\n")
	writeFile(t, dir, "00-step-back-analyzer.md", "**Agent**: 00-step-back-analyzer\n")
	writeFile(t, dir, "notes.txt", "**Agent**: ignored\n")
	writeFile(t, dir, "nested/02-self-ask.md", "**Agent**: 02-self-ask\n")

	c, err := Load(context.Background(), dir, Options{Workers: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Reports) != 2 {
		t.Fatalf("expected 2 top-level reports, got %d", len(c.Reports))
	}
	if c.Reports[0].Path != "00-step-back-analyzer.md" || c.Reports[1].Path != "04-construct-definer.md" {
		t.Fatalf("unexpected order: %s, %s", c.Reports[0].Path, c.Reports[1].Path)
	}
	if len(c.InputErrors) != 0 {
		t.Fatalf("unexpected input errors: %+v", c.InputErrors)
	}
}

func TestLoadRecursiveHonorsExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "**Agent**: a\n")
	writeFile(t, dir, "phase-2/b.md", "**Agent**: b\n")
	writeFile(t, dir, "archive/c.md", "**Agent**: c\n")
	writeFile(t, dir, ".lintreports/rules/readme.md", "**Agent**: hidden\n")

	c, err := Load(context.Background(), dir, Options{Recursive: true, Exclude: []string{"archive"}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got []string
	for _, r := range c.Reports {
		got = append(got, r.Path)
	}
	if strings.Join(got, ",") != "a.md,phase-2/b.md" {
		t.Fatalf("paths = %v", got)
	}
}

func TestLoadSkipsInvalidFilesAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.md", "**Agent**: good\n")
	writeFile(t, dir, "binary.md", string([]byte{0xff, 0xfe, 0xfd}))
	logPath := filepath.Join(t.TempDir(), "lint.log")
	book, err := logbook.New(logPath)
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}

	c, err := Load(context.Background(), dir, Options{Log: book})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Reports) != 1 || c.Reports[0].AgentID != "good" {
		t.Fatalf("reports = %+v", c.Reports)
	}
	if len(c.InputErrors) != 1 || c.InputErrors[0].Path != "binary.md" {
		t.Fatalf("input errors = %+v", c.InputErrors)
	}
	if !strings.Contains(c.InputErrors[0].Message, "UTF-8") {
		t.Fatalf("message = %q", c.InputErrors[0].Message)
	}
	lines, _ := book.Tail(5)
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "skipping binary.md") {
		t.Fatalf("skip not logged: %v", lines)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	if !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	c, err := Load(context.Background(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Reports) != 0 || len(c.InputErrors) != 0 {
		t.Fatalf("expected empty corpus, got %+v", c)
	}
}

func TestDuplicateAgentIDsAreWarnedAndExcluded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "**Agent**: 03-research-planner\n")
	writeFile(t, dir, "b.md", "**Agent**: 03-research-planner\n")

	c, err := Load(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Reports[1].HasWarning(report.WarnDuplicateAgentID) {
		t.Fatalf("second report should be marked duplicate: %+v", c.Reports[1].Warnings)
	}
	unique := c.Unique()
	if len(unique) != 1 || unique[0].Path != "a.md" {
		t.Fatalf("unique = %+v", unique)
	}
}
