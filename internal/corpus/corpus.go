// Package corpus loads every report in a directory into parsed AgentReports.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/report"
)

// ErrNotDirectory is returned when the lint target cannot be listed.
var ErrNotDirectory = errors.New("corpus: not a readable directory")

// InputError records a file that could not be parsed. The run continues
// without it.
type InputError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Corpus is the set of reports found in one directory.
type Corpus struct {
	Dir         string
	Reports     []*report.AgentReport
	InputErrors []InputError
}

// Options tunes loading.
type Options struct {
	Workers   int
	Recursive bool
	// Exclude lists directory names skipped during recursive walks.
	Exclude []string
	Parser  *report.Parser
	Log     *logbook.Logbook
}

// Load lists the Markdown files under dir and parses them in parallel.
// Reports come back sorted by relative path.
func Load(ctx context.Context, dir string, opts Options) (*Corpus, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDirectory, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	paths, err := listMarkdown(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDirectory, dir, err)
	}
	parser := opts.Parser
	if parser == nil {
		parser = report.NewParser()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	reports := make([]*report.AgentReport, len(paths))
	var (
		mu        sync.Mutex
		inputErrs []InputError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := loadFile(parser, dir, rel)
			if err != nil {
				opts.Log.Warn("skipping %s: %v", rel, err)
				mu.Lock()
				inputErrs = append(inputErrs, InputError{Path: rel, Message: err.Error()})
				mu.Unlock()
				return nil
			}
			opts.Log.Debug("parsed %s as %s (%d warnings)", rel, r.AgentID, len(r.Warnings))
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("corpus: load %s: %w", dir, err)
	}

	c := &Corpus{Dir: dir, Reports: make([]*report.AgentReport, 0, len(paths)), InputErrors: inputErrs}
	for _, r := range reports {
		if r != nil {
			c.Reports = append(c.Reports, r)
		}
	}
	sort.Slice(c.InputErrors, func(i, j int) bool { return c.InputErrors[i].Path < c.InputErrors[j].Path })
	markDuplicates(c.Reports)
	if c.InputErrors == nil {
		c.InputErrors = []InputError{}
	}
	return c, nil
}

// Unique returns the reports that own their agent ID, i.e. every report that
// is not a later duplicate of an earlier one.
func (c *Corpus) Unique() []*report.AgentReport {
	out := make([]*report.AgentReport, 0, len(c.Reports))
	for _, r := range c.Reports {
		if !r.HasWarning(report.WarnDuplicateAgentID) {
			out = append(out, r)
		}
	}
	return out
}

func loadFile(parser *report.Parser, dir, rel string) (*report.AgentReport, error) {
	content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return parser.Parse(rel, content)
}

func markDuplicates(reports []*report.AgentReport) {
	owner := map[string]string{}
	for _, r := range reports {
		if first, ok := owner[r.AgentID]; ok {
			r.Warn(report.WarnDuplicateAgentID, 0, fmt.Sprintf("agent id %q already declared by %s", r.AgentID, first))
			continue
		}
		owner[r.AgentID] = r.Path
	}
}

func listMarkdown(dir string, opts Options) ([]string, error) {
	excluded := map[string]struct{}{}
	for _, name := range opts.Exclude {
		excluded[name] = struct{}{}
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			rel, _ := filepath.Rel(dir, path)
			opts.Log.Warn("cannot read %s: %v", rel, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !opts.Recursive || strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			if _, skip := excluded[d.Name()]; skip {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(paths)
	return paths, err
}
