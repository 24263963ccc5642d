// Package lint runs every check over a report directory and collects the
// findings into one Result.
package lint

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/lintreports/internal/corpus"
	"github.com/kingrea/lintreports/internal/handoff"
	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/memkeys"
	"github.com/kingrea/lintreports/internal/report"
	"github.com/kingrea/lintreports/internal/rules"
)

// Options configures a run.
type Options struct {
	Workers     int
	Recursive   bool
	Exclude     []string
	MaxPosition int
	// RulesDir holds optional YAML and Go rules. Missing means none.
	RulesDir   string
	MemoryKeys memkeys.Options
	Log        *logbook.Logbook
}

// Summary counts findings by severity.
type Summary struct {
	Reports  int `json:"reports"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Result is the consolidated outcome of a run. It is a pure function of the
// directory contents and options.
type Result struct {
	Dir                 string                       `json:"-"`
	Reports             []*report.AgentReport        `json:"reports"`
	DanglingReferences  []handoff.DanglingReference  `json:"danglingReferences"`
	Cycles              []handoff.Cycle              `json:"cycles"`
	KeyConflicts        []memkeys.KeyConflict        `json:"keyConflicts"`
	OrderingViolations  []handoff.OrderingViolation  `json:"orderingViolations"`
	DuplicatePositions  []handoff.DuplicatePosition  `json:"duplicatePositions"`
	NamespaceViolations []memkeys.NamespaceViolation `json:"namespaceViolations"`
	TotalMismatches     []handoff.TotalMismatch      `json:"totalMismatches"`
	InputErrors         []corpus.InputError          `json:"inputErrors"`
	RuleFindings        []rules.Finding              `json:"ruleFindings"`
	// Order is a topological pipeline order; empty when a cycle exists.
	Order   []string `json:"order"`
	Summary Summary  `json:"summary"`
}

// Run lints dir. Only problems that make the run itself impossible (an
// unreadable directory, broken rule files, cancellation) are returned as
// errors; everything about the reports lands in the Result.
func Run(ctx context.Context, dir string, opts Options) (*Result, error) {
	start := time.Now()
	ruleSet, err := rules.LoadDir(opts.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("lint: %w", err)
	}
	if ruleSet.Len() > 0 {
		opts.Log.Info("loaded %d rules from %s", ruleSet.Len(), opts.RulesDir)
	}

	var parserOpts []report.ParserOption
	if opts.MaxPosition > 0 {
		parserOpts = append(parserOpts, report.WithMaxPosition(opts.MaxPosition))
	}
	c, err := corpus.Load(ctx, dir, corpus.Options{
		Workers:   opts.Workers,
		Recursive: opts.Recursive,
		Exclude:   opts.Exclude,
		Parser:    report.NewParser(parserOpts...),
		Log:       opts.Log,
	})
	if err != nil {
		return nil, err
	}

	analysis := handoff.New(c.Unique()).Analyze()
	checker := memkeys.New(opts.MemoryKeys)

	res := &Result{
		Dir:                 dir,
		Reports:             nonNil(c.Reports),
		DanglingReferences:  nonNil(analysis.Dangling),
		Cycles:              nonNil(analysis.Cycles),
		KeyConflicts:        nonNil(checker.Conflicts(c.Reports)),
		OrderingViolations:  nonNil(analysis.OrderingViolations),
		DuplicatePositions:  nonNil(analysis.DuplicatePositions),
		NamespaceViolations: nonNil(checker.Namespace(c.Reports)),
		TotalMismatches:     nonNil(analysis.TotalMismatches),
		InputErrors:         nonNil(c.InputErrors),
		RuleFindings:        nonNil(ruleSet.Apply(c.Reports)),
		Order:               nonNil(analysis.Order),
	}
	res.Summary = res.summarize()

	for _, cycle := range res.Cycles {
		opts.Log.Error("hand-off cycle: %v", cycle.Members)
	}
	opts.Log.Info("linted %s: %d reports, %d errors, %d warnings, %d info in %s",
		dir, res.Summary.Reports, res.Summary.Errors, res.Summary.Warnings, res.Summary.Info, time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (r *Result) summarize() Summary {
	s := Summary{Reports: len(r.Reports)}
	s.Errors = len(r.Cycles) + len(r.InputErrors)
	for _, rep := range r.Reports {
		s.Warnings += len(rep.Warnings)
	}
	s.Warnings += len(r.NamespaceViolations) + len(r.KeyConflicts) + len(r.OrderingViolations) +
		len(r.DuplicatePositions) + len(r.TotalMismatches)
	s.Info = len(r.DanglingReferences)
	for _, f := range r.RuleFindings {
		switch f.Severity {
		case rules.SeverityError:
			s.Errors++
		case rules.SeverityWarning:
			s.Warnings++
		default:
			s.Info++
		}
	}
	return s
}

// ExitCode maps the result onto the process exit status: 1 when errors were
// found, or warnings under strict; otherwise 0.
func (r *Result) ExitCode(strict bool) int {
	if r.Summary.Errors > 0 {
		return 1
	}
	if strict && r.Summary.Warnings > 0 {
		return 1
	}
	return 0
}

// nonNil keeps empty sections as [] rather than null in JSON output.
func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
