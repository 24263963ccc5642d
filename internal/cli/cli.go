// Package cli wires the lintreports commands together.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lintreports/internal/config"
	"github.com/kingrea/lintreports/internal/lint"
	"github.com/kingrea/lintreports/internal/logbook"
	"github.com/kingrea/lintreports/internal/memkeys"
	"github.com/kingrea/lintreports/internal/metrics"
	"github.com/kingrea/lintreports/internal/render"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFindings   = 1
	ExitInvocation = 2
)

// InvocationError marks a problem with how lintreports was called: a bad
// path, flag or configuration. It maps to exit code 2.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string { return e.Err.Error() }
func (e *InvocationError) Unwrap() error { return e.Err }

func invocationf(format string, args ...any) error {
	return &InvocationError{Err: fmt.Errorf(format, args...)}
}

// app carries the state shared by every command of one invocation.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	exitCode int

	configFile string
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return a.exitCode
	}
	fmt.Fprintf(stderr, "lintreports: %v\n", err)
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return ExitInvocation
	}
	return ExitFindings
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lintreports <directory>",
		Short: "Lint a directory of Markdown agent reports",
		Long: `lintreports parses every agent report in a directory, checks the
hand-off graph and memory-key namespaces, and prints one consolidated report.

Exit status is 0 when no errors were found, 1 on parse or structural errors
(or warnings with --strict) and 2 when the invocation itself is invalid.`,
		Args:          exactlyOneDir,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          a.runLint,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &InvocationError{Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "configuration file (default <directory>/"+config.FileName+")")
	pf.Int("workers", 0, "parallel parse workers (0 = one per CPU)")
	pf.Bool("recursive", false, "descend into sub-directories")
	pf.String("rules-dir", "", "directory of YAML and Go rules")
	pf.String("log-file", "", "append run log to this file")
	pf.BoolP("verbose", "v", false, "mirror the run log to stderr")

	f := root.Flags()
	f.StringP("format", "f", "text", "output format: text or json")
	f.Bool("strict", false, "treat warnings as failures")
	f.String("metrics-file", "", "write Prometheus textfile metrics here")

	root.AddCommand(a.browseCommand(), a.watchCommand(), a.publishCommand(), a.initCommand())
	return root
}

func exactlyOneDir(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return invocationf("expected exactly one directory, got %d arguments", len(args))
	}
	return nil
}

// session is a loaded configuration plus the logbook for one command.
type session struct {
	dir string
	cfg *config.Config
	log *logbook.Logbook
}

// open validates dir, loads configuration and opens the logbook. mirror
// controls whether --verbose may echo the log to stderr.
func (a *app) open(cmd *cobra.Command, dir string, mirror bool) (*session, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, invocationf("%s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, invocationf("%s is not a directory", dir)
	}
	cfg, err := config.Load(dir, config.LoadOptions{File: a.configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, &InvocationError{Err: err}
	}
	var opts []logbook.Option
	if mirror && cfg.Verbose {
		opts = append(opts, logbook.WithMirror(a.stderr))
	}
	lb, err := logbook.New(cfg.LogFile, opts...)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}
	if cfg.Source != "" {
		lb.Debug("configuration loaded from %s", cfg.Source)
	}
	return &session{dir: dir, cfg: cfg, log: lb}, nil
}

func (s *session) lintOptions() lint.Options {
	return lint.Options{
		Workers:     s.cfg.Workers,
		Recursive:   s.cfg.Recursive,
		Exclude:     s.cfg.Exclude,
		MaxPosition: s.cfg.MaxPosition,
		RulesDir:    s.cfg.RulesDir,
		MemoryKeys: memkeys.Options{
			Root:        s.cfg.MemoryKeys.Root,
			MinSegments: s.cfg.MemoryKeys.MinSegments,
			Threshold:   s.cfg.MemoryKeys.SimilarityThreshold,
		},
		Log: s.log,
	}
}

// lint runs one pass. Anything other than cancellation that stops a run is
// an invocation problem: an unreadable directory or broken rules.
func (s *session) lint(ctx context.Context) (*lint.Result, error) {
	res, err := lint.Run(ctx, s.dir, s.lintOptions())
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &InvocationError{Err: err}
	}
	return res, nil
}

// report renders res and updates the metrics file when one is configured.
func (s *session) report(w io.Writer, res *lint.Result, rec *metrics.Recorder, elapsed time.Duration) error {
	if err := render.Write(w, s.cfg.Format, res); err != nil {
		return err
	}
	if s.cfg.MetricsFile == "" || rec == nil {
		return nil
	}
	rec.Observe(res, elapsed, time.Now())
	if err := rec.WriteFile(s.cfg.MetricsFile); err != nil {
		s.log.Error("%v", err)
	}
	return nil
}

func (a *app) runLint(cmd *cobra.Command, args []string) error {
	s, err := a.open(cmd, args[0], true)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := s.lint(cmd.Context())
	if err != nil {
		return err
	}
	if err := s.report(a.stdout, res, metrics.NewRecorder(), time.Since(start)); err != nil {
		return err
	}
	a.exitCode = res.ExitCode(s.cfg.Strict)
	return nil
}
