package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lintreports/internal/config"
	"github.com/kingrea/lintreports/internal/corpus"
	"github.com/kingrea/lintreports/internal/memstore"
	"github.com/kingrea/lintreports/internal/metrics"
	"github.com/kingrea/lintreports/internal/publish"
	"github.com/kingrea/lintreports/internal/report"
	"github.com/kingrea/lintreports/internal/tui"
	"github.com/kingrea/lintreports/internal/watch"
)

func (a *app) browseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <directory>",
		Short: "Browse reports and their findings interactively",
		Args:  exactlyOneDir,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd, args[0], false)
			if err != nil {
				return err
			}
			// Fail before taking over the terminal when the first run cannot work.
			if _, err := s.lint(cmd.Context()); err != nil {
				return err
			}
			browser := tui.NewApp(cmd.Context(), s.dir, s.lint, tui.WithLogbook(s.log))
			return tui.Run(cmd.Context(), browser)
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Re-lint whenever reports or rules change",
		Args:  exactlyOneDir,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd, args[0], true)
			if err != nil {
				return err
			}
			rec := metrics.NewRecorder()
			opts := watch.Options{
				Debounce:  s.cfg.Watch.Debounce,
				Recursive: s.cfg.Recursive,
				Exclude:   s.cfg.Exclude,
				RulesDir:  s.cfg.RulesDir,
				Log:       s.log,
			}
			// A failing first run ends the command; later ones are only logged.
			return watch.Run(cmd.Context(), s.dir, opts, func(ctx context.Context) error {
				start := time.Now()
				res, err := s.lint(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "--- %s ---\n", start.Format(time.TimeOnly))
				return s.report(a.stdout, res, rec, time.Since(start))
			})
		},
	}
	f := cmd.Flags()
	f.StringP("format", "f", "text", "output format: text or json")
	f.Duration("debounce", 0, "quiet period before re-linting (default 300ms)")
	f.String("metrics-file", "", "write Prometheus textfile metrics here")
	return cmd
}

func (a *app) publishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <directory>",
		Short: "Write every declared memory key into a key-value store",
		Long: `publish stores each memory key declared by the reports as a JSON document
{"key","description","agentId","source"}. Reports are applied in pipeline
order, so the latest step that declares a key wins.`,
		Args: exactlyOneDir,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd, args[0], true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := corpus.Load(ctx, s.dir, corpus.Options{
				Workers:   s.cfg.Workers,
				Recursive: s.cfg.Recursive,
				Exclude:   s.cfg.Exclude,
				Parser:    report.NewParser(report.WithMaxPosition(s.cfg.MaxPosition)),
				Log:       s.log,
			})
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				return &InvocationError{Err: err}
			}
			store, err := memstore.Open(ctx, memstore.Config{
				Backend: memstore.Backend(s.cfg.Store.Backend),
				URL:     s.cfg.Store.URL,
				Path:    s.cfg.Store.Path,
				Prefix:  s.cfg.Store.Prefix,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := publish.New(store, s.log).Publish(ctx, c.Unique())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "published %d keys to %s (%d overwritten, %d skipped)\n",
				res.Written, s.cfg.Store.Backend, len(res.Overwritten), len(res.Skipped))
			if len(res.Overwritten) > 0 {
				fmt.Fprintf(a.stdout, "overwritten: %s\n", strings.Join(res.Overwritten, ", "))
			}
			if len(res.Skipped) > 0 {
				fmt.Fprintf(a.stdout, "skipped: %s\n", strings.Join(res.Skipped, ", "))
			}
			if len(c.InputErrors) > 0 {
				fmt.Fprintf(a.stdout, "%d files could not be read\n", len(c.InputErrors))
				a.exitCode = ExitFindings
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("backend", "", "store backend: memory, file, sqlite, redis, postgres")
	f.String("url", "", "connection URL for redis and postgres")
	f.String("path", "", "file or database path for file and sqlite, relative to <directory>")
	f.String("prefix", "", "key prefix for the redis backend")
	return cmd
}

func (a *app) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a commented default " + config.FileName,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return &InvocationError{Err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path, created, err := config.Init(dir)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(a.stdout, "%s already exists; left unchanged\n", path)
				return nil
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
}
