// Package watch re-runs a callback whenever reports or rules change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/lintreports/internal/logbook"
)

// DefaultDebounce coalesces editor save bursts into one run.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a watch session.
type Options struct {
	Debounce  time.Duration
	Recursive bool
	// Exclude names directories skipped by recursive watches.
	Exclude []string
	// RulesDir is watched too when it exists.
	RulesDir string
	Log      *logbook.Logbook
}

// Run calls onChange once, then again after every debounced burst of relevant
// changes under dir, until ctx is cancelled. An error from the first call is
// returned; later callback errors are logged and watching continues.
func Run(ctx context.Context, dir string, opts Options, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	dirs, err := watchedDirs(dir, opts)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("watch: add %s: %w", d, err)
		}
	}
	opts.Log.Info("watching %d directories under %s", len(dirs), dir)
	return loop(ctx, watcher.Events, watcher.Errors, opts, onChange)
}

func loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, opts Options, onChange func(context.Context) error) error {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := onChange(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	run := func() {
		if err := onChange(ctx); err != nil && ctx.Err() == nil {
			opts.Log.Error("watch: run failed: %v", err)
		}
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			opts.Log.Debug("watch: %s %s", event.Op, event.Name)
			fire = time.After(debounce)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			opts.Log.Warn("watch: watcher error: %v", err)
		case <-fire:
			fire = nil
			run()
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".md", ".yaml", ".yml", ".go":
		return true
	}
	return false
}

func watchedDirs(dir string, opts Options) ([]string, error) {
	dirs := []string{dir}
	excluded := map[string]struct{}{}
	for _, name := range opts.Exclude {
		excluded[name] = struct{}{}
	}
	if opts.Recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() || path == dir {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if _, skip := excluded[d.Name()]; skip {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("watch: walk %s: %w", dir, err)
		}
	}
	if opts.RulesDir != "" {
		info, err := os.Stat(opts.RulesDir)
		switch {
		case err == nil && info.IsDir():
			dirs = append(dirs, opts.RulesDir)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("watch: stat %s: %w", opts.RulesDir, err)
		}
	}
	return dirs, nil
}
