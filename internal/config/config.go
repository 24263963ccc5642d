// internal/config/config.go
//
// This package resolves lintreports settings from .lintreports.yaml, the
// LINTREPORTS_* environment and command-line flags.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// FileName is the per-corpus configuration file looked up in the lint
	// target directory.
	FileName = ".lintreports.yaml"

	// EnvPrefix namespaces environment overrides (LINTREPORTS_FORMAT, ...).
	EnvPrefix = "LINTREPORTS"

	DefaultRulesDir = ".lintreports/rules"
)

const defaultConfigYAML = `# lintreports configuration
# Every key can be overridden with LINTREPORTS_<KEY> (dots become underscores).

# Output format: text or json.
format: text

# Treat warnings as failures.
strict: false

# Parallel parse workers. 0 uses one per CPU.
workers: 0

# Descend into sub-directories. Hidden directories are always skipped.
recursive: false
exclude: []

# Largest workflow position a report may claim.
max_position: 46

# YAML and Go rules loaded for every run.
rules_dir: .lintreports/rules

# Optional outputs.
# log_file: .lintreports/lint.log
# metrics_file: .lintreports/metrics.prom

memory_keys:
  root: research
  min_segments: 3
  # Descriptions of the same key below this similarity are reported.
  similarity_threshold: 0.8

# Target for "lintreports publish".
store:
  backend: file
  path: .lintreports/memory.json
  # url: redis://localhost:6379/0
  prefix: ""

watch:
  debounce: 300ms
`

// MemoryKeysConfig tunes the namespace and conflict checks.
type MemoryKeysConfig struct {
	Root                string  `mapstructure:"root"`
	MinSegments         int     `mapstructure:"min_segments"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// StoreConfig selects the key-value backend memory keys are published to.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	URL     string `mapstructure:"url"`
	Path    string `mapstructure:"path"`
	Prefix  string `mapstructure:"prefix"`
}

// WatchConfig tunes `lintreports watch`.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config holds the resolved settings for one run.
type Config struct {
	// Dir is the lint target directory.
	Dir string `mapstructure:"-"`
	// Source is the configuration file that was read, if any.
	Source string `mapstructure:"-"`

	Format      string           `mapstructure:"format"`
	Strict      bool             `mapstructure:"strict"`
	Verbose     bool             `mapstructure:"verbose"`
	Workers     int              `mapstructure:"workers"`
	Recursive   bool             `mapstructure:"recursive"`
	Exclude     []string         `mapstructure:"exclude"`
	MaxPosition int              `mapstructure:"max_position"`
	RulesDir    string           `mapstructure:"rules_dir"`
	LogFile     string           `mapstructure:"log_file"`
	MetricsFile string           `mapstructure:"metrics_file"`
	MemoryKeys  MemoryKeysConfig `mapstructure:"memory_keys"`
	Store       StoreConfig      `mapstructure:"store"`
	Watch       WatchConfig      `mapstructure:"watch"`
}

// LoadOptions points Load at an explicit file and the command's flags.
type LoadOptions struct {
	// File overrides the default <dir>/.lintreports.yaml lookup.
	File string
	// Flags are bound on top of the file and environment. Only flags the
	// user actually set take precedence.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"format":       "format",
	"strict":       "strict",
	"verbose":      "verbose",
	"workers":      "workers",
	"recursive":    "recursive",
	"rules-dir":    "rules_dir",
	"log-file":     "log_file",
	"metrics-file": "metrics_file",
	"backend":      "store.backend",
	"url":          "store.url",
	"path":         "store.path",
	"prefix":       "store.prefix",
	"debounce":     "watch.debounce",
}

// Load resolves the configuration for the lint target dir.
func Load(dir string, opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	source := strings.TrimSpace(opts.File)
	if source == "" {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			source = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", candidate, err)
		}
	}
	if source != "" {
		v.SetConfigFile(source)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", source, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("config: bind --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Dir = dir
	cfg.Source = source
	cfg.applyDefaults()
	cfg.normalize(dir)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default(dir string) *Config {
	cfg := &Config{Dir: dir}
	cfg.applyDefaults()
	cfg.normalize(dir)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("format", "text")
	v.SetDefault("strict", false)
	v.SetDefault("verbose", false)
	v.SetDefault("workers", 0)
	v.SetDefault("recursive", false)
	v.SetDefault("exclude", []string{})
	v.SetDefault("max_position", 46)
	v.SetDefault("rules_dir", DefaultRulesDir)
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("memory_keys.root", "research")
	v.SetDefault("memory_keys.min_segments", 3)
	v.SetDefault("memory_keys.similarity_threshold", 0.8)
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.url", "")
	v.SetDefault("store.path", ".lintreports/memory.json")
	v.SetDefault("store.prefix", "")
	v.SetDefault("watch.debounce", 300*time.Millisecond)
}

func (c *Config) applyDefaults() {
	if c.Format == "" {
		c.Format = "text"
	}
	if c.MaxPosition == 0 {
		c.MaxPosition = 46
	}
	if c.RulesDir == "" {
		c.RulesDir = DefaultRulesDir
	}
	if c.MemoryKeys.Root == "" {
		c.MemoryKeys.Root = "research"
	}
	if c.MemoryKeys.MinSegments == 0 {
		c.MemoryKeys.MinSegments = 3
	}
	if c.MemoryKeys.SimilarityThreshold == 0 {
		c.MemoryKeys.SimilarityThreshold = 0.8
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Backend == "file" && c.Store.Path == "" {
		c.Store.Path = ".lintreports/memory.json"
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 300 * time.Millisecond
	}
}

func (c *Config) normalize(base string) {
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.RulesDir = resolvePath(base, c.RulesDir)
	c.LogFile = resolvePath(base, c.LogFile)
	c.MetricsFile = resolvePath(base, c.MetricsFile)
	c.MemoryKeys.Root = strings.Trim(strings.TrimSpace(c.MemoryKeys.Root), "/")
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Store.URL = strings.TrimSpace(c.Store.URL)
	if c.Store.Backend == "file" || c.Store.Backend == "sqlite" {
		c.Store.Path = resolvePath(base, c.Store.Path)
	}
	excludes := c.Exclude[:0]
	for _, name := range c.Exclude {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			excludes = append(excludes, trimmed)
		}
	}
	c.Exclude = excludes
}

func (c *Config) validate() error {
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be 'text' or 'json', got %q", c.Format)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.MaxPosition < 1 {
		return fmt.Errorf("max_position must be >= 1")
	}
	if c.MemoryKeys.MinSegments < 1 {
		return fmt.Errorf("memory_keys.min_segments must be >= 1")
	}
	if t := c.MemoryKeys.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("memory_keys.similarity_threshold must be in (0, 1]")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	switch c.Store.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case "redis", "postgres":
		if c.Store.URL == "" {
			return fmt.Errorf("store.url is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, file, sqlite, redis, postgres")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

// Init writes the commented default configuration into dir. An existing file
// is left untouched and reported with created=false.
func Init(dir string) (path string, created bool, err error) {
	path = filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return path, false, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, false, fmt.Errorf("config: ensure %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return path, false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, true, nil
}
